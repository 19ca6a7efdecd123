package asm

import "strconv"

func parseUintLiteral(word string) (uint64, error) {
	v, err := strconv.ParseInt(word, 0, 64)
	if err != nil || v < 0 {
		return 0, ErrNumericOutOfRange
	}
	return uint64(v), nil
}

func (a *Assembler) dispatch(words []string, lineno int) error {
	switch words[0] {
	case ".machine":
		return a.directiveMachine(words)
	case ".func":
		return a.directiveFunc(words, lineno, false)
	case ".func_decl":
		return a.directiveFunc(words, lineno, true)
	case ".data":
		return a.directiveData(words, lineno, false)
	case ".shared":
		return a.directiveShared(words)
	case ".shared_func":
		return a.directiveSharedFunc(words, lineno, false)
	case ".shared_func_decl":
		return a.directiveSharedFunc(words, lineno, true)
	case ".shared_data":
		return a.directiveData(words, lineno, true)
	case ".local":
		return a.directiveLocal(words)
	case ".frame":
		return a.directiveFrame(words)
	case ".end":
		return a.directiveEnd()
	default:
		return a.instructionOrDataWord(words)
	}
}

func (a *Assembler) anyBlockOpen() bool {
	return a.curFunc != nil || a.curData != nil || a.curShFunc != nil || a.curShData != nil
}

func (a *Assembler) directiveMachine(words []string) error {
	if a.curMachine != nil || a.anyBlockOpen() {
		return ErrUnclosedBlock
	}
	if len(words) < 2 {
		return ErrMachineNameRequired
	}
	name := words[1]
	if _, exists := a.machineByName[name]; exists {
		return ErrDuplicateMachineName
	}
	m := &machineDef{
		name:           name,
		locals:         map[string]int{},
		functionByName: map[string]*functionDef{},
		dataByName:     map[string]*dataBlockDef{},
	}
	rest := words[2:]
	for i := 0; i+1 < len(rest); i += 2 {
		key, val := rest[i], rest[i+1]
		n, err := parseUintLiteral(val)
		if err != nil {
			return err
		}
		switch key {
		case "locals", "globals":
			m.localsCount = int(n)
		case "functions":
			m.functionsCount = int(n)
		default:
			return ErrUnknownDirective
		}
	}
	a.machines = append(a.machines, m)
	a.machineByName[name] = m
	a.curMachine = m
	a.sawMachine = true
	return nil
}

func (a *Assembler) directiveFunc(words []string, lineno int, declOnly bool) error {
	if a.curMachine == nil {
		return ErrInstructionOutsideFunc
	}
	if a.curFunc != nil || a.curData != nil {
		return ErrUnclosedBlock
	}
	if len(words) < 2 {
		return ErrOperandMissing
	}
	name := words[1]
	explicitIndex := -1
	if len(words) >= 4 && words[2] == "index" {
		n, err := parseUintLiteral(words[3])
		if err != nil {
			return err
		}
		explicitIndex = int(n)
	}

	if fn, exists := a.curMachine.functionByName[name]; exists {
		if declOnly || fn.hasBody {
			return ErrDuplicateBodyForDecl
		}
		fn.decl = false
		fn.block = newCodeBlock(name, lineno)
		a.curFunc = fn
		return nil
	}

	idx := explicitIndex
	if idx < 0 {
		idx = len(a.curMachine.functions)
	}
	for _, other := range a.curMachine.functions {
		if other.index == idx {
			return ErrDuplicateFunctionIndex
		}
	}
	fn := &functionDef{name: name, index: idx, decl: declOnly, frame: map[string]int{}, machine: a.curMachine}
	if !declOnly {
		fn.block = newCodeBlock(name, lineno)
	}
	a.curMachine.functions = append(a.curMachine.functions, fn)
	a.curMachine.functionByName[name] = fn
	if !declOnly {
		a.curFunc = fn
	}
	return nil
}

func (a *Assembler) directiveSharedFunc(words []string, lineno int, declOnly bool) error {
	if a.curMachine != nil || a.anyBlockOpen() {
		return ErrUnclosedBlock
	}
	if len(words) < 2 {
		return ErrOperandMissing
	}
	name := words[1]
	explicitIndex := -1
	if len(words) >= 4 && words[2] == "index" {
		n, err := parseUintLiteral(words[3])
		if err != nil {
			return err
		}
		explicitIndex = int(n)
	}

	if fn, exists := a.sharedFuncByName[name]; exists {
		if declOnly || fn.hasBody {
			return ErrDuplicateBodyForDecl
		}
		fn.decl = false
		fn.block = newCodeBlock(name, lineno)
		a.curShFunc = fn
		return nil
	}

	idx := explicitIndex
	if idx < 0 {
		idx = len(a.sharedFuncs)
	}
	for _, other := range a.sharedFuncs {
		if other.index == idx {
			return ErrDuplicateFunctionIndex
		}
	}
	fn := &functionDef{name: name, index: idx, decl: declOnly, frame: map[string]int{}}
	if !declOnly {
		fn.block = newCodeBlock(name, lineno)
	}
	a.sharedFuncs = append(a.sharedFuncs, fn)
	a.sharedFuncByName[name] = fn
	if !declOnly {
		a.curShFunc = fn
	}
	return nil
}

func (a *Assembler) directiveData(words []string, lineno int, sharedKeyword bool) error {
	if a.curFunc != nil || a.curData != nil || a.curShFunc != nil || a.curShData != nil {
		return ErrUnclosedBlock
	}
	if len(words) < 2 {
		return ErrOperandMissing
	}
	name := words[1]

	if sharedKeyword || a.curMachine == nil {
		if _, exists := a.sharedDataByName[name]; exists {
			return ErrDuplicateDataName
		}
		db := &dataBlockDef{name: name, block: newCodeBlock(name, lineno)}
		a.sharedData = append(a.sharedData, db)
		a.sharedDataByName[name] = db
		a.curShData = db
		return nil
	}

	if _, exists := a.curMachine.dataByName[name]; exists {
		return ErrDuplicateDataName
	}
	db := &dataBlockDef{name: name, block: newCodeBlock(name, lineno)}
	a.curMachine.data = append(a.curMachine.data, db)
	a.curMachine.dataByName[name] = db
	a.curData = db
	return nil
}

func (a *Assembler) directiveShared(words []string) error {
	if a.sawMachine {
		return ErrSharedAfterMachine
	}
	if a.curMachine != nil || a.anyBlockOpen() {
		return ErrUnclosedBlock
	}
	if len(words) != 3 {
		return ErrOperandMissing
	}
	name := words[1]
	if _, exists := a.shared[name]; exists {
		return ErrDuplicateSharedName
	}
	idx, err := parseUintLiteral(words[2])
	if err != nil {
		return err
	}
	a.shared[name] = int(idx)
	if int(idx)+1 > a.sharedMax {
		a.sharedMax = int(idx) + 1
	}
	return nil
}

func (a *Assembler) directiveLocal(words []string) error {
	if a.curMachine == nil || a.curFunc != nil || a.curData != nil {
		return ErrInstructionOutsideFunc
	}
	if len(words) != 3 {
		return ErrOperandMissing
	}
	name := words[1]
	if _, exists := a.curMachine.locals[name]; exists {
		return ErrDuplicateLocalName
	}
	idx, err := parseUintLiteral(words[2])
	if err != nil {
		return err
	}
	a.curMachine.locals[name] = int(idx)
	return nil
}

func (a *Assembler) activeFunc() *functionDef {
	if a.curFunc != nil {
		return a.curFunc
	}
	if a.curShFunc != nil {
		return a.curShFunc
	}
	return nil
}

func (a *Assembler) directiveFrame(words []string) error {
	fn := a.activeFunc()
	if fn == nil {
		return ErrInstructionOutsideFunc
	}
	if len(words) != 3 {
		return ErrOperandMissing
	}
	name := words[1]
	if _, exists := fn.frame[name]; exists {
		return ErrDuplicateFrameName
	}
	off, err := parseUintLiteral(words[2])
	if err != nil {
		return err
	}
	fn.frame[name] = int(off)
	return nil
}

func (a *Assembler) directiveEnd() error {
	switch {
	case a.curFunc != nil:
		if err := a.curFunc.block.resolve(); err != nil {
			return err
		}
		a.curFunc.hasBody = true
		a.curFunc = nil
		return nil
	case a.curData != nil:
		if err := a.curData.block.resolve(); err != nil {
			return err
		}
		a.curData = nil
		return nil
	case a.curShFunc != nil:
		if err := a.curShFunc.block.resolve(); err != nil {
			return err
		}
		a.curShFunc.hasBody = true
		a.curShFunc = nil
		return nil
	case a.curShData != nil:
		if err := a.curShData.block.resolve(); err != nil {
			return err
		}
		a.curShData = nil
		return nil
	case a.curMachine != nil:
		a.curMachine = nil
		return nil
	default:
		return ErrNoActiveBlockToClose
	}
}

func isNumericLiteral(word string) bool {
	_, err := parseUintLiteral(word)
	return err == nil
}

func (a *Assembler) instructionOrDataWord(words []string) error {
	switch {
	case a.curData != nil:
		return a.encodeDataWord(a.curData.block, words)
	case a.curShData != nil:
		return a.encodeDataWord(a.curShData.block, words)
	case a.curFunc != nil:
		return a.encodeInstruction(a.curFunc, words)
	case a.curShFunc != nil:
		return a.encodeInstruction(a.curShFunc, words)
	default:
		if words[0] == ".word" || isNumericLiteral(words[0]) {
			return ErrDataWordOutsideDataBlk
		}
		return ErrInstructionOutsideFunc
	}
}
