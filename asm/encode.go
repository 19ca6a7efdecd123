package asm

import (
	"strings"

	"github.com/fluxpilot/pilot/vm"
)

func (a *Assembler) encodeDataWord(block *codeBlock, words []string) error {
	var numWord string
	switch {
	case words[0] == ".word":
		if len(words) != 2 {
			return ErrOperandMissing
		}
		numWord = words[1]
	default:
		if len(words) != 1 {
			return ErrOperandExtra
		}
		numWord = words[0]
	}
	v, err := parseUintLiteral(numWord)
	if err != nil {
		return err
	}
	if v > 0xffff {
		return ErrNumericOutOfRange
	}
	block.emit(vm.ProgramWord(v))
	return nil
}

func (a *Assembler) resolveFrameOffset(fn *functionDef, word string) (int, error) {
	if n, err := parseUintLiteral(word); err == nil {
		return int(n), nil
	}
	if off, ok := fn.frame[word]; ok {
		return off, nil
	}
	return 0, ErrUndeclaredFrameSlot
}

func (a *Assembler) resolveLocalIndex(fn *functionDef, word string) (int, error) {
	if n, err := parseUintLiteral(word); err == nil {
		return int(n), nil
	}
	if fn.machine != nil {
		if idx, ok := fn.machine.locals[word]; ok {
			return idx, nil
		}
	}
	return 0, ErrUndeclaredLocal
}

func (a *Assembler) resolveSharedAddr(word string) (int, error) {
	if n, err := parseUintLiteral(word); err == nil {
		return int(n), nil
	}
	if addr, ok := a.shared[word]; ok {
		return addr, nil
	}
	return 0, ErrUndeclaredShared
}

func (a *Assembler) resolveFunctionIndex(fn *functionDef, word string) (int, error) {
	if n, err := parseUintLiteral(word); err == nil {
		return int(n), nil
	}
	if fn.machine == nil {
		return 0, ErrUndeclaredFunction
	}
	if target, ok := fn.machine.functionByName[word]; ok {
		return target.index, nil
	}
	return 0, ErrUndeclaredFunction
}

func (a *Assembler) resolveSharedFuncIndex(word string) (int, error) {
	if n, err := parseUintLiteral(word); err == nil {
		return int(n), nil
	}
	if target, ok := a.sharedFuncByName[word]; ok {
		return target.index, nil
	}
	return 0, ErrUndeclaredSharedFunc
}

// noOperandOps are mnemonics that never take an operand (nor any sugar
// expansion).
var noOperandOps = map[vm.Op]bool{
	vm.OpPop: true, vm.OpAnd: true, vm.OpOr: true, vm.OpXor: true, vm.OpNot: true,
	vm.OpBAnd: true, vm.OpBOr: true, vm.OpBXor: true, vm.OpBNot: true,
	vm.OpMul: true, vm.OpDiv: true, vm.OpMod: true, vm.OpAdd: true, vm.OpSub: true,
	vm.OpLoadStatic: true, vm.OpExit: true, vm.OpDup: true, vm.OpSwap: true,
}

// branchOps are JUMP plus every BR* opcode, which all expand a single
// label operand to PUSH <label> + the bare opcode (§4.3 operand
// expansion).
var branchOps = map[vm.Op]bool{
	vm.OpJump: true, vm.OpBrLt: true, vm.OpBrLte: true, vm.OpBrGt: true, vm.OpBrGte: true, vm.OpBrEq: true,
}

func (a *Assembler) encodeInstruction(fn *functionDef, words []string) error {
	mnemonic := strings.ToUpper(words[0])
	op, ok := vm.LookupOp(mnemonic)
	if !ok {
		return ErrUnknownMnemonic
	}
	operands := words[1:]
	block := fn.block

	switch {
	case noOperandOps[op]:
		if len(operands) != 0 {
			return ErrOperandExtra
		}
		block.emit(vm.ProgramWord(op))

	case op == vm.OpPush:
		if len(operands) != 1 {
			return ErrOperandMissing
		}
		block.emit(vm.ProgramWord(op))
		if v, err := parseUintLiteral(operands[0]); err == nil {
			if v > 0xffff {
				return ErrNumericOutOfRange
			}
			block.emit(vm.ProgramWord(v))
		} else {
			// Not a number: treat as a same-block label reference (e.g.
			// pushing the address of a label to feed LOAD_STATIC).
			block.emitLabelRef(operands[0])
		}

	case op == vm.OpSLoad || op == vm.OpSStore:
		if len(operands) != 1 {
			return ErrOperandMissing
		}
		off, err := a.resolveFrameOffset(fn, operands[0])
		if err != nil {
			return err
		}
		block.emit(vm.ProgramWord(op))
		block.emit(vm.ProgramWord(off))

	case op == vm.OpLLoad || op == vm.OpLStore:
		if len(operands) != 1 {
			return ErrOperandMissing
		}
		idx, err := a.resolveLocalIndex(fn, operands[0])
		if err != nil {
			return err
		}
		block.emit(vm.ProgramWord(op))
		block.emit(vm.ProgramWord(idx))

	case op == vm.OpGLoad || op == vm.OpGStore:
		if len(operands) != 1 {
			return ErrOperandMissing
		}
		addr, err := a.resolveSharedAddr(operands[0])
		if err != nil {
			return err
		}
		block.emit(vm.ProgramWord(op))
		block.emit(vm.ProgramWord(addr))

	case op == vm.OpRet:
		if len(operands) != 1 {
			return ErrOperandMissing
		}
		count, err := parseUintLiteral(operands[0])
		if err != nil {
			return err
		}
		block.emit(vm.ProgramWord(op))
		block.emit(vm.ProgramWord(count))

	case op == vm.OpCall:
		switch len(operands) {
		case 0:
			block.emit(vm.ProgramWord(op))
		case 1:
			idx, err := a.resolveFunctionIndex(fn, operands[0])
			if err != nil {
				return err
			}
			block.emit(vm.ProgramWord(vm.OpPush))
			block.emit(vm.ProgramWord(idx))
			block.emit(vm.ProgramWord(op))
		default:
			return ErrOperandExtra
		}

	case op == vm.OpCallShared:
		switch len(operands) {
		case 0:
			block.emit(vm.ProgramWord(op))
		case 1:
			idx, err := a.resolveSharedFuncIndex(operands[0])
			if err != nil {
				return err
			}
			block.emit(vm.ProgramWord(vm.OpPush))
			block.emit(vm.ProgramWord(idx))
			block.emit(vm.ProgramWord(op))
		default:
			return ErrOperandExtra
		}

	case branchOps[op]:
		switch len(operands) {
		case 0:
			block.emit(vm.ProgramWord(op))
		case 1:
			block.emit(vm.ProgramWord(vm.OpPush))
			block.emitLabelRef(operands[0])
			block.emit(vm.ProgramWord(op))
		default:
			return ErrOperandExtra
		}

	default:
		return ErrUnknownMnemonic
	}

	return nil
}
