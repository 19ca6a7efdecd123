package vm

import "log"

// MinStack is the minimum number of StackWord cells the caller-supplied
// memory buffer must have free for the operand stack, after the globals
// region is carved out (§3).
const MinStack = 32

// DefaultFuel bounds the number of instructions a single top-level
// invocation (init/start_frame/get_color/call/call_shared) may execute
// before it is aborted with ErrFuelExhausted. The VM has no preemption
// point inside a function body (§5), so this is the implementer-supplied
// cap that keeps a single `run` bounded in time.
const DefaultFuel = 1 << 16

// Program is the borrowed program image plus the mutable runtime memory it
// executes over. It is created once by the host at load time and destroyed
// on reload (§3 Entities).
type Program struct {
	Image  *Image
	Memory []StackWord // globals [0, Image.GlobalsSize), stack [Image.GlobalsSize, len(Memory))

	// Fuel bounds instructions executed per top-level invocation. Zero
	// means DefaultFuel.
	Fuel int

	// Verbose enables per-instruction logging, in the teacher's
	// Cpu.Verbose / Execute-logs-each-decoded-instruction style.
	Verbose bool

	sp int // next free stack slot, always >= Image.GlobalsSize
}

// NewProgram validates the memory buffer against the image's declared
// globals size and constructs a Program ready to run. No program is
// activated on error (§7 class 1).
func NewProgram(img *Image, memory []StackWord) (*Program, error) {
	if img.GlobalsSize > len(memory) {
		return nil, ErrGlobalsBufferTooSmall
	}
	if len(memory)-img.GlobalsSize < MinStack {
		return nil, ErrMemoryBufferTooSmall
	}

	p := &Program{
		Image:  img,
		Memory: memory,
		sp:     img.GlobalsSize,
	}
	return p, nil
}

// Reset empties the operand stack. Globals are left untouched; a full
// reset of program state is done by constructing a new Program.
func (p *Program) Reset() {
	p.sp = p.Image.GlobalsSize
}

func (p *Program) fuel() int {
	if p.Fuel > 0 {
		return p.Fuel
	}
	return DefaultFuel
}

// toProgramAddr converts a StackWord to a program-image word address,
// rejecting values that cannot be represented as a ProgramWord (§4.1
// "Address/index conversions").
func toProgramAddr(v StackWord) (ProgramWord, error) {
	if v > StackWord(^ProgramWord(0)) {
		return 0, ErrStackValueTooLargeForProgramWord
	}
	return ProgramWord(v), nil
}

// toIndex converts a StackWord used as a memory index into an int,
// rejecting values that cannot fit (always representable on the int sizes
// Go actually runs on, but checked for the invariant's sake).
func toIndex(v StackWord) (int, error) {
	const maxInt = int(^uint(0) >> 1)
	if uint64(v) > uint64(maxInt) {
		return 0, ErrStackValueTooLargeForUsize
	}
	return int(v), nil
}

// push appends a value to the operand stack, checking for overflow against
// the memory buffer's capacity.
func (p *Program) push(v StackWord) error {
	if p.sp >= len(p.Memory) {
		return ErrStackOverflow
	}
	p.Memory[p.sp] = v
	p.sp++
	return nil
}

// pop removes and returns the top of the operand stack.
func (p *Program) pop() (StackWord, error) {
	if p.sp <= p.Image.GlobalsSize {
		return 0, ErrPopOnEmptyStack
	}
	p.sp--
	return p.Memory[p.sp], nil
}

// pop2 pops rhs then lhs, returning them in push order (lhs, rhs).
func (p *Program) pop2() (lhs, rhs StackWord, err error) {
	rhs, err = p.pop()
	if err != nil {
		return
	}
	lhs, err = p.pop()
	return
}

func boolWord(b bool) StackWord {
	if b {
		return 1
	}
	return 0
}

// run is the flat interpreter loop shared by every host entry point. It
// executes starting at pc with the given machine-locals pointer and type
// (used to resolve CALL within this call chain, §4.1) until EXIT is
// reached at the outermost frame (depth 0), then returns.
//
// fp is the frame pointer for the outermost (entry) frame: for the host
// render-loop entry points this is the stack slot of the first pushed
// argument (or sp, if there are none); it is not a "real" call frame, so
// RET must never execute at depth 0 (§4.1).
func (p *Program) run(pc ProgramWord, fp, mlp StackWord, typeIdx int) error {
	depth := 0
	budget := p.fuel()

	for {
		budget--
		if budget <= 0 {
			return &ErrRuntime{PC: pc, Err: ErrFuelExhausted}
		}

		word, err := p.Image.Word(int(pc))
		if err != nil {
			return &ErrRuntime{PC: pc, Err: err}
		}
		op := Op(word)
		if !op.Valid() {
			return &ErrRuntime{PC: pc, Err: ErrInvalidOp(word)}
		}
		if p.Verbose {
			log.Printf("vm: pc %#04x: %v", pc, op)
		}

		nextPC := pc + 1

		switch op {
		case OpPop:
			if _, err := p.pop(); err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

		case OpPush:
			imm, err := p.Image.Word(int(nextPC))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC++
			if err := p.push(StackWord(imm)); err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

		case OpDup:
			if p.sp <= p.Image.GlobalsSize {
				return &ErrRuntime{PC: pc, Err: ErrStackUnderflow}
			}
			if err := p.push(p.Memory[p.sp-1]); err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

		case OpSwap:
			lhs, rhs, err := p.pop2()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			_ = p.push(rhs)
			_ = p.push(lhs)

		case OpAnd, OpOr, OpXor:
			lhs, rhs, err := p.pop2()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			var result bool
			switch op {
			case OpAnd:
				result = lhs != 0 && rhs != 0
			case OpOr:
				result = lhs != 0 || rhs != 0
			case OpXor:
				result = (lhs != 0) != (rhs != 0)
			}
			_ = p.push(boolWord(result))

		case OpNot:
			v, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			_ = p.push(boolWord(v == 0))

		case OpBAnd, OpBOr, OpBXor:
			lhs, rhs, err := p.pop2()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			var result StackWord
			switch op {
			case OpBAnd:
				result = lhs & rhs
			case OpBOr:
				result = lhs | rhs
			case OpBXor:
				result = lhs ^ rhs
			}
			_ = p.push(result)

		case OpBNot:
			v, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			_ = p.push(^v)

		case OpMul, OpAdd, OpSub:
			lhs, rhs, err := p.pop2()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			var result StackWord
			switch op {
			case OpMul:
				result = lhs * rhs
			case OpAdd:
				result = lhs + rhs
			case OpSub:
				result = lhs - rhs
			}
			_ = p.push(result)

		case OpDiv, OpMod:
			lhs, rhs, err := p.pop2()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			if rhs == 0 {
				return &ErrRuntime{PC: pc, Err: ErrInvalidOp(word)}
			}
			if op == OpDiv {
				_ = p.push(lhs / rhs)
			} else {
				_ = p.push(lhs % rhs)
			}

		case OpBrLt, OpBrLte, OpBrGt, OpBrGte, OpBrEq:
			// Pop order is target, then lhs, then rhs (§4.1) — distinct
			// from the arithmetic ops' push-order-preserving pop2.
			target, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			lhs, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			rhs, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			var branch bool
			switch op {
			case OpBrLt:
				branch = lhs < rhs
			case OpBrLte:
				branch = lhs <= rhs
			case OpBrGt:
				branch = lhs > rhs
			case OpBrGte:
				branch = lhs >= rhs
			case OpBrEq:
				branch = lhs == rhs
			}
			if branch {
				addr, err := toProgramAddr(target)
				if err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
				nextPC = addr
			}

		case OpJump:
			target, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			addr, err := toProgramAddr(target)
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC = addr

		case OpSLoad, OpSStore:
			off, err := p.Image.Word(int(nextPC))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC++
			idx, err := toIndex(fp + StackWord(off))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			if idx < p.Image.GlobalsSize || idx >= p.sp {
				return &ErrRuntime{PC: pc, Err: ErrStackUnderflow}
			}
			if op == OpSLoad {
				if err := p.push(p.Memory[idx]); err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
			} else {
				v, err := p.pop()
				if err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
				p.Memory[idx] = v
			}

		case OpLLoad, OpLStore:
			off, err := p.Image.Word(int(nextPC))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC++
			idx, err := toIndex(mlp + StackWord(off))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			if idx < 0 || idx >= p.Image.GlobalsSize {
				return &ErrRuntime{PC: pc, Err: ErrOutOfBoundsGlobalsAccess}
			}
			if op == OpLLoad {
				if err := p.push(p.Memory[idx]); err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
			} else {
				v, err := p.pop()
				if err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
				p.Memory[idx] = v
			}

		case OpGLoad, OpGStore:
			addr, err := p.Image.Word(int(nextPC))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC++
			idx := int(addr)
			if idx < 0 || idx >= p.Image.GlobalsSize {
				return &ErrRuntime{PC: pc, Err: ErrOutOfBoundsGlobalsAccess}
			}
			if op == OpGLoad {
				if err := p.push(p.Memory[idx]); err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
			} else {
				v, err := p.pop()
				if err != nil {
					return &ErrRuntime{PC: pc, Err: err}
				}
				p.Memory[idx] = v
			}

		case OpLoadStatic:
			addr, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			idx, err := toIndex(addr)
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			word, err := p.Image.Word(idx)
			if err != nil {
				return &ErrRuntime{PC: pc, Err: ErrOutOfBoundsStaticRead}
			}
			if err := p.push(StackWord(word)); err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

		case OpExit:
			if depth == 0 {
				return nil
			}
			return &ErrRuntime{PC: pc, Err: ErrExitAtNestedFrame}

		case OpCall, OpCallShared:
			funcIndex, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			argCount, err := p.pop()
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			argCountIdx, err := toIndex(argCount)
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			if argCountIdx > p.sp-p.Image.GlobalsSize {
				return &ErrRuntime{PC: pc, Err: ErrTooFewArguments}
			}
			argStart := p.sp - argCountIdx

			funcIndexIdx, err := toIndex(funcIndex)
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

			var entry ProgramWord
			if op == OpCall {
				entry, err = p.Image.TypeFunctionEntry(typeIdx, funcIndexIdx)
			} else {
				entry, err = p.Image.SharedFunctionEntry(funcIndexIdx)
			}
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

			if err := p.insertFrameHeader(argStart, nextPC, fp, mlp); err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}

			fp = StackWord(argStart + 3)
			depth++
			nextPC = entry
			// mlp is unchanged for CALL, inherited (also unchanged) for
			// CALL_SHARED (§4.1 step 4).

		case OpRet:
			count, err := p.Image.Word(int(nextPC))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			nextPC++
			if depth == 0 {
				return &ErrRuntime{PC: pc, Err: ErrReturnAtOutermostFrame}
			}
			returnPC, savedFP, savedMLP, err := p.teardownFrame(fp, int(count))
			if err != nil {
				return &ErrRuntime{PC: pc, Err: err}
			}
			fp = savedFP
			mlp = savedMLP
			depth--
			nextPC = returnPC

		default:
			return &ErrRuntime{PC: pc, Err: ErrInvalidOp(word)}
		}

		pc = nextPC
	}
}

// insertFrameHeader shifts the arguments at argStart up by three slots and
// writes {returnPC, savedFP, savedMLP} into the freed space, implementing
// calling-convention step 2 (§4.1).
func (p *Program) insertFrameHeader(argStart int, returnPC ProgramWord, savedFP, savedMLP StackWord) error {
	if p.sp+3 > len(p.Memory) {
		return ErrStackOverflow
	}
	copy(p.Memory[argStart+3:p.sp+3], p.Memory[argStart:p.sp])
	p.Memory[argStart] = StackWord(returnPC)
	p.Memory[argStart+1] = savedFP
	p.Memory[argStart+2] = savedMLP
	p.sp += 3
	return nil
}

// teardownFrame implements RET's frame teardown (§4.1): copy the top
// `count` values down over the frame header and body, then restore fp/mlp
// and the return PC.
func (p *Program) teardownFrame(fp StackWord, count int) (returnPC ProgramWord, savedFP, savedMLP StackWord, err error) {
	fpIdx, err := toIndex(fp)
	if err != nil {
		return 0, 0, 0, err
	}
	headerStart := fpIdx - 3
	if headerStart < p.Image.GlobalsSize {
		return 0, 0, 0, ErrStackUnderflow
	}
	if count < 0 || p.sp-count < fpIdx {
		return 0, 0, 0, ErrStackUnderflow
	}

	returnPC = ProgramWord(p.Memory[headerStart])
	savedFP = p.Memory[headerStart+1]
	savedMLP = p.Memory[headerStart+2]

	valuesStart := p.sp - count
	copy(p.Memory[headerStart:headerStart+count], p.Memory[valuesStart:p.sp])
	p.sp = headerStart + count

	return returnPC, savedFP, savedMLP, nil
}
