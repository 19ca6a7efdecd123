package vm

// Fixed function-table slots looked up by Init, StartFrame and GetColor
// (§4.2). A type whose function table is shorter than a slot fails that
// entry point with ErrMachineIndexOutOfRange; slots beyond index 2 are
// ordinary functions, reachable by CALL from the type's own code or from
// the host through Call.
const (
	FuncInit       = 0
	FuncStartFrame = 1
	FuncGetColor   = 2
)

// invoke runs a top-level entry point: it pushes args onto the operand
// stack, starts a fresh call chain rooted at typeIdx with no caller frame
// (depth 0), and on success returns whatever the function body left on the
// stack above the argument slots; the arguments themselves are never part
// of the result. The stack is restored to its pre-call depth
// in every case, successful or not, so the scratch operand stack never
// grows across render-loop iterations (§5).
func (p *Program) invoke(entry ProgramWord, mlp StackWord, typeIdx int, args []StackWord) ([]StackWord, error) {
	baseSP := p.sp
	fp := StackWord(baseSP)

	for _, a := range args {
		if err := p.push(a); err != nil {
			p.sp = baseSP
			return nil, err
		}
	}
	argTop := p.sp

	if err := p.run(entry, fp, mlp, typeIdx); err != nil {
		p.sp = baseSP
		return nil, err
	}

	resultStart := argTop
	if p.sp < resultStart {
		resultStart = p.sp
	}
	results := make([]StackWord, p.sp-resultStart)
	copy(results, p.Memory[resultStart:p.sp])
	p.sp = baseSP
	return results, nil
}

func (p *Program) entryPoint(instanceIdx, funcIdx int) (entry ProgramWord, mlp StackWord, typeIdx int, err error) {
	inst, err := p.Image.Instance(instanceIdx)
	if err != nil {
		return 0, 0, 0, err
	}
	entry, err = p.Image.TypeFunctionEntry(inst.TypeID, funcIdx)
	if err != nil {
		return 0, 0, 0, err
	}
	return entry, StackWord(inst.GlobalsBase), inst.TypeID, nil
}

// Init invokes an instance's init function with no arguments. The stack
// must be empty on EXIT; any residual value is a protocol violation
// (§4.2).
func (p *Program) Init(instanceIdx int) error {
	entry, mlp, typeIdx, err := p.entryPoint(instanceIdx, FuncInit)
	if err != nil {
		return err
	}
	results, err := p.invoke(entry, mlp, typeIdx, nil)
	if err != nil {
		return err
	}
	if len(results) != 0 {
		return ErrInitStackNotEmpty
	}
	return nil
}

// StartFrame invokes an instance's start_frame function with the current
// render tick as its sole argument (§4.2).
func (p *Program) StartFrame(instanceIdx int, tick StackWord) error {
	entry, mlp, typeIdx, err := p.entryPoint(instanceIdx, FuncStartFrame)
	if err != nil {
		return err
	}
	_, err = p.invoke(entry, mlp, typeIdx, []StackWord{tick})
	return err
}

// GetColor invokes an instance's get_color function with an LED index and
// decodes the three color channels the function must leave on top of the
// stack, top to bottom: blue, green, red (§4.2).
func (p *Program) GetColor(instanceIdx int, ledIndex StackWord) (r, g, b uint8, err error) {
	entry, mlp, typeIdx, err := p.entryPoint(instanceIdx, FuncGetColor)
	if err != nil {
		return 0, 0, 0, err
	}
	results, err := p.invoke(entry, mlp, typeIdx, []StackWord{ledIndex})
	if err != nil {
		return 0, 0, 0, err
	}
	if len(results) != 3 {
		return 0, 0, 0, ErrColorStackShape
	}
	bw, gw, rw := results[2], results[1], results[0]
	if bw > 0xff || gw > 0xff || rw > 0xff {
		return 0, 0, 0, ErrColorOutOfRange
	}
	return uint8(rw), uint8(gw), uint8(bw), nil
}

// Call invokes an arbitrary function on an instance's type with the given
// arguments, returning whatever the function leaves on the stack above its
// arguments (§4.2, generic host call).
func (p *Program) Call(instanceIdx, funcIdx int, args []StackWord) ([]StackWord, error) {
	entry, mlp, typeIdx, err := p.entryPoint(instanceIdx, funcIdx)
	if err != nil {
		return nil, err
	}
	return p.invoke(entry, mlp, typeIdx, args)
}

// CallShared invokes a shared function using instance 0's machine-locals
// pointer (§4.2, §9: call_shared requires at least one instance to exist).
func (p *Program) CallShared(sharedIdx int, args []StackWord) ([]StackWord, error) {
	if p.Image.InstanceCount == 0 {
		return nil, ErrMachineIndexOutOfRange
	}
	inst, err := p.Image.Instance(0)
	if err != nil {
		return nil, err
	}
	entry, err := p.Image.SharedFunctionEntry(sharedIdx)
	if err != nil {
		return nil, err
	}
	return p.invoke(entry, StackWord(inst.GlobalsBase), inst.TypeID, args)
}
