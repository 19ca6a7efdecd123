package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxpilot/pilot/vm"
)

func assemble(t *testing.T, source string) []vm.ProgramWord {
	t.Helper()
	a := &Assembler{}
	words, err := a.Parse(strings.NewReader(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return words
}

func runProgram(t *testing.T, words []vm.ProgramWord) (*vm.Image, *vm.Program) {
	t.Helper()
	img, err := vm.NewImage(words)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	p, err := vm.NewProgram(img, make([]vm.StackWord, img.GlobalsSize+vm.MinStack))
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	return img, p
}

func TestAssemblerRenderLoopContract(t *testing.T) {
	assert := assert.New(t)

	source := `
.machine blink locals 0 functions 3
  .func init index 0
    EXIT
  .end
  .func start_frame index 1
    EXIT
  .end
  .func get_color index 2
    PUSH 1
    PUSH 2
    PUSH 3
    EXIT
  .end
.end
`
	words := assemble(t, source)
	img, p := runProgram(t, words)

	assert.Equal(1, img.InstanceCount)
	assert.Equal(1, img.TypeCount)

	assert.NoError(p.Init(0))
	assert.NoError(p.StartFrame(0, 42))

	r, g, b, err := p.GetColor(0, 7)
	assert.NoError(err)
	assert.Equal(uint8(1), r)
	assert.Equal(uint8(2), g)
	assert.Equal(uint8(3), b)
}

func TestAssemblerCallSugarAndFrameConvention(t *testing.T) {
	assert := assert.New(t)

	source := `
.machine m locals 0 functions 5
  .func_decl add2 index 4
  .func caller index 3
    PUSH 5
    PUSH 7
    PUSH 2
    CALL add2
    EXIT
  .end
  .func add2 index 4
    SLOAD 0
    SLOAD 1
    ADD
    RET 1
  .end
.end
`
	words := assemble(t, source)
	_, p := runProgram(t, words)

	results, err := p.Call(0, 3, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{12}, results)
}

func TestAssemblerBranchLabelSugar(t *testing.T) {
	assert := assert.New(t)

	source := `
.machine m locals 0 functions 4
  .func skip index 3
    PUSH 0
    PUSH 0
    BREQ done
    PUSH 999
  done:
    PUSH 42
    EXIT
  .end
.end
`
	words := assemble(t, source)
	_, p := runProgram(t, words)

	results, err := p.Call(0, 3, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{42}, results)
}

func TestAssemblerDedupesStructurallyIdenticalMachines(t *testing.T) {
	assert := assert.New(t)

	source := `
.machine a locals 0 functions 1
  .func only index 0
    PUSH 7
    EXIT
  .end
.end
.machine b locals 0 functions 1
  .func only index 0
    PUSH 7
    EXIT
  .end
.end
`
	words := assemble(t, source)
	img, err := vm.NewImage(words)
	assert.NoError(err)

	assert.Equal(2, img.InstanceCount)
	assert.Equal(1, img.TypeCount)

	instA, err := img.Instance(0)
	assert.NoError(err)
	instB, err := img.Instance(1)
	assert.NoError(err)
	assert.Equal(instA.TypeID, instB.TypeID)
}

func TestAssemblerSharedFunctionCallShared(t *testing.T) {
	assert := assert.New(t)

	source := `
.shared g0 0
.shared_func helper index 0
  GLOAD 0
  PUSH 1
  ADD
  EXIT
.end
.machine m locals 0 functions 1
  .func entry index 0
    EXIT
  .end
.end
`
	words := assemble(t, source)
	_, p := runProgram(t, words)

	results, err := p.CallShared(0, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{1}, results)
}

func TestAssemblerFuncDeclForwardReference(t *testing.T) {
	assert := assert.New(t)

	source := `
.machine m locals 0 functions 2
  .func_decl callee index 1
  .func caller index 0
    PUSH 0
    CALL callee
    EXIT
  .end
  .func callee
    PUSH 9
    RET 1
  .end
.end
`
	words := assemble(t, source)
	_, p := runProgram(t, words)

	results, err := p.Call(0, 0, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{9}, results)
}

func TestAssemblerErrSyntax(t *testing.T) {
	assert := assert.New(t)

	table := []struct {
		prog string
		line int
	}{
		{".machine m\n.func f\nEXIT\n.end\n.end\n.end\n", 6},
		{".func f\nEXIT\n.end\n", 1},
		{".machine m\n.func f\nSLOAD missing\n.end\n.end\n", 3},
		{".machine m\n.func f\nCALL nowhere\n.end\n.end\n", 3},
		{".machine m\n.func f\nJUMP nowhere\n.end\n.end\n", 4},
		{".shared s 0\n.machine m\n.end\n.shared t 1\n", 4},
		{".machine m\n.func f\nNOTAREALOP\n.end\n.end\n", 3},
		{".machine m\n.func f\nEXIT extra\n.end\n.end\n", 3},
		{".machine m\n.func f\nlbl:\nlbl:\nEXIT\n.end\n.end\n", 4},
	}

	for _, entry := range table {
		a := &Assembler{}
		_, err := a.Parse(strings.NewReader(entry.prog))
		assert.Error(err, entry.prog)
		var se *ErrSyntax
		if assert.True(errors.As(err, &se), entry.prog) {
			assert.Equal(entry.line, se.LineNo, entry.prog)
		}
	}
}

func TestAssemblerEquateAndParenExpr(t *testing.T) {
	assert := assert.New(t)

	source := `
.equ BASE 10
.machine m locals 0 functions 1
  .func f index 0
    PUSH $(BASE + 2)
    EXIT
  .end
.end
`
	words := assemble(t, source)
	_, p := runProgram(t, words)

	results, err := p.Call(0, 0, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{12}, results)
}

func TestAssemblerRejectsDuplicateFunctionIndex(t *testing.T) {
	source := `
.machine m locals 0 functions 2
  .func foo index 0
    PUSH 1
    RET 1
  .end
  .func bar index 0
    PUSH 2
    RET 1
  .end
.end
`
	a := &Assembler{}
	_, err := a.Parse(strings.NewReader(source))
	assert.ErrorIs(t, err, ErrDuplicateFunctionIndex)
}

func TestAssemblerRejectsFunctionCountMismatch(t *testing.T) {
	source := `
.machine m locals 0 functions 2
  .func only index 0
    EXIT
  .end
.end
`
	a := &Assembler{}
	_, err := a.Parse(strings.NewReader(source))
	assert.ErrorIs(t, err, ErrFunctionCountMismatch)
}
