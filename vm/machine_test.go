package vm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// buildImage constructs an *Image directly from a word slice, the way
// these tests exercise internal layout without going through the
// assembler package.
func buildImage(t *testing.T, words []ProgramWord) *Image {
	t.Helper()
	img, err := NewImage(words)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

func TestRenderLoopContract(t *testing.T) {
	assert := assert.New(t)

	words := []ProgramWord{
		ProgramVersion, // 0 version
		1,              // 1 instance count
		0,              // 2 globals size
		0,              // 3 shared function count
		1,              // 4 type count
		8,              // 5 instance table offset
		10,             // 6 type table offset
		12,             // 7 shared function table offset
		0,              // 8 instance0 type id
		0,              // 9 instance0 globals base
		3,              // 10 type0 function count
		12,             // 11 type0 function table offset
		15,             // 12 init pc
		16,             // 13 start_frame pc
		17,             // 14 get_color pc

		// init: EXIT
		ProgramWord(OpExit), // 15

		// start_frame: EXIT
		ProgramWord(OpExit), // 16

		// get_color: push r, g, b (top to bottom: b, g, r), EXIT
		ProgramWord(OpPush), 1, // 17,18
		ProgramWord(OpPush), 2, // 19,20
		ProgramWord(OpPush), 3, // 21,22
		ProgramWord(OpExit),    // 23
	}

	img := buildImage(t, words)
	p, err := NewProgram(img, make([]StackWord, MinStack))
	assert.NoError(err)

	assert.NoError(p.Init(0))
	assert.NoError(p.StartFrame(0, 42))

	r, g, b, err := p.GetColor(0, 7)
	assert.NoError(err)
	assert.Equal(uint8(1), r)
	assert.Equal(uint8(2), g)
	assert.Equal(uint8(3), b)
}

func TestCallAndReturnFrameConvention(t *testing.T) {
	assert := assert.New(t)

	words := []ProgramWord{
		ProgramVersion, // 0
		1,              // 1 instance count
		0,              // 2 globals size
		0,              // 3 shared function count
		1,              // 4 type count
		8,              // 5 instance table offset
		10,             // 6 type table offset
		12,             // 7 shared function table offset
		0,              // 8 instance0 type id
		0,              // 9 instance0 globals base
		2,              // 10 type0 function count
		12,             // 11 type0 function table offset
		14,             // 12 function 0 (A) pc
		22,             // 13 function 1 (B) pc

		// A: push 5, push arg_count=1, push func_index=1, CALL, EXIT
		ProgramWord(OpPush), 5, // 14,15
		ProgramWord(OpPush), 1, // 16,17
		ProgramWord(OpPush), 1, // 18,19
		ProgramWord(OpCall),    // 20
		ProgramWord(OpExit),    // 21

		// B: SLOAD 0, PUSH 10, ADD, RET 1
		ProgramWord(OpSLoad), 0, // 22,23
		ProgramWord(OpPush), 10, // 24,25
		ProgramWord(OpAdd),      // 26
		ProgramWord(OpRet), 1,   // 27,28
	}

	img := buildImage(t, words)
	p, err := NewProgram(img, make([]StackWord, MinStack))
	assert.NoError(err)

	results, err := p.Call(0, 0, nil)
	assert.NoError(err)
	assert.Equal([]StackWord{15}, results)
}

func TestInitWithGlobals(t *testing.T) {
	assert := assert.New(t)

	// init: PUSH 99, GSTORE 0, EXIT — stores 99 into globals[0], leaves
	// nothing on the stack.
	words := []ProgramWord{
		ProgramVersion,
		1,  // instance count
		4,  // globals size
		0,  // shared function count
		1,  // type count
		8,  // instance table offset
		10, // type table offset
		12, // shared function table offset
		0,  // instance0 type id
		0,  // instance0 globals base
		3,  // function count
		12, // function table offset
		15, // init pc
		19, // start_frame pc (unused EXIT stub)
		20, // get_color pc (unused EXIT stub)

		ProgramWord(OpPush), 99, // 15,16
		ProgramWord(OpGStore), 0, // 17,18
		ProgramWord(OpExit),      // 19 (also the start_frame stub)
		ProgramWord(OpExit),      // 20
	}

	img := buildImage(t, words)
	p, err := NewProgram(img, make([]StackWord, 4+MinStack))
	assert.NoError(err)

	assert.NoError(p.Init(0))
	assert.Equal(StackWord(99), p.Memory[0])
}

func divModByZeroImage(t *testing.T, op Op) *Image {
	// init: PUSH 10, PUSH 0, <op>, EXIT
	words := []ProgramWord{
		ProgramVersion,
		1,  // instance count
		0,  // globals size
		0,  // shared function count
		1,  // type count
		8,  // instance table offset
		10, // type table offset
		12, // shared function table offset
		0,  // instance0 type id
		0,  // instance0 globals base
		3,  // function count
		12, // function table offset
		15, // init pc
		21, // start_frame pc (unused EXIT stub)
		22, // get_color pc (unused EXIT stub)

		ProgramWord(OpPush), 10, // 15,16
		ProgramWord(OpPush), 0, // 17,18
		ProgramWord(op), // 19
		ProgramWord(OpExit), // 20
		ProgramWord(OpExit), // 21
		ProgramWord(OpExit), // 22
	}
	return buildImage(t, words)
}

func TestDivByZeroYieldsInvalidOp(t *testing.T) {
	assert := assert.New(t)

	img := divModByZeroImage(t, OpDiv)
	p, err := NewProgram(img, make([]StackWord, MinStack))
	assert.NoError(err)

	err = p.Init(0)
	assert.Error(err)
	assert.True(errors.Is(err, ErrInvalidOp(16)))
}

func TestModByZeroYieldsInvalidOp(t *testing.T) {
	assert := assert.New(t)

	img := divModByZeroImage(t, OpMod)
	p, err := NewProgram(img, make([]StackWord, MinStack))
	assert.NoError(err)

	err = p.Init(0)
	assert.Error(err)
	assert.True(errors.Is(err, ErrInvalidOp(17)))
}
