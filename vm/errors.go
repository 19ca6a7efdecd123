package vm

import (
	"errors"

	"github.com/fluxpilot/pilot/internal/translate"
)

var f = translate.From

// Image validation errors (§4.1, §7 class 1). Returned synchronously from
// NewImage (version, truncation) or NewProgram (buffer sizes); no program
// is activated.
var (
	ErrInvalidProgramVersion = errors.New(f("invalid program version"))
	ErrGlobalsBufferTooSmall = errors.New(f("globals buffer too small"))
	ErrMemoryBufferTooSmall  = errors.New(f("memory buffer too small"))
	ErrImageTruncated        = errors.New(f("program image truncated"))
)

// Runtime errors (§4.1, §7 class 2). Abort the current run; the host
// discards the result for that invocation and continues with the next
// frame cycle.
var (
	ErrPopOnEmptyStack                  = errors.New(f("pop on empty stack"))
	ErrStackUnderflow                   = errors.New(f("stack underflow"))
	ErrStackOverflow                    = errors.New(f("stack overflow"))
	ErrTooFewArguments                  = errors.New(f("too few arguments"))
	ErrOutOfBoundsStaticRead            = errors.New(f("out of bounds static read"))
	ErrOutOfBoundsGlobalsAccess         = errors.New(f("out of bounds globals access"))
	ErrMachineIndexOutOfRange           = errors.New(f("machine index out of range"))
	ErrSharedFunctionIndexOutOfRange    = errors.New(f("shared function index out of range"))
	ErrStackValueTooLargeForProgramWord = errors.New(f("stack value too large for program word"))
	ErrStackValueTooLargeForUsize       = errors.New(f("stack value too large for index"))
	ErrColorOutOfRange                  = errors.New(f("color value out of range"))
	ErrColorStackShape                  = errors.New(f("get_color did not leave exactly 3 values on the stack"))
	ErrFuelExhausted                    = errors.New(f("instruction budget exhausted"))
	ErrReturnAtOutermostFrame           = errors.New(f("return at outermost frame"))
	ErrExitAtNestedFrame                = errors.New(f("exit at nested frame"))
	ErrInitStackNotEmpty                = errors.New(f("init left values on the stack"))
)

// ErrInvalidOp carries the offending opcode word, mirroring the teacher's
// ErrOpcode(Code) pattern of attaching the decoded instruction to the
// error rather than just a generic sentinel.
type ErrInvalidOp ProgramWord

func (e ErrInvalidOp) Error() string {
	return f("invalid opcode %#04x", ProgramWord(e))
}

func (e ErrInvalidOp) Is(err error) bool {
	_, ok := err.(ErrInvalidOp)
	return ok
}

// ErrRuntime annotates a runtime error with the program counter at which it
// occurred, the way the teacher's emulator.ErrRuntime annotates errors with
// a source line number.
type ErrRuntime struct {
	PC  ProgramWord
	Err error
}

func (e *ErrRuntime) Error() string {
	return f("pc %#04x: %v", e.PC, e.Err)
}

func (e *ErrRuntime) Unwrap() error {
	return e.Err
}
