package asm

import (
	"errors"

	"github.com/fluxpilot/pilot/internal/translate"
)

var f = translate.From

// Assembly-time errors (§4.3).
var (
	ErrDuplicateBodyForDecl    = errors.New(f("duplicate body for declared function"))
	ErrUnknownLabel            = errors.New(f("unknown label"))
	ErrDuplicateLabel          = errors.New(f("duplicate label"))
	ErrUndeclaredLocal         = errors.New(f("undeclared local"))
	ErrUndeclaredShared        = errors.New(f("undeclared shared global"))
	ErrUndeclaredFrameSlot     = errors.New(f("undeclared frame slot"))
	ErrUnclosedBlock           = errors.New(f("unclosed block"))
	ErrNumericOutOfRange       = errors.New(f("numeric literal out of range"))
	ErrInstructionOutsideFunc  = errors.New(f("instruction outside function"))
	ErrDataWordOutsideDataBlk  = errors.New(f("data word outside data block"))
	ErrSharedAfterMachine      = errors.New(f(".shared declared after a .machine block"))
	ErrUnknownDirective        = errors.New(f("unknown directive"))
	ErrUnknownMnemonic         = errors.New(f("unknown mnemonic"))
	ErrNoActiveBlockToClose    = errors.New(f(".end with no open block"))
	ErrWrongBlockToClose       = errors.New(f(".end closes the wrong kind of block"))
	ErrMachineNameRequired     = errors.New(f(".machine requires a name"))
	ErrDuplicateMachineName    = errors.New(f("duplicate machine name"))
	ErrDuplicateFunctionName   = errors.New(f("duplicate function name"))
	ErrDuplicateFunctionIndex  = errors.New(f("two functions declared at the same index"))
	ErrDuplicateDataName       = errors.New(f("duplicate data block name"))
	ErrDuplicateLocalName      = errors.New(f("duplicate local name"))
	ErrDuplicateFrameName      = errors.New(f("duplicate frame slot name"))
	ErrDuplicateSharedName     = errors.New(f("duplicate shared global name"))
	ErrOperandMissing          = errors.New(f("operand missing"))
	ErrOperandExtra            = errors.New(f("extra operand"))
	ErrUndeclaredFunction      = errors.New(f("undeclared function"))
	ErrUndeclaredSharedFunc    = errors.New(f("undeclared shared function"))
	ErrFunctionNeverDefined    = errors.New(f("function declared but never given a body"))
	ErrFunctionCountMismatch   = errors.New(f(".machine functions count does not match the functions actually defined"))
)

// ErrSyntax wraps any error with the source line it occurred on, mirroring
// the teacher's cpu.ErrSyntax{LineNo, Line, Err}.
type ErrSyntax struct {
	LineNo int
	Line   string
	Err    error
}

func (e *ErrSyntax) Error() string {
	return f("line %d: %v: %s", e.LineNo, e.Err, e.Line)
}

func (e *ErrSyntax) Unwrap() error {
	return e.Err
}
