// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package dispatch

import (
	"errors"

	"github.com/fluxpilot/pilot/internal/translate"
)

var f = translate.From

var (
	ErrUiTransferInProgress = errors.New(f("ui state blob transfer already in progress"))
	ErrUiTransferOutOfOrder = errors.New(f("ui state block received out of order"))
	ErrRequestTimedOut      = errors.New(f("request timed out"))
	ErrPendingTableFull     = errors.New(f("no free request id"))
)

// hostErrorCodeTimeout is the host-synthesized error code passed to
// OnError when the device never replied in time; no Error frame carries
// it. Codes the device itself sent come straight through from
// wire.Error.ErrorCode.
const hostErrorCodeTimeout = 0xffff
