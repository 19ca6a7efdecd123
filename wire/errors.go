package wire

import (
	"errors"

	"github.com/fluxpilot/pilot/internal/translate"
)

var f = translate.From

var (
	ErrEmptyFrame          = errors.New(f("empty wire frame"))
	ErrUnknownTag          = errors.New(f("unknown wire message tag"))
	ErrUnknownMessageType  = errors.New(f("unknown message type for encode"))
	ErrFrameTooShort       = errors.New(f("wire frame too short for its fields"))
	ErrInvalidCOBSFrame    = errors.New(f("invalid COBS-stuffed frame"))
	ErrFrameTooLarge       = errors.New(f("frame exceeds maximum size"))
)
