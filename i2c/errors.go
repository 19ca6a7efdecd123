// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package i2c

import (
	"errors"

	"github.com/fluxpilot/pilot/internal/translate"
)

var f = translate.From

var ErrMalformedRouteTable = errors.New(f("malformed i2c route table"))
