// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package led is the host-side LED output capability: the single-method
// sink a render cycle (§4.2, §5) pushes colors into, generalized from
// io.Channel's single-purpose bit-level interface shape to FluxPilot's
// byte-level pixel sink.
package led

import (
	"sync"

	"github.com/fluxpilot/pilot/driver"
)

// Sink receives one rendered color per (instance, index) pair. index is
// the LED position within the instance's strip, in get_color order.
type Sink interface {
	SetPixel(instance, index int, r, g, b uint8) error
}

// Render pushes one driver.RenderFrame result into sink, instance by
// instance, LED by LED, in the same order they were rendered.
func Render(sink Sink, colors [][]driver.RGB) error {
	for instance, leds := range colors {
		for index, c := range leds {
			if err := sink.SetPixel(instance, index, c.R, c.G, c.B); err != nil {
				return err
			}
		}
	}
	return nil
}

// MemorySink is an in-memory Sink, useful for tests and for a simulator
// that has no physical strip attached.
type MemorySink struct {
	mu     sync.Mutex
	strips map[int][]driver.RGB
}

func NewMemorySink() *MemorySink {
	return &MemorySink{strips: map[int][]driver.RGB{}}
}

func (s *MemorySink) SetPixel(instance, index int, r, g, b uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strip := s.strips[instance]
	if index >= len(strip) {
		grown := make([]driver.RGB, index+1)
		copy(grown, strip)
		strip = grown
	}
	strip[index] = driver.RGB{R: r, G: g, B: b}
	s.strips[instance] = strip
	return nil
}

// Strip returns a copy of the current strip for instance.
func (s *MemorySink) Strip(instance int) []driver.RGB {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]driver.RGB, len(s.strips[instance]))
	copy(out, s.strips[instance])
	return out
}
