// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package driver is the host render driver: it owns one vm.Program and
// sequences init/start_frame/get_color across every instance, serializing
// render-loop ticks against host-initiated call/call_shared requests.
package driver

import (
	"log"
	"sync"

	"github.com/fluxpilot/pilot/vm"
)

// RGB is one rendered LED color, already range-checked by vm.Program.GetColor.
type RGB struct {
	R, G, B uint8
}

// FrameError records a single instance/LED that failed during a RenderFrame
// pass. Per §7 class 2, a runtime error aborts only the run that produced
// it; the instance is not disabled and rendering continues.
type FrameError struct {
	Instance int
	Led      int // -1 if the failure was in start_frame, before any LED
	Err      error
}

// Driver serializes every VM entry point behind one mutex, matching the
// single-threaded, non-preemptive scheduling model (§5): the render loop
// and host RPC calls never interleave mid-function.
type Driver struct {
	Verbose bool

	mu      sync.Mutex
	program *vm.Program
	frames  int
}

// New builds a Driver over a freshly constructed vm.Program.
func New(img *vm.Image, memory []vm.StackWord) (*Driver, error) {
	p, err := vm.NewProgram(img, memory)
	if err != nil {
		return nil, err
	}
	return &Driver{program: p}, nil
}

// Reload swaps in a new program image, per §5's "reloading the program
// first stops the render loop, then swaps the image and resets all state":
// the mutex already stops any in-flight render/RPC from observing a torn
// image, and a fresh vm.Program carries no state from the old one.
func (d *Driver) Reload(img *vm.Image, memory []vm.StackWord) error {
	p, err := vm.NewProgram(img, memory)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.program = p
	d.frames = 0
	return nil
}

// InstanceCount returns the number of instances in the current program.
func (d *Driver) InstanceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.program.Image.InstanceCount
}

// Frames returns the total number of RenderFrame passes completed since
// the last Reload, mirroring the teacher's Emulator.Ticks counter.
func (d *Driver) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Init runs the given instance's init function with no arguments. The
// stack must be empty on EXIT;
// any residual value is a protocol violation (§4.2).
func (d *Driver) Init(instance int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.program.Init(instance)
}

// InitAll runs init on every instance, in instance order, the way a
// program load brings every machine in the image to its starting state.
func (d *Driver) InitAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < d.program.Image.InstanceCount; i++ {
		if err := d.program.Init(i); err != nil {
			return err
		}
	}
	return nil
}

// RenderFrame runs start_frame(tick) followed by get_color for every LED of
// every instance, in instance order, per §5's ordering guarantee: within a
// frame, start_frame is observed before any get_color of that frame, and
// instances render strictly serially. A failed start_frame or get_color is
// recorded as a FrameError and rendering continues with the next LED or
// instance — a bad frame does not disable the instance (§7 class 2).
func (d *Driver) RenderFrame(tick vm.StackWord, ledCounts []int) ([][]RGB, []FrameError) {
	d.mu.Lock()
	defer d.mu.Unlock()

	colors := make([][]RGB, len(ledCounts))
	var errs []FrameError

	for i, n := range ledCounts {
		if err := d.program.StartFrame(i, tick); err != nil {
			errs = append(errs, FrameError{Instance: i, Led: -1, Err: err})
			continue
		}

		leds := make([]RGB, n)
		for led := 0; led < n; led++ {
			r, g, b, err := d.program.GetColor(i, vm.StackWord(led))
			if err != nil {
				errs = append(errs, FrameError{Instance: i, Led: led, Err: err})
				continue
			}
			leds[led] = RGB{R: r, G: g, B: b}
		}
		colors[i] = leds
	}

	d.frames++
	if d.Verbose {
		log.Printf("driver: frame %d rendered at tick %d, %d error(s)", d.frames, tick, len(errs))
	}
	return colors, errs
}

// Call invokes an arbitrary function on an instance, returning whatever
// values are left on the stack above the arguments at EXIT (§4.2's
// generic host wire path).
func (d *Driver) Call(instance, function int, args []vm.StackWord) ([]vm.StackWord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.program.Call(instance, function, args)
}

// CallShared invokes a shared function as if instance 0 were the caller.
func (d *Driver) CallShared(sharedIndex int, args []vm.StackWord) ([]vm.StackWord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.program.CallShared(sharedIndex, args)
}
