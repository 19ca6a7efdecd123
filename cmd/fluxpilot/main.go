// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fluxpilot/pilot/asm"
	"github.com/fluxpilot/pilot/driver"
	"github.com/fluxpilot/pilot/vm"
)

func main() {
	var compile string
	var load string
	var output string
	var frames int
	var leds int
	var verbose bool

	flag.StringVar(&compile, "c", "", ".fpasm file to assemble")
	flag.StringVar(&load, "l", "", "pre-assembled program image to load")
	flag.StringVar(&output, "o", "", "write the assembled program image here, do not run")
	flag.IntVar(&frames, "frames", 1, "number of frames to render")
	flag.IntVar(&leds, "leds", 1, "LEDs per instance")
	flag.BoolVar(&verbose, "v", false, "verbose mode")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: unknown arguments: %v", os.Args[0], flag.Args())
	}

	words, err := loadProgram(compile, load)
	if err != nil {
		log.Fatal(err)
	}

	if output != "" {
		if err := writeProgram(output, words); err != nil {
			log.Fatal(err)
		}
		return
	}

	img, err := vm.NewImage(words)
	if err != nil {
		log.Fatal(err)
	}

	d, err := driver.New(img, make([]vm.StackWord, img.GlobalsSize+vm.MinStack))
	if err != nil {
		log.Fatal(err)
	}
	d.Verbose = verbose

	if err := d.InitAll(); err != nil {
		log.Fatal(err)
	}

	ledCounts := make([]int, img.InstanceCount)
	for i := range ledCounts {
		ledCounts[i] = leds
	}

	for tick := 0; tick < frames; tick++ {
		colors, errs := d.RenderFrame(vm.StackWord(tick), ledCounts)
		for _, e := range errs {
			log.Printf("frame %d: instance %d led %d: %v", tick, e.Instance, e.Led, e.Err)
		}
		for instance, strip := range colors {
			for index, c := range strip {
				fmt.Printf("%d %d %d %d %d %d\n", tick, instance, index, c.R, c.G, c.B)
			}
		}
	}
}

func loadProgram(compile, load string) ([]vm.ProgramWord, error) {
	switch {
	case compile != "":
		f, err := os.Open(compile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		a := &asm.Assembler{}
		return a.Parse(f)
	case load != "":
		return readProgram(load)
	default:
		return nil, fmt.Errorf("fluxpilot: one of -c or -l is required")
	}
}

// readProgram reads a bit-exact little-endian ProgramWord stream (§6).
func readProgram(path string) ([]vm.ProgramWord, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("fluxpilot: %v: odd byte count for a ProgramWord stream", path)
	}

	words := make([]vm.ProgramWord, len(raw)/2)
	for i := range words {
		words[i] = vm.ProgramWord(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return words, nil
}

func writeProgram(path string, words []vm.ProgramWord) error {
	raw := make([]byte, len(words)*2)
	for i, w := range words {
		binary.LittleEndian.PutUint16(raw[i*2:], w)
	}
	return os.WriteFile(path, raw, 0o644)
}
