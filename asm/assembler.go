// Package asm compiles the line-oriented FluxPilot assembly language into
// a vm.Image word stream: two-pass, case-insensitive mnemonics, one
// function/data block parsed at a time, with labels resolved locally to
// their block and a final layout pass that assigns absolute addresses and
// collapses structurally identical machine types.
package asm

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/fluxpilot/pilot/vm"
)

// Assembler holds the predefine table and accumulates parsed definitions
// across one Parse call, in the teacher's Assembler{Verbose, Equate, ...}
// shape.
type Assembler struct {
	Verbose   bool
	predefine map[string]string
	Equate    map[string]string

	shared    map[string]int
	sharedMax int
	sawMachine bool

	machines      []*machineDef
	machineByName map[string]*machineDef

	sharedFuncs      []*functionDef
	sharedFuncByName map[string]*functionDef

	sharedData      []*dataBlockDef
	sharedDataByName map[string]*dataBlockDef

	// parse cursor
	curMachine *machineDef
	curFunc    *functionDef
	curData    *dataBlockDef
	curShFunc  *functionDef
	curShData  *dataBlockDef
}

// Predefine sets an equate visible before the source is scanned, mirroring
// the teacher's Assembler.Predefine.
func (a *Assembler) Predefine(equ, value string) {
	if a.predefine == nil {
		a.predefine = map[string]string{}
	}
	a.predefine[equ] = value
}

func (a *Assembler) reset() {
	a.Equate = map[string]string{"LINENO": "0"}
	for k, v := range a.predefine {
		a.Equate[k] = v
	}
	a.shared = map[string]int{}
	a.sharedMax = 0
	a.sawMachine = false
	a.machines = nil
	a.machineByName = map[string]*machineDef{}
	a.sharedFuncs = nil
	a.sharedFuncByName = map[string]*functionDef{}
	a.sharedData = nil
	a.sharedDataByName = map[string]*dataBlockDef{}
	a.curMachine, a.curFunc, a.curData, a.curShFunc, a.curShData = nil, nil, nil, nil, nil
}

var parenExpr = regexp.MustCompile(`\$\([^\$]*\)`)

// evalParen does a compile-time $(...) evaluation against the current
// equate table, the way the teacher's parenEval does.
func (a *Assembler) evalParen(expr string) (uint32, error) {
	thread := starlark.Thread{}
	opts := syntax.FileOptions{}
	pred := starlark.StringDict{}
	for key, str := range a.Equate {
		v, err := strconv.ParseInt(str, 0, 64)
		if err != nil {
			continue
		}
		pred[key] = starlark.MakeInt64(v)
	}
	prog := "rc=" + expr + "\n"
	dict, err := starlark.ExecFileOptions(&opts, &thread, "expr", prog, pred)
	if err != nil {
		return 0, err
	}
	rc, ok := dict["rc"]
	if !ok {
		return 0, fmt.Errorf("%s", expr)
	}
	iv, ok := rc.(starlark.Int)
	if !ok {
		return 0, fmt.Errorf("%s", expr)
	}
	i64, ok := iv.Int64()
	if !ok {
		return 0, fmt.Errorf("%s", expr)
	}
	return uint32(i64), nil
}

func (a *Assembler) preprocessLine(line string, lineno int) (string, error) {
	a.Equate["LINENO"] = strconv.Itoa(lineno)

	var evalErr error
	line = parenExpr.ReplaceAllStringFunc(line, func(str string) string {
		v, err := a.evalParen(str[2 : len(str)-1])
		if err != nil {
			evalErr = err
			return str
		}
		return strconv.FormatUint(uint64(v), 10)
	})
	return line, evalErr
}

func splitWords(line string) []string {
	fields := strings.Fields(line)
	return fields
}

// substituteEquates replaces any bare word matching a known equate with
// its textual value, the way the teacher's parseLine does before
// per-mnemonic dispatch.
func (a *Assembler) substituteEquates(words []string) []string {
	for i, w := range words {
		if v, ok := a.Equate[w]; ok {
			words[i] = v
		}
	}
	return words
}

// Parse compiles source text into an assembled word stream ready for
// vm.NewImage.
func (a *Assembler) Parse(input io.Reader) ([]vm.ProgramWord, error) {
	a.reset()

	scanner := bufio.NewScanner(input)
	var lineno int
	var rawLine string

	wrap := func(err error) error {
		if err == nil {
			return nil
		}
		return &ErrSyntax{LineNo: lineno, Line: rawLine, Err: err}
	}

	for scanner.Scan() {
		lineno++
		rawLine = scanner.Text()

		if a.Verbose {
			log.Printf("%d: %s", lineno, rawLine)
		}

		line := strings.TrimSpace(strings.SplitN(rawLine, ";", 2)[0])
		if line == "" {
			continue
		}

		line, err := a.preprocessLine(line, lineno)
		if err != nil {
			return nil, wrap(err)
		}

		words := splitWords(line)
		if len(words) == 0 {
			continue
		}

		if words[0] == ".equ" {
			if len(words) != 3 {
				return nil, wrap(ErrOperandMissing)
			}
			a.Equate[words[1]] = words[2]
			continue
		}

		words = a.substituteEquates(words)

		// label: at start of line
		for strings.HasSuffix(words[0], ":") {
			name := strings.TrimSuffix(words[0], ":")
			if err := a.defineLabel(name); err != nil {
				return nil, wrap(err)
			}
			words = words[1:]
			if len(words) == 0 {
				break
			}
		}
		if len(words) == 0 {
			continue
		}

		if err := a.dispatch(words, lineno); err != nil {
			return nil, wrap(err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if a.curMachine != nil || a.curFunc != nil || a.curData != nil || a.curShFunc != nil || a.curShData != nil {
		return nil, ErrUnclosedBlock
	}

	return a.link()
}

func (a *Assembler) defineLabel(name string) error {
	switch {
	case a.curFunc != nil:
		return a.curFunc.block.defineLabel(name)
	case a.curData != nil:
		return a.curData.block.defineLabel(name)
	case a.curShFunc != nil:
		return a.curShFunc.block.defineLabel(name)
	case a.curShData != nil:
		return a.curShData.block.defineLabel(name)
	default:
		return ErrInstructionOutsideFunc
	}
}
