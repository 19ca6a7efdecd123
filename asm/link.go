package asm

import (
	"fmt"
	"strings"

	"github.com/fluxpilot/pilot/vm"
)

// Header word offsets, mirroring vm's private layout (§3). Duplicated here
// because the assembler builds the header directly rather than through the
// vm package's read-only Image accessors.
const (
	linkHdrVersion                   = 0
	linkHdrInstanceCount             = 1
	linkHdrGlobalsSize                = 2
	linkHdrSharedFunctionCount       = 3
	linkHdrTypeCount                 = 4
	linkHdrInstanceTableOffset       = 5
	linkHdrTypeTableOffset           = 6
	linkHdrSharedFunctionTableOffset = 7
	linkHdrSize                      = 8
)

// machineSignature builds a structural-equality key for a machine's
// compiled function bodies and data blocks, used to dedupe distinct
// `.machine` blocks into one type-table entry (§4.3: "Distinct instances
// may share a type... instance ordering is preserved"). Names never enter
// the signature: two machines with differently named but byte-identical
// functions at the same indices are the same type.
func machineSignature(m *machineDef) string {
	byIndex := map[int]*functionDef{}
	maxIdx := -1
	for _, fn := range m.functions {
		byIndex[fn.index] = fn
		if fn.index > maxIdx {
			maxIdx = fn.index
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "nf=%d/", maxIdx+1)
	for i := 0; i <= maxIdx; i++ {
		fn := byIndex[i]
		if fn == nil {
			sb.WriteString("-;")
			continue
		}
		for _, w := range fn.block.words {
			fmt.Fprintf(&sb, "%d,", w)
		}
		sb.WriteString(";")
	}
	for _, db := range m.data {
		for _, w := range db.block.words {
			fmt.Fprintf(&sb, "%d,", w)
		}
		sb.WriteString("|")
	}
	return sb.String()
}

// link performs the final layout pass: it assigns each machine's globals
// window, collapses structurally identical machines into shared type-table
// entries, lays out every function body and data block contiguously in the
// image, rebases block-relative label addresses to absolute ones, and
// assembles the header plus every table into the returned word stream.
func (a *Assembler) link() ([]vm.ProgramWord, error) {
	for _, fn := range a.sharedFuncs {
		if fn.decl && !fn.hasBody {
			return nil, ErrFunctionNeverDefined
		}
	}
	for _, m := range a.machines {
		for _, fn := range m.functions {
			if fn.decl && !fn.hasBody {
				return nil, ErrFunctionNeverDefined
			}
		}
	}

	sigToType := map[string]int{}
	typeOfMachine := make([]int, len(a.machines))
	var types []*machineDef
	for i, m := range a.machines {
		sig := machineSignature(m)
		if t, ok := sigToType[sig]; ok {
			typeOfMachine[i] = t
			continue
		}
		t := len(types)
		sigToType[sig] = t
		types = append(types, m)
		typeOfMachine[i] = t
	}
	instanceCount := len(a.machines)
	typeCount := len(types)

	typeFuncCount := make([]int, typeCount)
	for typeIdx, m := range types {
		maxIdx := -1
		for _, fn := range m.functions {
			if fn.index > maxIdx {
				maxIdx = fn.index
			}
		}
		typeFuncCount[typeIdx] = maxIdx + 1
	}
	for i, m := range a.machines {
		if m.functionsCount != 0 && m.functionsCount != typeFuncCount[typeOfMachine[i]] {
			return nil, ErrFunctionCountMismatch
		}
	}

	// Globals layout: the shared-global region first, then one private
	// locals window per instance. Instances of the same type still get
	// distinct windows, since locals are per-instance state, not per-type.
	globalsBase := make([]int, len(a.machines))
	globalsSize := a.sharedMax
	for i, m := range a.machines {
		globalsBase[i] = globalsSize
		globalsSize += m.localsCount
	}

	sharedFuncCount := 0
	sharedByIndex := map[int]*functionDef{}
	for _, fn := range a.sharedFuncs {
		sharedByIndex[fn.index] = fn
		if fn.index+1 > sharedFuncCount {
			sharedFuncCount = fn.index + 1
		}
	}

	words := make([]vm.ProgramWord, linkHdrSize)

	instanceTableOffset := len(words)
	words = append(words, make([]vm.ProgramWord, instanceCount*2)...)

	typeTableOffset := len(words)
	words = append(words, make([]vm.ProgramWord, typeCount*2)...)

	sharedFuncTableOffset := len(words)
	words = append(words, make([]vm.ProgramWord, sharedFuncCount)...)

	for typeIdx, m := range types {
		byIndex := map[int]*functionDef{}
		for _, fn := range m.functions {
			byIndex[fn.index] = fn
		}
		funcCount := typeFuncCount[typeIdx]

		funcTableOffset := len(words)
		words = append(words, make([]vm.ProgramWord, funcCount)...)

		for i := 0; i < funcCount; i++ {
			fn := byIndex[i]
			if fn == nil {
				continue
			}
			bodyOffset := len(words)
			fn.block.rebase(bodyOffset)
			words = append(words, fn.block.words...)
			words[funcTableOffset+i] = vm.ProgramWord(bodyOffset)
		}

		for _, db := range m.data {
			dataOffset := len(words)
			db.block.rebase(dataOffset)
			words = append(words, db.block.words...)
		}

		words[typeTableOffset+typeIdx*2] = vm.ProgramWord(funcCount)
		words[typeTableOffset+typeIdx*2+1] = vm.ProgramWord(funcTableOffset)
	}

	for i := 0; i < sharedFuncCount; i++ {
		fn := sharedByIndex[i]
		if fn == nil {
			continue
		}
		bodyOffset := len(words)
		fn.block.rebase(bodyOffset)
		words = append(words, fn.block.words...)
		words[sharedFuncTableOffset+i] = vm.ProgramWord(bodyOffset)
	}

	for _, db := range a.sharedData {
		dataOffset := len(words)
		db.block.rebase(dataOffset)
		words = append(words, db.block.words...)
	}

	for i := range a.machines {
		words[instanceTableOffset+i*2] = vm.ProgramWord(typeOfMachine[i])
		words[instanceTableOffset+i*2+1] = vm.ProgramWord(globalsBase[i])
	}

	words[linkHdrVersion] = vm.ProgramVersion
	words[linkHdrInstanceCount] = vm.ProgramWord(instanceCount)
	words[linkHdrGlobalsSize] = vm.ProgramWord(globalsSize)
	words[linkHdrSharedFunctionCount] = vm.ProgramWord(sharedFuncCount)
	words[linkHdrTypeCount] = vm.ProgramWord(typeCount)
	words[linkHdrInstanceTableOffset] = vm.ProgramWord(instanceTableOffset)
	words[linkHdrTypeTableOffset] = vm.ProgramWord(typeTableOffset)
	words[linkHdrSharedFunctionTableOffset] = vm.ProgramWord(sharedFuncTableOffset)

	return words, nil
}
