package asm

import "github.com/fluxpilot/pilot/vm"

// fixup records a forward reference to a label that could not be resolved
// at the point it was used; it is patched once the enclosing block closes
// and its full label table is known (labels are local to the block, §4.3).
type fixup struct {
	wordOffset int
	label      string
}

// codeBlock accumulates the ProgramWord body of one function or data
// block as it is parsed, plus the label table and pending fixups needed
// to resolve same-block forward jumps.
type codeBlock struct {
	name   string
	lineNo int

	words      []vm.ProgramWord
	labels     map[string]int
	fixups     []fixup
	labelWords []int // word offsets holding a block-relative label address, to be rebased once the block's final image position is known
}

func newCodeBlock(name string, lineNo int) *codeBlock {
	return &codeBlock{name: name, lineNo: lineNo, labels: map[string]int{}}
}

func (b *codeBlock) offset() int {
	return len(b.words)
}

func (b *codeBlock) emit(w vm.ProgramWord) {
	b.words = append(b.words, w)
}

func (b *codeBlock) defineLabel(name string) error {
	if _, ok := b.labels[name]; ok {
		return ErrDuplicateLabel
	}
	b.labels[name] = b.offset()
	return nil
}

// emitLabelRef emits a placeholder word for a label reference, queuing a
// fixup if the label isn't defined yet, and remembers the word offset so
// it can be rebased to an absolute address once the block is laid out.
func (b *codeBlock) emitLabelRef(name string) {
	b.labelWords = append(b.labelWords, b.offset())
	if off, ok := b.labels[name]; ok {
		b.emit(vm.ProgramWord(off))
		return
	}
	b.fixups = append(b.fixups, fixup{wordOffset: b.offset(), label: name})
	b.emit(0)
}

// resolve patches every pending fixup against the now-complete label
// table, and must be called when the block closes.
func (b *codeBlock) resolve() error {
	for _, fx := range b.fixups {
		off, ok := b.labels[fx.label]
		if !ok {
			return ErrUnknownLabel
		}
		b.words[fx.wordOffset] = vm.ProgramWord(off)
	}
	b.fixups = nil
	return nil
}

// rebase adds base to every word that holds a block-relative label
// address, turning it into an absolute image address. Plain immediates
// (PUSH constants, SLOAD offsets, and so on) are untouched.
func (b *codeBlock) rebase(base int) {
	for _, idx := range b.labelWords {
		b.words[idx] = vm.ProgramWord(int(b.words[idx]) + base)
	}
}
