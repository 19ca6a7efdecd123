package vm

// Header word offsets (§3).
const (
	hdrVersion                  = 0
	hdrInstanceCount            = 1
	hdrGlobalsSize              = 2
	hdrSharedFunctionCount      = 3
	hdrTypeCount                = 4
	hdrInstanceTableOffset      = 5
	hdrTypeTableOffset          = 6
	hdrSharedFunctionTableOffset = 7
	hdrSize                     = 8
)

// instanceEntrySize is the word width of one instance table row:
// { TYPE_ID, GLOBALS_BASE }.
const instanceEntrySize = 2

// typeEntrySize is the word width of one type table row:
// { FUNCTION_COUNT, FUNCTION_TABLE_OFFSET }.
const typeEntrySize = 2

// Instance is a zero-allocation view over one instance table row.
type Instance struct {
	TypeID      int
	GlobalsBase int
}

// Type is a zero-allocation view over one type table row.
type Type struct {
	FunctionCount       int
	FunctionTableOffset int
}

// Image is a parsed, read-only program image: a contiguous sequence of
// ProgramWord cells laid out per §3, plus the decoded header fields needed
// to resolve instances, types, and function entry points.
type Image struct {
	words []ProgramWord

	InstanceCount       int
	GlobalsSize         int
	SharedFunctionCount int
	TypeCount           int

	instanceTableOffset int
	typeTableOffset     int
	sharedFuncTableOff  int
}

// NewImage parses a flat ProgramWord buffer into an Image, validating the
// header and every table offset named in the header against the length of
// the buffer. It returns one of the image-validation errors (§7 class 1) on
// any malformed input; no partial Image is returned on error.
func NewImage(words []ProgramWord) (*Image, error) {
	if len(words) < hdrSize {
		return nil, ErrImageTruncated
	}

	if words[hdrVersion] != ProgramVersion {
		return nil, ErrInvalidProgramVersion
	}

	img := &Image{
		words:               words,
		InstanceCount:       int(words[hdrInstanceCount]),
		GlobalsSize:         int(words[hdrGlobalsSize]),
		SharedFunctionCount: int(words[hdrSharedFunctionCount]),
		TypeCount:           int(words[hdrTypeCount]),
		instanceTableOffset: int(words[hdrInstanceTableOffset]),
		typeTableOffset:     int(words[hdrTypeTableOffset]),
		sharedFuncTableOff:  int(words[hdrSharedFunctionTableOffset]),
	}

	if err := img.boundsCheck(img.instanceTableOffset, img.InstanceCount*instanceEntrySize); err != nil {
		return nil, err
	}
	if err := img.boundsCheck(img.typeTableOffset, img.TypeCount*typeEntrySize); err != nil {
		return nil, err
	}
	if err := img.boundsCheck(img.sharedFuncTableOff, img.SharedFunctionCount); err != nil {
		return nil, err
	}

	for i := 0; i < img.InstanceCount; i++ {
		inst, err := img.Instance(i)
		if err != nil {
			return nil, err
		}
		if inst.TypeID < 0 || inst.TypeID >= img.TypeCount {
			return nil, ErrImageTruncated
		}
	}

	return img, nil
}

// boundsCheck reports whether a table of length `count` words starting at
// `offset` lies entirely within the image.
func (img *Image) boundsCheck(offset, count int) error {
	if offset < 0 || count < 0 {
		return ErrImageTruncated
	}
	end := offset + count
	if end < offset || end > len(img.words) {
		return ErrImageTruncated
	}
	return nil
}

// Len returns the number of ProgramWord cells in the image.
func (img *Image) Len() int {
	return len(img.words)
}

// Word reads a single ProgramWord at an arbitrary image-relative address,
// bounds-checked against the image length.
func (img *Image) Word(addr int) (ProgramWord, error) {
	if addr < 0 || addr >= len(img.words) {
		return 0, ErrOutOfBoundsStaticRead
	}
	return img.words[addr], nil
}

// Instance returns the i'th instance table row.
func (img *Image) Instance(i int) (Instance, error) {
	if i < 0 || i >= img.InstanceCount {
		return Instance{}, ErrMachineIndexOutOfRange
	}
	base := img.instanceTableOffset + i*instanceEntrySize
	typeID, err := img.Word(base)
	if err != nil {
		return Instance{}, err
	}
	globalsBase, err := img.Word(base + 1)
	if err != nil {
		return Instance{}, err
	}
	return Instance{TypeID: int(typeID), GlobalsBase: int(globalsBase)}, nil
}

// Type returns the i'th type table row.
func (img *Image) Type(i int) (Type, error) {
	if i < 0 || i >= img.TypeCount {
		return Type{}, ErrMachineIndexOutOfRange
	}
	base := img.typeTableOffset + i*typeEntrySize
	count, err := img.Word(base)
	if err != nil {
		return Type{}, err
	}
	tableOff, err := img.Word(base + 1)
	if err != nil {
		return Type{}, err
	}
	return Type{FunctionCount: int(count), FunctionTableOffset: int(tableOff)}, nil
}

// TypeFunctionEntry resolves the absolute code offset of function
// `funcIndex` within the `typeIdx` type's function table.
func (img *Image) TypeFunctionEntry(typeIdx, funcIndex int) (ProgramWord, error) {
	typ, err := img.Type(typeIdx)
	if err != nil {
		return 0, err
	}
	if funcIndex < 0 || funcIndex >= typ.FunctionCount {
		return 0, ErrMachineIndexOutOfRange
	}
	return img.Word(typ.FunctionTableOffset + funcIndex)
}

// SharedFunctionEntry resolves the absolute code offset of shared function
// `index` within the shared function table.
func (img *Image) SharedFunctionEntry(index int) (ProgramWord, error) {
	if index < 0 || index >= img.SharedFunctionCount {
		return 0, ErrSharedFunctionIndexOutOfRange
	}
	return img.Word(img.sharedFuncTableOff + index)
}
