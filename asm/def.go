package asm

// functionDef is a parsed `.func`/`.func_decl`/`.shared_func`/
// `.shared_func_decl` body.
type functionDef struct {
	name    string
	index   int
	decl    bool // true if only declared (.func_decl), no body yet
	hasBody bool
	frame   map[string]int // .frame name -> offset, function-scoped
	block   *codeBlock
	machine *machineDef // nil for shared functions
}

// dataBlockDef is a parsed `.data`/`.shared_data` block.
type dataBlockDef struct {
	name  string
	block *codeBlock
}

// machineDef is one `.machine` block: a type definition plus (per §4.3's
// dedup rule) the instance it implicitly declares. Distinct machines
// whose compiled bodies are bytewise identical collapse to one type-table
// entry during emission, but each keeps its own instance-table row.
type machineDef struct {
	name           string
	localsCount    int
	functionsCount int
	lineNo         int

	locals map[string]int // .local name -> index, machine-scoped

	functions    []*functionDef
	functionByName map[string]*functionDef

	data       []*dataBlockDef
	dataByName map[string]*dataBlockDef

	globalsBase int // assigned during layout
}
