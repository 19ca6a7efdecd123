package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxpilot/pilot/asm"
	"github.com/fluxpilot/pilot/vm"
)

const twoInstanceProgram = `
.machine m0 locals 0 functions 3
  .func init index 0
    EXIT
  .end
  .func start_frame index 1
    EXIT
  .end
  .func get_color index 2
    PUSH 1
    PUSH 2
    PUSH 3
    EXIT
  .end
.end
.machine m1 locals 0 functions 3
  .func init index 0
    EXIT
  .end
  .func start_frame index 1
    EXIT
  .end
  .func get_color index 2
    PUSH 4
    PUSH 5
    PUSH 6
    EXIT
  .end
.end
`

func buildDriver(t *testing.T, source string) *Driver {
	t.Helper()
	a := &asm.Assembler{}
	words, err := a.Parse(strings.NewReader(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	img, err := vm.NewImage(words)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	d, err := New(img, make([]vm.StackWord, img.GlobalsSize+vm.MinStack))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestDriverRenderFrame(t *testing.T) {
	assert := assert.New(t)

	d := buildDriver(t, twoInstanceProgram)
	assert.Equal(2, d.InstanceCount())
	assert.NoError(d.InitAll())

	colors, errs := d.RenderFrame(7, []int{2, 1})
	assert.Empty(errs)
	assert.Equal(1, d.Frames())

	assert.Equal([]RGB{{1, 2, 3}, {1, 2, 3}}, colors[0])
	assert.Equal([]RGB{{4, 5, 6}}, colors[1])
}

func TestDriverGenericCall(t *testing.T) {
	assert := assert.New(t)

	d := buildDriver(t, twoInstanceProgram)

	results, err := d.Call(0, 2, nil)
	assert.NoError(err)
	assert.Equal([]vm.StackWord{1, 2, 3}, results)
}

func TestDriverReloadResetsFrameCounter(t *testing.T) {
	assert := assert.New(t)

	d := buildDriver(t, twoInstanceProgram)
	assert.NoError(d.InitAll())
	_, errs := d.RenderFrame(0, []int{1, 1})
	assert.Empty(errs)
	assert.Equal(1, d.Frames())

	a := &asm.Assembler{}
	words, err := a.Parse(strings.NewReader(twoInstanceProgram))
	assert.NoError(err)
	img, err := vm.NewImage(words)
	assert.NoError(err)

	assert.NoError(d.Reload(img, make([]vm.StackWord, img.GlobalsSize+vm.MinStack)))
	assert.Equal(0, d.Frames())
	assert.Equal(2, d.InstanceCount())
}
