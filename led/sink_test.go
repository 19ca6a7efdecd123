package led

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxpilot/pilot/driver"
)

func TestMemorySinkSetPixel(t *testing.T) {
	assert := assert.New(t)

	sink := NewMemorySink()
	assert.NoError(sink.SetPixel(0, 2, 1, 2, 3))
	assert.NoError(sink.SetPixel(0, 0, 9, 9, 9))

	strip := sink.Strip(0)
	assert.Len(strip, 3)
	assert.Equal(driver.RGB{R: 9, G: 9, B: 9}, strip[0])
	assert.Equal(driver.RGB{}, strip[1])
	assert.Equal(driver.RGB{R: 1, G: 2, B: 3}, strip[2])
}

func TestRenderPushesEveryInstanceAndLed(t *testing.T) {
	assert := assert.New(t)

	sink := NewMemorySink()
	colors := [][]driver.RGB{
		{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}},
		{{R: 7, G: 8, B: 9}},
	}
	assert.NoError(Render(sink, colors))

	assert.Equal(colors[0], sink.Strip(0))
	assert.Equal(colors[1], sink.Strip(1))
}
