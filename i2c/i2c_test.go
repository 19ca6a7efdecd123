package i2c

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fluxpilot/pilot/vm"
	"github.com/fluxpilot/pilot/wire"
)

type fakeCaller struct {
	returns   map[int][]vm.StackWord
	lastCalls map[int][]vm.StackWord
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{returns: map[int][]vm.StackWord{}, lastCalls: map[int][]vm.StackWord{}}
}

func (f *fakeCaller) CallShared(function int, args []vm.StackWord) ([]vm.StackWord, error) {
	f.lastCalls[function] = args
	return f.returns[function], nil
}

func TestInitProgramCallsSharedIndexZero(t *testing.T) {
	assert := assert.New(t)

	c := newFakeCaller()
	assert.NoError(InitProgram(c))
	assert.Contains(c.lastCalls, FuncInitProgram)
	assert.Nil(c.lastCalls[FuncInitProgram])
}

func TestGetRoutesDecodesFlatWordList(t *testing.T) {
	assert := assert.New(t)

	c := newFakeCaller()
	c.returns[FuncGetRoutes] = []vm.StackWord{
		2,                // entry_count
		0x20, 0x30, 2, 0, 1, 0, 2, // bus 0x20, addr 0x30, 2 targets
		0x21, 0x31, 1, 3, 4, // bus 0x21, addr 0x31, 1 target
	}

	routes, err := GetRoutes(c)
	assert.NoError(err)
	assert.Equal([]Route{
		{BusID: 0x20, Address7Bit: 0x30, Targets: []RouteTarget{{0, 1}, {0, 2}}},
		{BusID: 0x21, Address7Bit: 0x31, Targets: []RouteTarget{{3, 4}}},
	}, routes)
}

func TestGetRoutesRejectsTruncatedTable(t *testing.T) {
	c := newFakeCaller()
	c.returns[FuncGetRoutes] = []vm.StackWord{1, 0x20, 0x30, 5, 0, 1}

	_, err := GetRoutes(c)
	assert.ErrorIs(t, err, ErrMalformedRouteTable)
}

func TestGetRoutesRejectsBogusEntryCountWithoutOverallocating(t *testing.T) {
	c := newFakeCaller()
	c.returns[FuncGetRoutes] = []vm.StackWord{0xffffffff, 0x20, 0x30, 0}

	_, err := GetRoutes(c)
	assert.ErrorIs(t, err, ErrMalformedRouteTable)
}

func TestAddAndRemoveRouteArgShape(t *testing.T) {
	assert := assert.New(t)

	c := newFakeCaller()
	target := RouteTarget{MachineID: 3, FunctionID: 4}

	assert.NoError(AddRoute(c, 0x20, 0x30, target))
	assert.Equal([]vm.StackWord{0x20, 0x30, 3, 4}, c.lastCalls[FuncAddRoute])

	assert.NoError(RemoveRoute(c, 0x20, 0x30, target))
	assert.Equal([]vm.StackWord{0x20, 0x30, 3, 4}, c.lastCalls[FuncRemoveRoute])
}

func TestEventRoundTrip(t *testing.T) {
	assert := assert.New(t)

	ev := Event{BusID: 0x20, Address7Bit: 0x42, IsRead: true, Payload: []byte{1, 2, 3}}
	n := EncodeEvent(ev)

	got, ok := DecodeEvent(n)
	assert.True(ok)
	assert.Equal(ev, got)
}

func TestDecodeEventRejectsOrdinaryNotification(t *testing.T) {
	_, ok := DecodeEvent(&wire.Notification{MachineIndex: 0, FunctionIndex: 2, Values: []vm.StackWord{1, 2, 3}})
	assert.False(t, ok)
}
