package dispatch

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluxpilot/pilot/vm"
	"github.com/fluxpilot/pilot/wire"
)

func nextFrame(t *testing.T, r *bufio.Reader) wire.Message {
	t.Helper()
	frame, err := wire.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	msg, err := wire.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return msg
}

func TestDispatchCallSendsRequestAndRoutesReturn(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)

	var gotID uint16
	var gotValues []vm.StackWord
	d := New(&buf, Callbacks{
		OnReturn: func(id uint16, values []vm.StackWord) {
			gotID = id
			gotValues = values
		},
	})

	assert.NoError(d.Call(1, 2, []vm.StackWord{5}))

	msg := nextFrame(t, r)
	req, ok := msg.(*wire.CallRequest)
	assert.True(ok)
	assert.Equal(uint16(1), req.MachineIndex)
	assert.Equal(uint16(2), req.FunctionIndex)
	assert.Equal([]vm.StackWord{5}, req.Args)

	d.HandleMessage(&wire.CallReturn{RequestID: req.RequestID, Values: []vm.StackWord{9}})
	assert.Equal(req.RequestID, gotID)
	assert.Equal([]vm.StackWord{9}, gotValues)
}

func TestDispatchCoalescesRepeatedCalls(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	d := New(&buf, Callbacks{})

	assert.NoError(d.Call(1, 2, []vm.StackWord{1}))
	first := nextFrame(t, r).(*wire.CallRequest)

	assert.NoError(d.Call(1, 2, []vm.StackWord{2}))
	assert.NoError(d.Call(1, 2, []vm.StackWord{3}))
	assert.Equal(0, buf.Len(), "coalesced calls must not be sent while one is in flight")

	d.HandleMessage(&wire.CallReturn{RequestID: first.RequestID, Values: nil})

	second := nextFrame(t, r).(*wire.CallRequest)
	assert.Equal([]vm.StackWord{3}, second.Args, "only the most recent coalesced call is sent")
	assert.NotEqual(first.RequestID, second.RequestID)
}

func TestDispatchCallSharedIndependentSlot(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	d := New(&buf, Callbacks{})

	assert.NoError(d.Call(1, 2, []vm.StackWord{1}))
	nextFrame(t, r)

	assert.NoError(d.CallShared(2, []vm.StackWord{7}))
	msg := nextFrame(t, r)
	shared, ok := msg.(*wire.CallSharedRequest)
	assert.True(ok, "call_shared must send immediately even while Call(1,2,...) is in flight")
	assert.Equal([]vm.StackWord{7}, shared.Args)
}

func TestDispatchNotificationCallback(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	var got []vm.StackWord
	d := New(&buf, Callbacks{
		OnNotification: func(machine, function uint16, values []vm.StackWord) {
			got = values
		},
	})

	d.HandleMessage(&wire.Notification{MachineIndex: 0, FunctionIndex: 1, Values: []vm.StackWord{4, 5}})
	assert.Equal([]vm.StackWord{4, 5}, got)
}

func TestDispatchErrorWithRequestIDReleasesSlot(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	var errSeen bool
	d := New(&buf, Callbacks{
		OnError: func(hasID bool, id uint16, code uint16, msg string) {
			errSeen = hasID
		},
	})

	assert.NoError(d.Call(1, 2, []vm.StackWord{1}))
	first := nextFrame(t, r).(*wire.CallRequest)

	assert.NoError(d.Call(1, 2, []vm.StackWord{9}))
	assert.Equal(0, buf.Len())

	d.HandleMessage(&wire.Error{HasRequestID: true, RequestID: first.RequestID, ErrorCode: 16, Msg: "bad op"})
	assert.True(errSeen)

	second := nextFrame(t, r).(*wire.CallRequest)
	assert.Equal([]vm.StackWord{9}, second.Args)
}

func TestDispatchUiStateBlobHappyPath(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	d := New(&buf, Callbacks{})

	var done []byte
	var doneErr error
	called := false
	assert.NoError(d.FetchUiStateBlob(func(data []byte, err error) {
		called = true
		done = data
		doneErr = err
	}))

	first := nextFrame(t, r).(*wire.ReadUiStateBlock)
	assert.Equal(uint16(0), first.BlockNumber)

	d.HandleMessage(&wire.UiStateBlockReply{
		RequestID: first.RequestID, TotalSize: 6, BlockNumber: 0, Block: []byte{1, 2, 3},
	})
	assert.False(called)

	second := nextFrame(t, r).(*wire.ReadUiStateBlock)
	assert.Equal(uint16(1), second.BlockNumber)

	d.HandleMessage(&wire.UiStateBlockReply{
		RequestID: second.RequestID, TotalSize: 6, BlockNumber: 1, Block: []byte{4, 5, 6},
	})
	assert.True(called)
	assert.NoError(doneErr)
	assert.Equal([]byte{1, 2, 3, 4, 5, 6}, done)
}

func TestDispatchUiStateBlobZeroTotalEndsImmediately(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	d := New(&buf, Callbacks{})

	var done []byte
	var doneErr error
	assert.NoError(d.FetchUiStateBlob(func(data []byte, err error) {
		done, doneErr = data, err
	}))

	first := nextFrame(t, r).(*wire.ReadUiStateBlock)
	d.HandleMessage(&wire.UiStateBlockReply{RequestID: first.RequestID, TotalSize: 0, BlockNumber: 0})

	assert.NoError(doneErr)
	assert.Nil(done)
	assert.Equal(0, buf.Len(), "zero total size must not request another block")
}

func TestDispatchUiStateBlobOutOfOrderAborts(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)
	d := New(&buf, Callbacks{})

	var doneErr error
	assert.NoError(d.FetchUiStateBlob(func(data []byte, err error) {
		doneErr = err
	}))

	first := nextFrame(t, r).(*wire.ReadUiStateBlock)
	d.HandleMessage(&wire.UiStateBlockReply{
		RequestID: first.RequestID, TotalSize: 600, BlockNumber: 1, Block: []byte{1, 2, 3},
	})

	assert.ErrorIs(doneErr, ErrUiTransferOutOfOrder)
}

func TestDispatchWatchdogReleasesSlotForCoalescing(t *testing.T) {
	assert := assert.New(t)

	var buf bytes.Buffer
	r := bufio.NewReader(&buf)

	errCh := make(chan struct{}, 1)
	d := New(&buf, Callbacks{
		OnError: func(hasID bool, id uint16, code uint16, msg string) {
			errCh <- struct{}{}
		},
	})
	d.Watchdog = 10 * time.Millisecond

	assert.NoError(d.Call(1, 2, []vm.StackWord{1}))
	nextFrame(t, r)

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}

	assert.NoError(d.Call(1, 2, []vm.StackWord{2}))
	second := nextFrame(t, r).(*wire.CallRequest)
	assert.Equal([]vm.StackWord{2}, second.Args)
}
