// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package dispatch is the host-side deck RPC dispatcher (§4.5): it tracks
// pending requests by ID, coalesces repeated call/call_shared requests to
// the same (machine, function) pair, runs a per-request watchdog, and
// delivers replies, notifications, errors, and UI-state/I2C pages to the
// host through a small capability callback set.
package dispatch

import (
	"io"
	"sync"
	"time"

	"github.com/fluxpilot/pilot/vm"
	"github.com/fluxpilot/pilot/wire"
)

// DefaultWatchdog is the per-request timeout from §4.5.
const DefaultWatchdog = 200 * time.Millisecond

// Callbacks is the host's receive-side capability set (§9 "dynamic
// dispatch" design note): one function pointer per event kind, any of
// which may be left nil to ignore that event.
type Callbacks struct {
	OnReturn       func(id uint16, values []vm.StackWord)
	OnNotification func(machine, function uint16, values []vm.StackWord)
	OnError        func(hasID bool, id uint16, code uint16, msg string)
	OnUiStateBlock func(id uint16, total uint32, blockNo uint16, data []byte)
	OnI2cDevices   func(id uint16, total uint16, devices []uint16)
}

// key identifies a coalescing slot: one per (machine, function) call
// target, or one per shared-function index for call_shared.
type key struct {
	shared   bool
	machine  uint16
	function uint16
}

type requestKind int

const (
	kindCall requestKind = iota
	kindCallShared
	kindUiBlock
	kindI2cDevices
)

type pendingEntry struct {
	kind  requestKind
	key   key
	timer *time.Timer
}

// slot holds the coalescing state for one (machine, function) or shared
// call target: at most one request in flight, plus the most recent
// superseded call waiting to go out once the in-flight one completes.
type slot struct {
	inFlight    bool
	requestID   uint16
	hasPending  bool
	pendingArgs []vm.StackWord
}

type uiTransfer struct {
	requestID uint16
	data      []byte
	nextBlock uint16
	total     uint32
	active    bool
	onDone    func(data []byte, err error)
}

// Dispatcher serializes outgoing requests against out and routes incoming
// decoded messages to Callbacks. All exported methods are safe for
// concurrent use.
type Dispatcher struct {
	Watchdog time.Duration

	mu         sync.Mutex
	sendMu     sync.Mutex
	out        io.Writer
	callbacks  Callbacks
	nextID     uint16
	pending    map[uint16]*pendingEntry
	slots      map[key]*slot
	uiTransfer *uiTransfer
}

// New builds a Dispatcher that writes outgoing frames to out.
func New(out io.Writer, callbacks Callbacks) *Dispatcher {
	return &Dispatcher{
		Watchdog:  DefaultWatchdog,
		out:       out,
		callbacks: callbacks,
		pending:   map[uint16]*pendingEntry{},
		slots:     map[key]*slot{},
	}
}

// Call requests function on machine. If a call to the same (machine,
// function) pair is already in flight, args supersede any previously
// coalesced call for that pair and the request is deferred until the
// in-flight one completes or times out.
func (d *Dispatcher) Call(machine, function uint16, args []vm.StackWord) error {
	return d.request(key{machine: machine, function: function}, args, kindCall)
}

// CallShared requests a shared function, coalesced per function index the
// same way Call coalesces per (machine, function).
func (d *Dispatcher) CallShared(function uint16, args []vm.StackWord) error {
	return d.request(key{shared: true, function: function}, args, kindCallShared)
}

func (d *Dispatcher) request(k key, args []vm.StackWord, kind requestKind) error {
	d.mu.Lock()

	s := d.slots[k]
	if s == nil {
		s = &slot{}
		d.slots[k] = s
	}

	if s.inFlight {
		s.pendingArgs = args
		s.hasPending = true
		d.mu.Unlock()
		return nil
	}

	msg, err := d.startLocked(k, s, args, kind)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.send(msg)
}

// startLocked allocates a request ID, marks the slot in flight, arms the
// watchdog, and builds the outgoing message. Caller holds d.mu.
func (d *Dispatcher) startLocked(k key, s *slot, args []vm.StackWord, kind requestKind) (wire.Message, error) {
	id, err := d.allocateIDLocked()
	if err != nil {
		return nil, err
	}

	s.inFlight = true
	s.requestID = id
	s.hasPending = false

	entry := &pendingEntry{kind: kind, key: k}
	entry.timer = time.AfterFunc(d.watchdogLocked(), func() { d.onWatchdog(id) })
	d.pending[id] = entry

	if kind == kindCallShared {
		return &wire.CallSharedRequest{RequestID: id, FunctionIndex: k.function, Args: args}, nil
	}
	return &wire.CallRequest{RequestID: id, MachineIndex: k.machine, FunctionIndex: k.function, Args: args}, nil
}

func (d *Dispatcher) watchdogLocked() time.Duration {
	if d.Watchdog <= 0 {
		return DefaultWatchdog
	}
	return d.Watchdog
}

// allocateIDLocked returns the next free request ID, wrapping on overflow
// per §4.5. Caller holds d.mu.
func (d *Dispatcher) allocateIDLocked() (uint16, error) {
	for i := 0; i < 0x10000; i++ {
		id := d.nextID
		d.nextID++
		if _, taken := d.pending[id]; !taken {
			return id, nil
		}
	}
	return 0, ErrPendingTableFull
}

func (d *Dispatcher) send(msg wire.Message) error {
	encoded, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return wire.WriteFrame(d.out, encoded)
}

// LoadProgram sends a whole program image plus UI state blob in one
// frame (§7 Open Question: single-shot, not chunked). LoadProgram carries
// no request ID; the device reports failure via a spontaneous Error frame.
func (d *Dispatcher) LoadProgram(program []vm.ProgramWord, uiBlob []byte) error {
	return d.send(&wire.LoadProgram{Program: program, UiBlob: uiBlob})
}

// RequestI2cDevices asks for one page of I2C device addresses starting at
// offset. The reply arrives through Callbacks.OnI2cDevices.
func (d *Dispatcher) RequestI2cDevices(offset uint16) error {
	d.mu.Lock()
	id, err := d.allocateIDLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	entry := &pendingEntry{kind: kindI2cDevices}
	entry.timer = time.AfterFunc(d.watchdogLocked(), func() { d.onWatchdog(id) })
	d.pending[id] = entry
	d.mu.Unlock()

	return d.send(&wire.ReadI2cDevices{RequestID: id, Offset: offset})
}

// FetchUiStateBlob starts a sequential UI-state blob transfer (§4.5,
// §8 scenario 6): block 0 first, then successive blocks in order until
// the accumulated length reaches the device-reported total_size. onDone
// fires exactly once, with an error if the transfer aborts or times out.
func (d *Dispatcher) FetchUiStateBlob(onDone func(data []byte, err error)) error {
	d.mu.Lock()
	if d.uiTransfer != nil && d.uiTransfer.active {
		d.mu.Unlock()
		return ErrUiTransferInProgress
	}

	id, err := d.allocateIDLocked()
	if err != nil {
		d.mu.Unlock()
		return err
	}

	d.uiTransfer = &uiTransfer{requestID: id, onDone: onDone, active: true}
	entry := &pendingEntry{kind: kindUiBlock}
	entry.timer = time.AfterFunc(d.watchdogLocked(), func() { d.onWatchdog(id) })
	d.pending[id] = entry
	d.mu.Unlock()

	return d.send(&wire.ReadUiStateBlock{RequestID: id, BlockNumber: 0})
}

// HandleMessage routes one decoded incoming message. Call it from the
// frame-reader loop after wire.Decode.
func (d *Dispatcher) HandleMessage(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.CallReturn:
		d.completeSlot(m.RequestID)
		if d.callbacks.OnReturn != nil {
			d.callbacks.OnReturn(m.RequestID, m.Values)
		}
	case *wire.Notification:
		if d.callbacks.OnNotification != nil {
			d.callbacks.OnNotification(m.MachineIndex, m.FunctionIndex, m.Values)
		}
	case *wire.Error:
		if m.HasRequestID {
			d.completeSlot(m.RequestID)
			d.completeUiOrI2c(m.RequestID)
		}
		if d.callbacks.OnError != nil {
			d.callbacks.OnError(m.HasRequestID, m.RequestID, m.ErrorCode, m.Msg)
		}
	case *wire.UiStateBlockReply:
		d.handleUiStateBlockReply(m)
	case *wire.I2cDevicesReply:
		d.completeEntry(m.RequestID)
		if d.callbacks.OnI2cDevices != nil {
			d.callbacks.OnI2cDevices(m.RequestID, m.TotalCount, m.Devices)
		}
	}
}

// completeSlot clears the in-flight state for a call/call_shared request
// and, if a coalesced call is waiting, sends it.
func (d *Dispatcher) completeSlot(id uint16) {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if !ok || (entry.kind != kindCall && entry.kind != kindCallShared) {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)
	entry.timer.Stop()

	s := d.slots[entry.key]
	s.inFlight = false

	var next wire.Message
	var sendErr error
	if s.hasPending {
		next, sendErr = d.startLocked(entry.key, s, s.pendingArgs, entry.kind)
	}
	d.mu.Unlock()

	if next != nil && sendErr == nil {
		d.send(next)
	}
}

// completeEntry clears a non-coalesced pending request (I2C page read).
func (d *Dispatcher) completeEntry(id uint16) {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if ok {
		delete(d.pending, id)
		entry.timer.Stop()
	}
	d.mu.Unlock()
}

// completeUiOrI2c clears a pending UI-block or I2C-page request when the
// device reports an error for it instead of a reply.
func (d *Dispatcher) completeUiOrI2c(id uint16) {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	switch entry.kind {
	case kindUiBlock:
		var onDone func([]byte, error)
		if d.uiTransfer != nil && d.uiTransfer.requestID == id {
			d.uiTransfer.active = false
			onDone = d.uiTransfer.onDone
		}
		delete(d.pending, id)
		entry.timer.Stop()
		d.mu.Unlock()
		if onDone != nil {
			onDone(nil, ErrRequestTimedOut)
		}
	case kindI2cDevices:
		delete(d.pending, id)
		entry.timer.Stop()
		d.mu.Unlock()
	default:
		d.mu.Unlock()
	}
}

// handleUiStateBlockReply advances the in-progress UI-state transfer.
// Zero total_size ends the transfer immediately (§6). An out-of-order
// block number aborts with no restore attempt (§4.5, §8 scenario 6).
func (d *Dispatcher) handleUiStateBlockReply(m *wire.UiStateBlockReply) {
	d.mu.Lock()
	t := d.uiTransfer
	if t == nil || !t.active || t.requestID != m.RequestID {
		d.mu.Unlock()
		return
	}

	if entry, ok := d.pending[m.RequestID]; ok {
		delete(d.pending, m.RequestID)
		entry.timer.Stop()
	}

	if m.TotalSize == 0 {
		t.active = false
		onDone := t.onDone
		d.mu.Unlock()
		if onDone != nil {
			onDone(nil, nil)
		}
		return
	}

	if m.BlockNumber != t.nextBlock {
		t.active = false
		onDone := t.onDone
		d.mu.Unlock()
		if onDone != nil {
			onDone(nil, ErrUiTransferOutOfOrder)
		}
		return
	}

	t.total = m.TotalSize
	t.data = append(t.data, m.Block...)
	t.nextBlock++

	if uint32(len(t.data)) >= t.total {
		t.active = false
		data := t.data
		onDone := t.onDone
		d.mu.Unlock()
		if onDone != nil {
			onDone(data, nil)
		}
		return
	}

	id, err := d.allocateIDLocked()
	if err != nil {
		t.active = false
		onDone := t.onDone
		d.mu.Unlock()
		if onDone != nil {
			onDone(nil, err)
		}
		return
	}
	t.requestID = id
	entry := &pendingEntry{kind: kindUiBlock}
	entry.timer = time.AfterFunc(d.watchdogLocked(), func() { d.onWatchdog(id) })
	d.pending[id] = entry
	blockNo := t.nextBlock
	d.mu.Unlock()

	d.send(&wire.ReadUiStateBlock{RequestID: id, BlockNumber: blockNo})
}

// onWatchdog fires when a request's timer expires with no reply. Per
// §4.5 it marks the request failed and releases its slot so the next
// coalesced call can proceed.
func (d *Dispatcher) onWatchdog(id uint16) {
	d.mu.Lock()
	entry, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.pending, id)

	var next wire.Message
	switch entry.kind {
	case kindCall, kindCallShared:
		s := d.slots[entry.key]
		s.inFlight = false
		if s.hasPending {
			var err error
			next, err = d.startLocked(entry.key, s, s.pendingArgs, entry.kind)
			if err != nil {
				next = nil
			}
		}
	case kindUiBlock:
		if d.uiTransfer != nil && d.uiTransfer.requestID == id {
			d.uiTransfer.active = false
		}
	}
	cb := d.callbacks.OnError
	var onDone func([]byte, error)
	if entry.kind == kindUiBlock && d.uiTransfer != nil && d.uiTransfer.requestID == id {
		onDone = d.uiTransfer.onDone
	}
	d.mu.Unlock()

	if cb != nil {
		cb(true, id, hostErrorCodeTimeout, "request timed out")
	}
	if onDone != nil {
		onDone(nil, ErrRequestTimedOut)
	}
	if next != nil {
		d.send(next)
	}
}
