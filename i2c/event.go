// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package i2c

import (
	"github.com/fluxpilot/pilot/vm"
	"github.com/fluxpilot/pilot/wire"
)

// eventMachineIndex is a reserved Notification.MachineIndex value that
// marks the frame as an I2C_EVENT rather than a per-instance report (§6
// names the I2C_EVENT field shape but not which of the ten wire message
// kinds carries it; Notification is the only spontaneous, unsolicited
// device-to-host kind that carries a list of values, so events ride on it
// under this sentinel).
const eventMachineIndex = 0xffff

// Event is one upstream I2C_EVENT: a bus transaction the device observed
// and is reporting to the host. There is no timestamp in USB routing
// mode (§6).
type Event struct {
	BusID       uint8
	Address7Bit uint8
	IsRead      bool
	Payload     []byte
}

// EncodeEvent packs an Event into the Notification that carries it on
// the wire.
func EncodeEvent(ev Event) *wire.Notification {
	isRead := vm.StackWord(0)
	if ev.IsRead {
		isRead = 1
	}

	values := make([]vm.StackWord, 0, 3+len(ev.Payload))
	values = append(values, vm.StackWord(ev.BusID), vm.StackWord(ev.Address7Bit), isRead)
	for _, b := range ev.Payload {
		values = append(values, vm.StackWord(b))
	}

	return &wire.Notification{MachineIndex: eventMachineIndex, Values: values}
}

// DecodeEvent recovers an Event from a Notification, reporting ok=false
// if n does not carry the I2C_EVENT sentinel.
func DecodeEvent(n *wire.Notification) (ev Event, ok bool) {
	if n.MachineIndex != eventMachineIndex || len(n.Values) < 3 {
		return Event{}, false
	}

	ev.BusID = uint8(n.Values[0])
	ev.Address7Bit = uint8(n.Values[1])
	ev.IsRead = n.Values[2] != 0
	if len(n.Values) > 3 {
		ev.Payload = make([]byte, len(n.Values)-3)
		for i, w := range n.Values[3:] {
			ev.Payload[i] = byte(w)
		}
	}
	return ev, true
}
