// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package wire implements the deck RPC wire protocol: ten message kinds
// tagged by a single ASCII byte, little-endian binary fields, framed with
// COBS byte-stuffing and a 0x00 delimiter (§4.4, §6).
package wire

import "github.com/fluxpilot/pilot/vm"

// Tag is the 1-byte ASCII discriminator that opens every frame.
type Tag byte

const (
	TagCallRequest       Tag = 'R'
	TagCallReturn        Tag = 'r'
	TagNotification      Tag = 'N'
	TagError             Tag = 'E'
	TagLoadProgram       Tag = 'L'
	TagReadUiStateBlock  Tag = 'U'
	TagUiStateBlockReply Tag = 'u'
	TagReadI2cDevices    Tag = 'I'
	TagI2cDevicesReply   Tag = 'i'
	TagCallSharedRequest Tag = 'C'
)

// Message is implemented by every one of the ten wire message kinds.
type Message interface {
	Tag() Tag
}

// CallRequest asks the device to invoke a function on one instance.
type CallRequest struct {
	RequestID     uint16
	MachineIndex  uint16
	FunctionIndex uint16
	Args          []vm.StackWord
}

func (*CallRequest) Tag() Tag { return TagCallRequest }

// CallReturn carries the residual stack left by a completed CallRequest.
type CallReturn struct {
	RequestID uint16
	Values    []vm.StackWord
}

func (*CallReturn) Tag() Tag { return TagCallReturn }

// Notification is a spontaneous device-to-host report of a function's
// residual stack, not tied to a pending request ID.
type Notification struct {
	MachineIndex  uint16
	FunctionIndex uint16
	Values        []vm.StackWord
}

func (*Notification) Tag() Tag { return TagNotification }

// Error is a host-facing protocol error frame (§7 class 3). HasRequestID
// distinguishes a reply to a specific call from a spontaneous error.
type Error struct {
	HasRequestID bool
	RequestID    uint16
	ErrorCode    uint16
	Msg          string
}

func (*Error) Tag() Tag { return TagError }

// LoadProgram carries a whole program image plus the UI state blob to
// restore, in a single frame (§7 Open Question: single-shot, not chunked).
type LoadProgram struct {
	Program []vm.ProgramWord
	UiBlob  []byte
}

func (*LoadProgram) Tag() Tag { return TagLoadProgram }

// ReadUiStateBlock asks for one block of the persisted UI state blob.
type ReadUiStateBlock struct {
	RequestID   uint16
	BlockNumber uint16
}

func (*ReadUiStateBlock) Tag() Tag { return TagReadUiStateBlock }

// UiStateBlockReply carries one block of the UI state blob. TotalSize is
// authoritative for the consumer (§6).
type UiStateBlockReply struct {
	RequestID   uint16
	TotalSize   uint32
	BlockNumber uint16
	Block       []byte
}

func (*UiStateBlockReply) Tag() Tag { return TagUiStateBlockReply }

// ReadI2cDevices asks for a page of known I2C device addresses.
type ReadI2cDevices struct {
	RequestID uint16
	Offset    uint16
}

func (*ReadI2cDevices) Tag() Tag { return TagReadI2cDevices }

// I2cDevicesReply carries one page of I2C device addresses.
type I2cDevicesReply struct {
	RequestID  uint16
	TotalCount uint16
	Devices    []uint16
}

func (*I2cDevicesReply) Tag() Tag { return TagI2cDevicesReply }

// CallSharedRequest asks the device to invoke a shared function as if
// instance 0 were the caller (§4.2, §9 Open Question: requires ≥1 instance).
type CallSharedRequest struct {
	RequestID     uint16
	FunctionIndex uint16
	Args          []vm.StackWord
}

func (*CallSharedRequest) Tag() Tag { return TagCallSharedRequest }
