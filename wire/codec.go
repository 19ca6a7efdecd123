// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package wire

import (
	"encoding/binary"

	"github.com/fluxpilot/pilot/vm"
)

// byteReader is a small bounds-checked cursor over a decode buffer. Every
// read reports ErrFrameTooShort rather than panicking on a torn frame.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) u8() (uint8, error) {
	if r.pos+1 > len(r.data) {
		return 0, ErrFrameTooShort
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrFrameTooShort
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrFrameTooShort
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrFrameTooShort
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+n])
	r.pos += n
	return v, nil
}

func (r *byteReader) stackWords(n int) ([]vm.StackWord, error) {
	if n < 0 || r.pos+n*4 > len(r.data) {
		return nil, ErrFrameTooShort
	}
	out := make([]vm.StackWord, n)
	for i := range out {
		out[i] = vm.StackWord(binary.LittleEndian.Uint32(r.data[r.pos:]))
		r.pos += 4
	}
	return out, nil
}

func (r *byteReader) programWords(n int) ([]vm.ProgramWord, error) {
	if n < 0 || r.pos+n*2 > len(r.data) {
		return nil, ErrFrameTooShort
	}
	out := make([]vm.ProgramWord, n)
	for i := range out {
		out[i] = vm.ProgramWord(binary.LittleEndian.Uint16(r.data[r.pos:]))
		r.pos += 2
	}
	return out, nil
}

func (r *byteReader) u16s(n int) ([]uint16, error) {
	if n < 0 || r.pos+n*2 > len(r.data) {
		return nil, ErrFrameTooShort
	}
	out := make([]uint16, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(r.data[r.pos:])
		r.pos += 2
	}
	return out, nil
}

func appendU16(buf []byte, v uint16) []byte { return binary.LittleEndian.AppendUint16(buf, v) }
func appendU32(buf []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(buf, v) }

func appendStackWords(buf []byte, vals []vm.StackWord) []byte {
	for _, v := range vals {
		buf = appendU32(buf, uint32(v))
	}
	return buf
}

func appendProgramWords(buf []byte, vals []vm.ProgramWord) []byte {
	for _, v := range vals {
		buf = appendU16(buf, v)
	}
	return buf
}

func appendU16s(buf []byte, vals []uint16) []byte {
	for _, v := range vals {
		buf = appendU16(buf, v)
	}
	return buf
}

// Encode renders msg as a tagged payload (tag byte followed by its fields,
// not yet COBS-stuffed or delimited).
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *CallRequest:
		return encodeCallRequest(m)
	case *CallReturn:
		return encodeCallReturn(m), nil
	case *Notification:
		return encodeNotification(m), nil
	case *Error:
		return encodeError(m), nil
	case *LoadProgram:
		return encodeLoadProgram(m)
	case *ReadUiStateBlock:
		return encodeReadUiStateBlock(m), nil
	case *UiStateBlockReply:
		return encodeUiStateBlockReply(m), nil
	case *ReadI2cDevices:
		return encodeReadI2cDevices(m), nil
	case *I2cDevicesReply:
		return encodeI2cDevicesReply(m), nil
	case *CallSharedRequest:
		return encodeCallSharedRequest(m)
	default:
		return nil, ErrUnknownMessageType
	}
}

// Decode parses a tagged payload (as produced by Encode, after COBS
// unstuffing and delimiter stripping) back into a typed Message.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	tag := Tag(frame[0])
	body := &byteReader{data: frame[1:]}

	switch tag {
	case TagCallRequest:
		return decodeCallRequest(body)
	case TagCallReturn:
		return decodeCallReturn(body)
	case TagNotification:
		return decodeNotification(body)
	case TagError:
		return decodeError(body)
	case TagLoadProgram:
		return decodeLoadProgram(body)
	case TagReadUiStateBlock:
		return decodeReadUiStateBlock(body)
	case TagUiStateBlockReply:
		return decodeUiStateBlockReply(body)
	case TagReadI2cDevices:
		return decodeReadI2cDevices(body)
	case TagI2cDevicesReply:
		return decodeI2cDevicesReply(body)
	case TagCallSharedRequest:
		return decodeCallSharedRequest(body)
	default:
		return nil, ErrUnknownTag
	}
}

func encodeCallRequest(m *CallRequest) ([]byte, error) {
	if len(m.Args) > 0xffff {
		return nil, ErrFrameTooLarge
	}
	buf := []byte{byte(TagCallRequest)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.MachineIndex)
	buf = appendU16(buf, m.FunctionIndex)
	buf = appendU16(buf, uint16(len(m.Args)))
	buf = appendStackWords(buf, m.Args)
	return buf, nil
}

func decodeCallRequest(r *byteReader) (*CallRequest, error) {
	m := &CallRequest{}
	var argCount uint16
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.MachineIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if m.FunctionIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if argCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Args, err = r.stackWords(int(argCount)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeCallReturn(m *CallReturn) []byte {
	buf := []byte{byte(TagCallReturn)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, uint16(len(m.Values)))
	buf = appendStackWords(buf, m.Values)
	return buf
}

func decodeCallReturn(r *byteReader) (*CallReturn, error) {
	m := &CallReturn{}
	var valueCount uint16
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if valueCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Values, err = r.stackWords(int(valueCount)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeNotification(m *Notification) []byte {
	buf := []byte{byte(TagNotification)}
	buf = appendU16(buf, m.MachineIndex)
	buf = appendU16(buf, m.FunctionIndex)
	buf = appendU16(buf, uint16(len(m.Values)))
	buf = appendStackWords(buf, m.Values)
	return buf
}

func decodeNotification(r *byteReader) (*Notification, error) {
	m := &Notification{}
	var valueCount uint16
	var err error
	if m.MachineIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if m.FunctionIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if valueCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Values, err = r.stackWords(int(valueCount)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeError(m *Error) []byte {
	buf := []byte{byte(TagError)}
	if m.HasRequestID {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.ErrorCode)
	msg := []byte(m.Msg)
	buf = appendU16(buf, uint16(len(msg)))
	buf = append(buf, msg...)
	return buf
}

func decodeError(r *byteReader) (*Error, error) {
	m := &Error{}
	var hasID uint8
	var msgLen uint16
	var err error
	if hasID, err = r.u8(); err != nil {
		return nil, err
	}
	m.HasRequestID = hasID != 0
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.ErrorCode, err = r.u16(); err != nil {
		return nil, err
	}
	if msgLen, err = r.u16(); err != nil {
		return nil, err
	}
	msg, err := r.bytes(int(msgLen))
	if err != nil {
		return nil, err
	}
	m.Msg = string(msg)
	return m, nil
}

func encodeLoadProgram(m *LoadProgram) ([]byte, error) {
	if len(m.Program) > 0xffff {
		return nil, ErrFrameTooLarge
	}
	buf := []byte{byte(TagLoadProgram)}
	buf = appendU16(buf, uint16(len(m.Program)))
	buf = appendProgramWords(buf, m.Program)
	buf = appendU32(buf, uint32(len(m.UiBlob)))
	buf = append(buf, m.UiBlob...)
	return buf, nil
}

func decodeLoadProgram(r *byteReader) (*LoadProgram, error) {
	m := &LoadProgram{}
	var wordCount uint16
	var blobLen uint32
	var err error
	if wordCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Program, err = r.programWords(int(wordCount)); err != nil {
		return nil, err
	}
	if blobLen, err = r.u32(); err != nil {
		return nil, err
	}
	if m.UiBlob, err = r.bytes(int(blobLen)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeReadUiStateBlock(m *ReadUiStateBlock) []byte {
	buf := []byte{byte(TagReadUiStateBlock)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.BlockNumber)
	return buf
}

func decodeReadUiStateBlock(r *byteReader) (*ReadUiStateBlock, error) {
	m := &ReadUiStateBlock{}
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.BlockNumber, err = r.u16(); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeUiStateBlockReply(m *UiStateBlockReply) []byte {
	buf := []byte{byte(TagUiStateBlockReply)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU32(buf, m.TotalSize)
	buf = appendU16(buf, m.BlockNumber)
	buf = appendU16(buf, uint16(len(m.Block)))
	buf = append(buf, m.Block...)
	return buf
}

func decodeUiStateBlockReply(r *byteReader) (*UiStateBlockReply, error) {
	m := &UiStateBlockReply{}
	var blockLen uint16
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.TotalSize, err = r.u32(); err != nil {
		return nil, err
	}
	if m.BlockNumber, err = r.u16(); err != nil {
		return nil, err
	}
	if blockLen, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Block, err = r.bytes(int(blockLen)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeReadI2cDevices(m *ReadI2cDevices) []byte {
	buf := []byte{byte(TagReadI2cDevices)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.Offset)
	return buf
}

func decodeReadI2cDevices(r *byteReader) (*ReadI2cDevices, error) {
	m := &ReadI2cDevices{}
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Offset, err = r.u16(); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeI2cDevicesReply(m *I2cDevicesReply) []byte {
	buf := []byte{byte(TagI2cDevicesReply)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.TotalCount)
	buf = appendU16(buf, uint16(len(m.Devices)))
	buf = appendU16s(buf, m.Devices)
	return buf
}

func decodeI2cDevicesReply(r *byteReader) (*I2cDevicesReply, error) {
	m := &I2cDevicesReply{}
	var pageCount uint16
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.TotalCount, err = r.u16(); err != nil {
		return nil, err
	}
	if pageCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Devices, err = r.u16s(int(pageCount)); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeCallSharedRequest(m *CallSharedRequest) ([]byte, error) {
	if len(m.Args) > 0xffff {
		return nil, ErrFrameTooLarge
	}
	buf := []byte{byte(TagCallSharedRequest)}
	buf = appendU16(buf, m.RequestID)
	buf = appendU16(buf, m.FunctionIndex)
	buf = appendU16(buf, uint16(len(m.Args)))
	buf = appendStackWords(buf, m.Args)
	return buf, nil
}

func decodeCallSharedRequest(r *byteReader) (*CallSharedRequest, error) {
	m := &CallSharedRequest{}
	var argCount uint16
	var err error
	if m.RequestID, err = r.u16(); err != nil {
		return nil, err
	}
	if m.FunctionIndex, err = r.u16(); err != nil {
		return nil, err
	}
	if argCount, err = r.u16(); err != nil {
		return nil, err
	}
	if m.Args, err = r.stackWords(int(argCount)); err != nil {
		return nil, err
	}
	return m, nil
}
