// Copyright 2024, Jason S. McMullan <jason.mcmullan@gmail.com>

package wire

import (
	"bufio"
	"io"
)

// frameDelimiter marks the end of every frame on the wire (§4.4, §6). It
// never appears inside a stuffed frame body; stuffCOBS guarantees that.
const frameDelimiter = 0x00

const maxStuffedBlock = 254

// stuffCOBS removes every zero byte from data, replacing each run between
// zero bytes with a length-prefixed block, so the returned bytes never
// contain a 0x00. Appending frameDelimiter to the result yields a
// self-delimiting frame.
func stuffCOBS(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/maxStuffedBlock+2)
	pos := 0
	for {
		limit := len(data) - pos
		if limit > maxStuffedBlock {
			limit = maxStuffedBlock
		}

		zeroIdx := -1
		for i := 0; i < limit; i++ {
			if data[pos+i] == 0 {
				zeroIdx = i
				break
			}
		}

		if zeroIdx >= 0 {
			out = append(out, byte(zeroIdx+1))
			out = append(out, data[pos:pos+zeroIdx]...)
			pos += zeroIdx + 1
			continue
		}

		if limit == maxStuffedBlock {
			out = append(out, maxStuffedBlock+1)
			out = append(out, data[pos:pos+maxStuffedBlock]...)
			pos += maxStuffedBlock
			continue
		}

		out = append(out, byte(limit+1))
		out = append(out, data[pos:pos+limit]...)
		return out
	}
}

// unstuffCOBS reverses stuffCOBS. It rejects a zero code byte, which can
// only appear if the frame was torn or never COBS-encoded.
func unstuffCOBS(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	pos := 0
	for pos < len(data) {
		code := int(data[pos])
		if code == 0 {
			return nil, ErrInvalidCOBSFrame
		}
		pos++

		n := code - 1
		if pos+n > len(data) {
			return nil, ErrInvalidCOBSFrame
		}
		out = append(out, data[pos:pos+n]...)
		pos += n

		if code != maxStuffedBlock+1 && pos < len(data) {
			out = append(out, 0)
		}
	}
	return out, nil
}

// WriteFrame stuffs payload and writes it followed by the frame delimiter.
func WriteFrame(w io.Writer, payload []byte) error {
	stuffed := stuffCOBS(payload)
	if _, err := w.Write(stuffed); err != nil {
		return err
	}
	_, err := w.Write([]byte{frameDelimiter})
	return err
}

// ReadFrame reads bytes up to and including the next frame delimiter and
// returns the unstuffed payload. It never aliases r's internal buffer.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	stuffed, err := r.ReadBytes(frameDelimiter)
	if err != nil {
		return nil, err
	}
	// Drop the trailing delimiter collected by ReadBytes.
	stuffed = stuffed[:len(stuffed)-1]
	return unstuffCOBS(stuffed)
}
