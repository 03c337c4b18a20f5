// Package frame builds and parses the fixed-header binary frames spoken by the
// SNR9816 speech module.
//
// Every frame starts with the head byte 0xFD followed by a big-endian 16-bit
// length that counts all bytes after the length field.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Head is the first byte of every frame.
const Head byte = 0xFD

// Command codes.
const (
	CmdSpeak  byte = 0x01
	CmdStop   byte = 0x02
	CmdPause  byte = 0x03
	CmdStatus byte = 0x21
)

// CodecGBK is the only text codec used by the driver.
const CodecGBK byte = 0x01

// StatusIdle is the response byte the module returns when it is idle.
const StatusIdle byte = 0x4F

const (
	headerSize     = 3
	maxFrameLength = 0xFFFF
)

var (
	// ErrEncodingTooLarge is returned when a payload does not fit the 16-bit length field.
	ErrEncodingTooLarge = errors.New("encoded payload exceeds frame length field")
	// ErrShortFrame is returned by Decode when the buffer ends before the frame does.
	ErrShortFrame = errors.New("short frame")
	// ErrBadHead is returned by Decode when the first byte is not the frame head.
	ErrBadHead = errors.New("bad frame head")
)

// Frame is a decoded frame. HasCodec reports whether the codec byte is present.
type Frame struct {
	Command  byte
	Codec    byte
	HasCodec bool
	Payload  []byte
}

// Encode builds a frame carrying a codec byte and a payload.
func Encode(command, codec byte, payload []byte) ([]byte, error) {
	length := len(payload) + 2
	if length > maxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrEncodingTooLarge, length)
	}

	out := make([]byte, 0, headerSize+length)
	out = append(out, Head)
	out = binary.BigEndian.AppendUint16(out, uint16(length))
	out = append(out, command, codec)
	out = append(out, payload...)

	return out, nil
}

// EncodeControl builds a single-byte control frame such as status, pause or stop.
func EncodeControl(command byte) []byte {
	return []byte{Head, 0x00, 0x01, command}
}

// Bytes encodes f, using the control shape when f has no codec.
func (f Frame) Bytes() ([]byte, error) {
	if !f.HasCodec {
		return EncodeControl(f.Command), nil
	}

	return Encode(f.Command, f.Codec, f.Payload)
}

// Decode parses the frame at the start of data and returns it together with
// the number of bytes it occupied.
func Decode(data []byte) (Frame, int, error) {
	if len(data) < headerSize+1 {
		return Frame{}, 0, ErrShortFrame
	}

	if data[0] != Head {
		return Frame{}, 0, fmt.Errorf("%w: 0x%02X", ErrBadHead, data[0])
	}

	length := int(binary.BigEndian.Uint16(data[1:headerSize]))
	total := headerSize + length

	if length == 0 || len(data) < total {
		return Frame{}, 0, ErrShortFrame
	}

	body := data[headerSize:total]
	if length == 1 {
		return Frame{Command: body[0]}, total, nil
	}

	payload := make([]byte, len(body)-2)
	copy(payload, body[2:])

	return Frame{
		Command:  body[0],
		Codec:    body[1],
		HasCodec: true,
		Payload:  payload,
	}, total, nil
}

// IsIdle reports whether a status response byte means the module is idle.
func IsIdle(response byte) bool {
	return response == StatusIdle
}
