package ezsp

import (
	"encoding/binary"
	"fmt"
)

// FrameFormat is the EZSP header layout in force for the connection,
// selected once after the mandatory version handshake and held for its
// lifetime (spec.md §4.3: "the codec is parameterized by that version
// thereafter").
type FrameFormat int

const (
	// FrameFormatLegacy covers protocol versions below 5:
	// seq | control_low | command_id(1).
	FrameFormatLegacy FrameFormat = iota
	// FrameFormatPadded covers protocol versions 5 through 7:
	// seq | control_low | 0xFF | control_high | command_id(1).
	FrameFormatPadded
	// FrameFormatExtended covers protocol version 8 and above:
	// seq | control_low | control_high | command_id(2, little-endian).
	FrameFormatExtended
)

// FrameFormatFor picks the header layout for a negotiated protocol version.
func FrameFormatFor(protocolVersion uint8) FrameFormat {
	switch {
	case protocolVersion < 5:
		return FrameFormatLegacy
	case protocolVersion < 8:
		return FrameFormatPadded
	default:
		return FrameFormatExtended
	}
}

// Control-low bit layout (present in every frame format).
const (
	ctrlLowOverflow  = 0x01
	ctrlLowTruncated = 0x02
	ctrlLowCallback  = 0x04 // callback pending (legacy) / is-response discriminator helper
	ctrlLowDirResp   = 0x80 // 1 = response, 0 = command
)

// ControlBytes models the direction, sleep-mode, overflow/truncated/
// callback-pending, callback-type, network-index, frame-format-version, and
// padding/security-enabled bits spec.md §4.3 names, as named accessors
// rather than inline literals.
type ControlBytes struct {
	Response        bool
	CallbackPending bool
	Overflow        bool
	Truncated       bool
	NetworkIndex    uint8 // 0..3, control_high bits 5:4 in extended format
	PaddingEnabled  bool
	SecurityEnabled bool
}

func (c ControlBytes) lowByte() byte {
	var b byte
	if c.Response {
		b |= ctrlLowDirResp
	}
	if c.CallbackPending {
		b |= ctrlLowCallback
	}
	if c.Overflow {
		b |= ctrlLowOverflow
	}
	if c.Truncated {
		b |= ctrlLowTruncated
	}
	return b
}

func controlBytesFromLow(low byte) ControlBytes {
	return ControlBytes{
		Response:        low&ctrlLowDirResp != 0,
		CallbackPending: low&ctrlLowCallback != 0,
		Overflow:        low&ctrlLowOverflow != 0,
		Truncated:       low&ctrlLowTruncated != 0,
	}
}

func (c ControlBytes) highByte() byte {
	var b byte
	b |= (c.NetworkIndex & 0x03) << 4
	if c.PaddingEnabled {
		b |= 0x40
	}
	if c.SecurityEnabled {
		b |= 0x80
	}
	return b
}

func applyHighByte(c *ControlBytes, high byte) {
	c.NetworkIndex = (high >> 4) & 0x03
	c.PaddingEnabled = high&0x40 != 0
	c.SecurityEnabled = high&0x80 != 0
}

// Frame is a fully decoded EZSP envelope: sequence number, control bits,
// command id, and the raw parameter bytes.
type Frame struct {
	Seq     uint8
	Control ControlBytes
	ID      CommandID
	Params  []byte
}

// Encode serializes f according to format.
func Encode(format FrameFormat, f Frame) []byte {
	switch format {
	case FrameFormatExtended:
		out := make([]byte, 0, 5+len(f.Params))
		out = append(out, f.Seq, f.Control.lowByte(), f.Control.highByte())
		var idBuf [2]byte
		binary.LittleEndian.PutUint16(idBuf[:], uint16(f.ID))
		out = append(out, idBuf[:]...)
		return append(out, f.Params...)
	case FrameFormatPadded:
		out := make([]byte, 0, 5+len(f.Params))
		out = append(out, f.Seq, f.Control.lowByte(), 0xFF, f.Control.highByte(), byte(f.ID))
		return append(out, f.Params...)
	default: // FrameFormatLegacy
		out := make([]byte, 0, 3+len(f.Params))
		out = append(out, f.Seq, f.Control.lowByte(), byte(f.ID))
		return append(out, f.Params...)
	}
}

// Decode parses raw bytes according to format.
func Decode(format FrameFormat, raw []byte) (Frame, error) {
	switch format {
	case FrameFormatExtended:
		if len(raw) < 5 {
			return Frame{}, fmt.Errorf("%w: extended header needs 5 bytes, got %d", ErrShortBuffer, len(raw))
		}
		f := Frame{Seq: raw[0], Control: controlBytesFromLow(raw[1])}
		applyHighByte(&f.Control, raw[2])
		f.ID = CommandID(binary.LittleEndian.Uint16(raw[3:5]))
		f.Params = raw[5:]
		return f, nil
	case FrameFormatPadded:
		if len(raw) < 5 {
			return Frame{}, fmt.Errorf("%w: padded header needs 5 bytes, got %d", ErrShortBuffer, len(raw))
		}
		f := Frame{Seq: raw[0], Control: controlBytesFromLow(raw[1])}
		// raw[2] is the 0xFF pad byte; ignored on decode.
		applyHighByte(&f.Control, raw[3])
		f.ID = CommandID(raw[4])
		f.Params = raw[5:]
		return f, nil
	default: // FrameFormatLegacy
		if len(raw) < 3 {
			return Frame{}, fmt.Errorf("%w: legacy header needs 3 bytes, got %d", ErrShortBuffer, len(raw))
		}
		f := Frame{Seq: raw[0], Control: controlBytesFromLow(raw[1])}
		f.ID = CommandID(raw[2])
		f.Params = raw[3:]
		return f, nil
	}
}
