// Package ezsp implements the EZSP command/response framing carried inside
// ASH DATA frames (C3): frame-format negotiation, the named command
// catalog, and the byte-level parameter codec spec.md §4.3 describes.
package ezsp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec error taxonomy (spec.md §4.3/§7).
var (
	// ErrShortBuffer is returned when a Read* call needs more bytes than
	// remain in the cursor.
	ErrShortBuffer = errors.New("ezsp: short buffer")
	// ErrLengthOverflow is returned when a length-prefixed blob declares a
	// length longer than the remaining buffer, or longer than a caller-
	// supplied maximum.
	ErrLengthOverflow = errors.New("ezsp: length overflow")
	// ErrUnknownCommand names a frame whose command id is not in the known
	// catalog. Decode does not check the catalog; Layer's dispatch does, and
	// hands such a frame up as an Unrecognized (whose Error text includes
	// this message) without failing the session.
	ErrUnknownCommand = errors.New("ezsp: unknown command id")
)

// Params is a byte-cursor reader/writer for EZSP parameter lists: a closed
// set of primitive little-endian integers, fixed EUI64/key arrays, and
// length-prefixed blobs (spec.md §4.3 "parameter type rules").
type Params struct {
	buf []byte
	pos int
}

// NewParams wraps buf for reading from the start.
func NewParams(buf []byte) *Params {
	return &Params{buf: buf}
}

// NewParamsWriter returns an empty Params ready for Write* calls; Bytes()
// returns the accumulated buffer.
func NewParamsWriter() *Params {
	return &Params{buf: make([]byte, 0, 32)}
}

// Bytes returns the buffer accumulated by Write* calls, or the unread tail
// for a reader.
func (p *Params) Bytes() []byte {
	if p.pos == 0 {
		return p.buf
	}
	return p.buf[p.pos:]
}

// Remaining reports how many unread bytes are left.
func (p *Params) Remaining() int {
	return len(p.buf) - p.pos
}

func (p *Params) need(n int) error {
	if p.Remaining() < n {
		return fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, p.Remaining())
	}
	return nil
}

// ReadUint8 reads a single byte.
func (p *Params) ReadUint8() (uint8, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	v := p.buf[p.pos]
	p.pos++
	return v, nil
}

// ReadBool reads a one-byte EZSP boolean (0x00/0x01).
func (p *Params) ReadBool() (bool, error) {
	v, err := p.ReadUint8()
	return v != 0, err
}

// ReadUint16 reads a little-endian uint16.
func (p *Params) ReadUint16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(p.buf[p.pos:])
	p.pos += 2
	return v, nil
}

// ReadUint32 reads a little-endian uint32.
func (p *Params) ReadUint32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

// ReadUint64 reads a little-endian uint64.
func (p *Params) ReadUint64() (uint64, error) {
	if err := p.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(p.buf[p.pos:])
	p.pos += 8
	return v, nil
}

// ReadInt8 reads a signed byte (used for e.g. radio tx power).
func (p *Params) ReadInt8() (int8, error) {
	v, err := p.ReadUint8()
	return int8(v), err
}

// ReadEUI64 reads a fixed 8-byte IEEE address.
func (p *Params) ReadEUI64() ([8]byte, error) {
	var eui [8]byte
	if err := p.need(8); err != nil {
		return eui, err
	}
	copy(eui[:], p.buf[p.pos:p.pos+8])
	p.pos += 8
	return eui, nil
}

// ReadKey128 reads a fixed 16-byte security key.
func (p *Params) ReadKey128() ([16]byte, error) {
	var key [16]byte
	if err := p.need(16); err != nil {
		return key, err
	}
	copy(key[:], p.buf[p.pos:p.pos+16])
	p.pos += 16
	return key, nil
}

// ReadFixed reads n raw bytes verbatim.
func (p *Params) ReadFixed(n int) ([]byte, error) {
	if err := p.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.buf[p.pos:p.pos+n])
	p.pos += n
	return out, nil
}

// ReadBlob reads a one-byte length prefix followed by that many bytes,
// rejecting a declared length over max (spec.md §4.3 "length-prefixed
// blobs", §7 LengthOverflow).
func (p *Params) ReadBlob(max int) ([]byte, error) {
	n, err := p.ReadUint8()
	if err != nil {
		return nil, err
	}
	if int(n) > max {
		return nil, fmt.Errorf("%w: declared %d, max %d", ErrLengthOverflow, n, max)
	}
	if int(n) > p.Remaining() {
		return nil, fmt.Errorf("%w: declared %d, remaining %d", ErrLengthOverflow, n, p.Remaining())
	}
	return p.ReadFixed(int(n))
}

// WriteUint8 appends a single byte.
func (p *Params) WriteUint8(v uint8) *Params {
	p.buf = append(p.buf, v)
	return p
}

// WriteBool appends a one-byte EZSP boolean.
func (p *Params) WriteBool(v bool) *Params {
	if v {
		return p.WriteUint8(0x01)
	}
	return p.WriteUint8(0x00)
}

// WriteUint16 appends a little-endian uint16.
func (p *Params) WriteUint16(v uint16) *Params {
	p.buf = append(p.buf, byte(v), byte(v>>8))
	return p
}

// WriteUint32 appends a little-endian uint32.
func (p *Params) WriteUint32(v uint32) *Params {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	p.buf = append(p.buf, b[:]...)
	return p
}

// WriteUint64 appends a little-endian uint64.
func (p *Params) WriteUint64(v uint64) *Params {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	p.buf = append(p.buf, b[:]...)
	return p
}

// WriteInt8 appends a signed byte.
func (p *Params) WriteInt8(v int8) *Params {
	return p.WriteUint8(uint8(v))
}

// WriteEUI64 appends a fixed 8-byte IEEE address.
func (p *Params) WriteEUI64(eui [8]byte) *Params {
	p.buf = append(p.buf, eui[:]...)
	return p
}

// WriteKey128 appends a fixed 16-byte security key.
func (p *Params) WriteKey128(key [16]byte) *Params {
	p.buf = append(p.buf, key[:]...)
	return p
}

// WriteFixed appends raw bytes verbatim.
func (p *Params) WriteFixed(b []byte) *Params {
	p.buf = append(p.buf, b...)
	return p
}

// WriteBlob appends a one-byte length prefix followed by data. Callers are
// responsible for ensuring len(data) <= 255.
func (p *Params) WriteBlob(data []byte) *Params {
	p.buf = append(p.buf, byte(len(data)))
	p.buf = append(p.buf, data...)
	return p
}
