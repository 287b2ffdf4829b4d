// Package transport implements the serial byte-channel to the NCP (C1).
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// ErrUnavailable is returned when the serial device cannot be opened.
var ErrUnavailable = errors.New("transport: device unavailable")

// ErrClosed is returned by Read/Write once the port has been closed, or when
// the underlying device node has gone away (EBADF and friends).
var ErrClosed = errors.New("transport: closed")

// ErrTimeout is returned by ReadByte when no byte arrives within the
// configured inter-byte deadline.
var ErrTimeout = errors.New("transport: read timeout")

const (
	// DefaultBaud is the NCP's default UART rate (spec §6).
	DefaultBaud = 57600
	// DefaultReadTimeout bounds a single-byte read.
	DefaultReadTimeout = time.Second
)

// Port is a thin, blocking, byte-oriented channel to the NCP with one
// operation each way and a configurable inter-byte timeout. It is the only
// reader and only writer of the serial handle; the ASH link layer (C2)
// drives framing on top of it.
type Port struct {
	port serial.Port
	mu   sync.Mutex
	path string
}

// Options configures the serial line. Zero values fall back to the
// defaults (57600 baud, 1s inter-byte timeout); the line is always 8N1.
type Options struct {
	Baud        int
	ReadTimeout time.Duration
}

// Open opens the serial device at path with the given options (or the
// defaults for zero-valued fields). It sets baud rate, 8 data bits, no
// parity and one stop bit only; it configures no flow control, neither
// hardware RTS/CTS nor software XON/XOFF.
func Open(path string, opts Options) (*Port, error) {
	if opts.Baud == 0 {
		opts.Baud = DefaultBaud
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: opts.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}

	if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("%w: set read timeout: %v", ErrUnavailable, err)
	}

	log.Info().Str("port", path).Int("baud", opts.Baud).Msg("serial port opened")

	return &Port{port: p, path: path}, nil
}

// Write writes bytes to the wire. Short writes are permitted; callers that
// need the whole buffer written should loop (the ASH layer always hands a
// single already-assembled frame, so it does not need to here).
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.port.Write(data)
	if err != nil {
		return n, translateErr(err)
	}
	return n, nil
}

// ReadByte reads a single byte, or ErrTimeout if none arrives within the
// configured inter-byte deadline, or ErrClosed if the port has gone away.
func (p *Port) ReadByte() (byte, error) {
	buf := make([]byte, 1)
	n, err := p.port.Read(buf)
	if err != nil {
		return 0, translateErr(err)
	}
	if n == 0 {
		// go.bug.st/serial returns (0, nil) on read-timeout expiry rather
		// than a distinct error value.
		return 0, ErrTimeout
	}
	return buf[0], nil
}

// Close is idempotent.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		return translateErr(err)
	}
	return nil
}

// Path returns the device path this port was opened against.
func (p *Port) Path() string {
	return p.path
}

func translateErr(err error) error {
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return ErrClosed
	}
	return err
}
