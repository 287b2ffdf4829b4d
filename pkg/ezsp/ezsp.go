package ezsp

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DataLink is the subset of pkg/ash.Link the EZSP layer needs: send a
// payload, receive reassembled payloads, know whether the session is up.
// Decoupled from *ash.Link by an interface so tests can substitute a fake
// link, matching the teacher's dependency-injection style.
type DataLink interface {
	SendData(payload []byte) error
	RecvData() <-chan []byte
	IsConnected() bool
}

// ErrStopped is returned by SendCommand after Close.
var ErrStopped = errors.New("ezsp: stopped")

// ErrTimeout is returned by SendCommand when no response arrives in time.
var ErrTimeout = errors.New("ezsp: response timeout")

const responseTimeout = 5 * time.Second

// Layer is the EZSP command/response codec and callback dispatcher over an
// ASH link (C3).
type Layer struct {
	link DataLink

	format   FrameFormat
	formatMu sync.RWMutex

	seqMu sync.Mutex
	seq   uint8

	pendingMu sync.Mutex
	pending   map[uint8]chan Frame

	callbackMu sync.RWMutex
	callback   func(Frame)

	unrecognizedMu sync.RWMutex
	unrecognized   func(Unrecognized)

	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates an EZSP layer over link. The frame format starts legacy and
// is fixed by NegotiateVersion.
func New(link DataLink) *Layer {
	return &Layer{
		link:     link,
		format:   FrameFormatLegacy,
		pending:  make(map[uint8]chan Frame),
		stopChan: make(chan struct{}),
	}
}

// SetCallbackHandler installs the handler invoked for every NCP-originated
// callback frame (spec.md §4.3 callback dispatch).
func (l *Layer) SetCallbackHandler(h func(Frame)) {
	l.callbackMu.Lock()
	l.callback = h
	l.callbackMu.Unlock()
}

// SetUnrecognizedHandler installs the handler invoked when a frame's
// command id is outside the known catalog (spec.md §7).
func (l *Layer) SetUnrecognizedHandler(h func(Unrecognized)) {
	l.unrecognizedMu.Lock()
	l.unrecognized = h
	l.unrecognizedMu.Unlock()
}

// Start begins dispatching frames delivered by the underlying link.
func (l *Layer) Start() {
	go l.readLoop()
}

// Close stops the dispatch loop. The underlying link is owned by the
// caller and is not closed here.
func (l *Layer) Close() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *Layer) getFormat() FrameFormat {
	l.formatMu.RLock()
	defer l.formatMu.RUnlock()
	return l.format
}

func (l *Layer) setFormat(f FrameFormat) {
	l.formatMu.Lock()
	l.format = f
	l.formatMu.Unlock()
}

// Send encodes and transmits a command frame, then blocks for its matching
// response. Command/response pairing is by seq, not by command id: a
// response is only ever delivered to the Send call whose outgoing seq it
// carries, so a late response to an earlier, already-timed-out request can
// never be misdelivered to a newer request for the same command id.
func (l *Layer) Send(id CommandID, params []byte) (Frame, error) {
	l.seqMu.Lock()
	seq := l.seq
	l.seq++
	l.seqMu.Unlock()

	ch := make(chan Frame, 1)
	l.pendingMu.Lock()
	l.pending[seq] = ch
	l.pendingMu.Unlock()
	defer func() {
		l.pendingMu.Lock()
		delete(l.pending, seq)
		l.pendingMu.Unlock()
	}()

	frame := Frame{Seq: seq, ID: id, Params: params}
	raw := Encode(l.getFormat(), frame)

	log.Debug().Uint8("seq", seq).Uint16("id", uint16(id)).Int("params", len(params)).Msg("ezsp: tx command")

	if err := l.link.SendData(raw); err != nil {
		return Frame{}, fmt.Errorf("ezsp: send 0x%04X: %w", id, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(responseTimeout):
		return Frame{}, fmt.Errorf("%w: 0x%04X", ErrTimeout, id)
	case <-l.stopChan:
		return Frame{}, ErrStopped
	}
}

func (l *Layer) readLoop() {
	for {
		select {
		case <-l.stopChan:
			return
		case raw, ok := <-l.link.RecvData():
			if !ok {
				return
			}
			l.dispatch(raw)
		}
	}
}

func (l *Layer) dispatch(raw []byte) {
	frame, err := Decode(l.getFormat(), raw)
	if err != nil {
		log.Warn().Err(err).Msg("ezsp: malformed frame, discarding")
		return
	}

	if !IsKnown(frame.ID) {
		u := Unrecognized{ID: frame.ID, Bytes: frame.Params}
		log.Debug().Uint16("id", uint16(frame.ID)).Msg("ezsp: unrecognized command id")
		l.unrecognizedMu.RLock()
		h := l.unrecognized
		l.unrecognizedMu.RUnlock()
		if h != nil {
			h(u)
		}
		return
	}

	if isCallback(frame.ID) {
		l.callbackMu.RLock()
		h := l.callback
		l.callbackMu.RUnlock()
		if h != nil {
			h(frame)
		}
		return
	}

	l.pendingMu.Lock()
	ch, ok := l.pending[frame.Seq]
	l.pendingMu.Unlock()
	if ok {
		select {
		case ch <- frame:
		default:
		}
		return
	}
	log.Debug().Uint8("seq", frame.Seq).Uint16("id", uint16(frame.ID)).Msg("ezsp: response with no waiter for this seq, dropping")
}

// NegotiateVersion runs the mandatory version handshake (spec.md §4.3): ask
// for desiredVersion, and if the NCP replies with a single byte (its own
// supported version), retry once with that version. The frame format is
// fixed for the rest of the session based on the negotiated result.
func (l *Layer) NegotiateVersion(desiredVersion uint8) (VersionResponse, error) {
	l.seqMu.Lock()
	l.seq = 0
	l.seqMu.Unlock()

	frame, err := l.Send(Version, VersionRequest{DesiredProtocolVersion: desiredVersion}.Encode())
	if err != nil {
		return VersionResponse{}, fmt.Errorf("version negotiation: %w", err)
	}

	if len(frame.Params) == 1 {
		ncpVersion := frame.Params[0]
		log.Info().Uint8("requested", desiredVersion).Uint8("ncpSupports", ncpVersion).
			Msg("ezsp: version mismatch, retrying with NCP-reported version")

		l.setFormat(FrameFormatFor(ncpVersion))

		frame, err = l.Send(Version, VersionRequest{DesiredProtocolVersion: ncpVersion}.Encode())
		if err != nil {
			return VersionResponse{}, fmt.Errorf("version negotiation retry: %w", err)
		}
	}

	resp, err := DecodeVersionResponse(frame.Params)
	if err != nil {
		return resp, fmt.Errorf("version response: %w", err)
	}

	l.setFormat(FrameFormatFor(resp.ProtocolVersion))
	log.Info().Uint8("protocol", resp.ProtocolVersion).Uint8("stackType", resp.StackType).
		Uint16("stackVersion", resp.StackVersion).Msg("ezsp: version negotiated")

	return resp, nil
}
