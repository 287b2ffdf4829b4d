// Package ash implements the Asynchronous Serial Host protocol (C2): a
// reliable, byte-stuffed, CRC-protected, sliding-window link layer on top of
// a raw serial byte stream. See spec §4.2.
package ash

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/coldboot/ezsphost/pkg/transport"
)

// Reserved bytes (spec §4.2).
const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	xonByte    = 0x11
	xoffByte   = 0x13
	subByte    = 0x18
	cancelByte = 0x1A
	flipBit    = 0x20
)

// Control-byte frame kinds.
const (
	ctrlACK    = 0x80 // 0b100xxxxx, low 3 bits ackNum
	ctrlNAK    = 0xA0 // 0b101xxxxx, low 3 bits ackNum
	ctrlRST    = 0xC0
	ctrlRSTACK = 0xC1
	ctrlERROR  = 0xC2

	ctrlTypeMask = 0xE0
	ctrlNrdyBit  = 0x08 // present on ACK/NAK only
)

const (
	// WINDOW is the sliding-window size. The spec default is 1 (§9 Open
	// Question c); parameterized here rather than hardcoded so a future NCP
	// firmware that supports a bigger window only needs this constant
	// changed.
	WINDOW = 1

	maxFrameLen = 133 // pre-stuffing, per spec §6

	handshakeTimeout   = 1600 * time.Millisecond
	handshakeMaxRetry  = 3
	maxDataRetries     = 5
	outboundQueueDepth = 20
	recvQueueDepth     = 20
)

// Errors surfaced to the supervisor (spec §7).
var (
	ErrNotConnected = errors.New("ash: link not connected")
	ErrNotActivated = errors.New("ash: link not activated")
	ErrBusy         = errors.New("ash: outbound queue full")
	ErrStopped      = errors.New("ash: link stopped")
	ErrAckTimeout   = errors.New("ash: ack timeout, link failed")
	ErrPeerError    = errors.New("ash: peer reported fatal error")
	ErrHandshake    = errors.New("ash: reset handshake failed")
)

// State is the link session state (spec §3).
type State int

const (
	StateDisconnected State = iota
	StateResetPending
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateResetPending:
		return "reset_pending"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metrics holds the Prometheus collectors the link layer updates. Register
// against a caller-supplied registry (never the global default) so multiple
// Link instances in one process don't collide.
type Metrics struct {
	framesTX  *prometheus.CounterVec
	framesRX  *prometheus.CounterVec
	crcErrors prometheus.Counter
	retransmits prometheus.Counter
	naksRX    prometheus.Counter
	nrdy      prometheus.Gauge
	state     prometheus.Gauge
}

// NewMetrics constructs and registers the ASH link metrics against reg. Pass
// a nil registry to skip registration (metrics are still computed, just not
// exported — useful in tests).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		framesTX: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ash_frames_sent_total",
			Help: "ASH frames sent by kind.",
		}, []string{"kind"}),
		framesRX: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ash_frames_received_total",
			Help: "ASH frames received by kind.",
		}, []string{"kind"}),
		crcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ash_crc_errors_total",
			Help: "Frames dropped for CRC mismatch.",
		}),
		retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ash_retransmits_total",
			Help: "DATA frames retransmitted.",
		}),
		naksRX: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ash_naks_received_total",
			Help: "NAK frames received.",
		}),
		nrdy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ash_nrdy",
			Help: "1 if the peer has asserted backpressure (nrdy), else 0.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ash_link_state",
			Help: "Current link state (0=disconnected,1=reset_pending,2=connected,3=failed).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.framesTX, m.framesRX, m.crcErrors, m.retransmits, m.naksRX, m.nrdy, m.state)
	}
	return m
}

// pendingFrame holds a DATA frame's frmNum and original (unrandomized)
// payload so it can be re-encoded from scratch on retry: the ackNum piggy-
// backed in the control byte is refreshed to the current rxExpected on
// every send, which means the CRC has to be recomputed each time too.
type pendingFrame struct {
	seq        uint8
	payload    []byte
	retries    int
	retransmit bool
}

func (pf *pendingFrame) encode(ackNum uint8) []byte {
	control := (pf.seq << 4) | (ackNum & 0x07)
	if pf.retransmit {
		control |= 0x08
	}

	// CRC covers the control byte plus the already-randomized data field,
	// per original_source/pi-zigbee-lib/uart.h (randomize, then CRC).
	raw := make([]byte, 0, len(pf.payload)+3)
	raw = append(raw, control)
	raw = append(raw, randomize(pf.payload)...)
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	return append(stuff(raw), flagByte)
}

// Port is the byte-channel contract the link layer needs from the serial
// transport (C1). *transport.Port satisfies it; tests substitute a fake.
type Port interface {
	Write([]byte) (int, error)
	ReadByte() (byte, error)
	Close() error
}

// Link is the ASH link layer over a serial transport (C1).
type Link struct {
	port Port

	stateMu sync.RWMutex
	state   State

	activatedMu sync.RWMutex
	activated   bool

	seqMu       sync.Mutex
	txSeq       uint8 // next frame this side will originate
	ackExpected uint8 // next unacknowledged frame
	rxExpected  uint8 // next frame expected from peer

	pendingMu sync.Mutex
	pending   map[uint8]*pendingFrame
	nrdy      bool

	outbound chan []byte
	recv     chan []byte

	resetCh  chan error
	stopChan chan struct{}
	stopOnce sync.Once

	metrics *Metrics
}

// New creates an ASH link layer over port. Call Connect before sending data.
func New(port Port, metrics *Metrics) *Link {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Link{
		port:     port,
		state:    StateDisconnected,
		pending:  make(map[uint8]*pendingFrame),
		outbound: make(chan []byte, outboundQueueDepth),
		recv:     make(chan []byte, recvQueueDepth),
		resetCh:  make(chan error, 1),
		stopChan: make(chan struct{}),
		metrics:  metrics,
	}
}

// Connect performs the reset handshake: send RST, wait for RSTACK, retrying
// up to handshakeMaxRetry times (spec §4.2 "Reset handshake"). On success
// the link is Connected with all sequence counters zeroed.
func (l *Link) Connect() error {
	l.setState(StateResetPending)
	go l.readLoop()
	go l.sendLoop()

	var lastErr error
	for attempt := 0; attempt < handshakeMaxRetry; attempt++ {
		if err := l.sendRST(); err != nil {
			return fmt.Errorf("send RST: %w", err)
		}
		select {
		case err := <-l.resetCh:
			if err == nil {
				log.Info().Msg("ash: link connected")
				return nil
			}
			lastErr = err
		case <-time.After(handshakeTimeout):
			lastErr = fmt.Errorf("%w: timeout waiting for RSTACK", ErrHandshake)
		case <-l.stopChan:
			return ErrStopped
		}
	}
	l.setState(StateFailed)
	return fmt.Errorf("%w after %d attempts: %v", ErrHandshake, handshakeMaxRetry, lastErr)
}

// Reset re-runs the handshake on an already-running link (e.g. after the
// EZSP layer detects a version mismatch that requires a fresh RST/RSTACK
// cycle).
func (l *Link) Reset() error {
	l.setState(StateResetPending)
	select {
	case <-l.resetCh:
	default:
	}
	if err := l.sendRST(); err != nil {
		return fmt.Errorf("send RST: %w", err)
	}
	select {
	case err := <-l.resetCh:
		return err
	case <-time.After(handshakeTimeout):
		return fmt.Errorf("%w: timeout waiting for RSTACK", ErrHandshake)
	case <-l.stopChan:
		return ErrStopped
	}
}

// Activate toggles the application-level gate. The link only drives DATA
// traffic while connected and activated (spec §3).
func (l *Link) Activate(on bool) {
	l.activatedMu.Lock()
	l.activated = on
	l.activatedMu.Unlock()
}

func (l *Link) isActivated() bool {
	l.activatedMu.RLock()
	defer l.activatedMu.RUnlock()
	return l.activated
}

// IsConnected reports whether the reset handshake has completed and the
// link has not since failed.
func (l *Link) IsConnected() bool {
	return l.getState() == StateConnected
}

// State returns the current link state.
func (l *Link) State() State {
	return l.getState()
}

func (l *Link) getState() State {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.state
}

func (l *Link) setState(s State) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
	l.metrics.state.Set(float64(s))
}

// SendData enqueues an EZSP payload for delivery in an ASH DATA frame. It
// does not block on the network; if the bounded outbound queue is full it
// returns ErrBusy immediately rather than dropping the payload silently
// (spec §5 "Overflow policy").
func (l *Link) SendData(payload []byte) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}
	if !l.isActivated() {
		return ErrNotActivated
	}
	select {
	case l.outbound <- payload:
		return nil
	default:
		return ErrBusy
	}
}

// RecvData returns the channel of reassembled EZSP payloads delivered by
// in-order DATA frames (C3 reads from this).
func (l *Link) RecvData() <-chan []byte {
	return l.recv
}

// Close stops the link's goroutines and closes the underlying transport.
func (l *Link) Close() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
	_ = l.port.Close()
}

// --- send side ---

// sendLoop is the single producer of DATA frames onto the wire. Because
// WINDOW==1 it only ever has one frame outstanding at a time; it waits for
// that frame's ACK/NAK (or retransmit-timer expiry) before pulling the next
// payload off the outbound queue.
func (l *Link) sendLoop() {
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		l.pendingMu.Lock()
		full := len(l.pending) >= WINDOW
		l.pendingMu.Unlock()
		if full {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if !l.IsConnected() || !l.isActivated() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		l.pendingMu.Lock()
		nrdy := l.nrdy
		l.pendingMu.Unlock()
		if nrdy {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		select {
		case payload := <-l.outbound:
			l.transmitNewFrame(payload)
		case <-l.stopChan:
			return
		case <-time.After(20 * time.Millisecond):
			l.checkRetransmit()
		}
	}
}

func (l *Link) transmitNewFrame(payload []byte) {
	l.seqMu.Lock()
	seq := l.txSeq
	l.txSeq = (l.txSeq + 1) & 0x07
	ack := l.rxExpected
	l.seqMu.Unlock()

	pf := &pendingFrame{seq: seq, payload: payload}

	l.pendingMu.Lock()
	l.pending[seq] = pf
	l.pendingMu.Unlock()

	l.writeAndCount(pf.encode(ack), "data")
}

// checkRetransmit fires when the retransmit timer budget has elapsed for
// the single outstanding frame with no ACK/NAK observed.
func (l *Link) checkRetransmit() {
	l.pendingMu.Lock()
	var pf *pendingFrame
	for _, p := range l.pending {
		pf = p
		break
	}
	l.pendingMu.Unlock()
	if pf == nil {
		return
	}

	pf.retries++
	if pf.retries > maxDataRetries {
		log.Error().Uint8("seq", pf.seq).Msg("ash: ack timeout, declaring link failed")
		l.setState(StateFailed)
		l.pendingMu.Lock()
		delete(l.pending, pf.seq)
		l.pendingMu.Unlock()
		return
	}

	pf.retransmit = true
	l.resend(pf)
}

// resend re-encodes pf with the retransmit bit set and the current
// rxExpected as ackNum, recomputing the CRC over the new control byte.
func (l *Link) resend(pf *pendingFrame) {
	l.seqMu.Lock()
	ack := l.rxExpected
	l.seqMu.Unlock()

	l.metrics.retransmits.Inc()
	l.writeAndCount(pf.encode(ack), "data")
}

// --- RST / ACK / NAK senders ---

func (l *Link) sendRST() error {
	// A leading cancel byte flushes any link-startup noise (spec §6: "0x1A
	// cancel at start of stream is permitted and must be tolerated").
	if _, err := l.port.Write([]byte{cancelByte}); err != nil {
		return err
	}
	raw := []byte{ctrlRST}
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	frame := append(stuff(raw), flagByte)
	l.writeAndCount(frame, "rst")
	return nil
}

func (l *Link) sendACK() {
	l.seqMu.Lock()
	ack := l.rxExpected
	l.seqMu.Unlock()
	l.sendSupervisory(ctrlACK, ack, "ack")
}

func (l *Link) sendNAK() {
	l.seqMu.Lock()
	ack := l.rxExpected
	l.seqMu.Unlock()
	l.sendSupervisory(ctrlNAK, ack, "nak")
}

func (l *Link) sendSupervisory(kind byte, ack uint8, label string) {
	control := kind | (ack & 0x07)
	raw := []byte{control}
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	frame := append(stuff(raw), flagByte)
	l.writeAndCount(frame, label)
}

func (l *Link) writeAndCount(frame []byte, kind string) {
	if _, err := l.port.Write(frame); err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("ash: write failed")
		return
	}
	l.metrics.framesTX.WithLabelValues(kind).Inc()
}

// --- receive side ---

func (l *Link) readLoop() {
	buf := make([]byte, 0, maxFrameLen*2)
	for {
		select {
		case <-l.stopChan:
			return
		default:
		}

		b, err := l.port.ReadByte()
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			select {
			case <-l.stopChan:
				return
			default:
			}
			log.Error().Err(err).Msg("ash: read error, disconnecting")
			l.setState(StateDisconnected)
			return
		}

		switch b {
		case cancelByte, subByte:
			buf = buf[:0]
			continue
		case xonByte, xoffByte:
			continue
		case flagByte:
			if len(buf) > 0 {
				l.processFrame(buf)
				buf = buf[:0]
			}
			continue
		}

		buf = append(buf, b)
		if len(buf) > maxFrameLen*2 {
			buf = buf[:0]
		}
	}
}

func (l *Link) processFrame(stuffed []byte) {
	raw := unstuff(stuffed)
	if len(raw) < 3 || len(raw) > maxFrameLen {
		log.Debug().Int("len", len(raw)).Msg("ash: frame out of bounds, discarding")
		return
	}

	control := raw[0]
	kind, wantLen := classify(control, len(raw))
	if wantLen != len(raw) {
		log.Debug().Int("len", len(raw)).Str("kind", kind).Msg("ash: bad length for frame kind, discarding")
		return
	}

	payload := raw[:len(raw)-2]
	wantCRC := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
	gotCRC := crcCCITT(payload)
	if wantCRC != gotCRC {
		l.metrics.crcErrors.Inc()
		log.Warn().Uint16("want", wantCRC).Uint16("got", gotCRC).Msg("ash: CRC mismatch")
		if kind == "data" {
			l.seqMu.Lock()
			ack := l.rxExpected
			l.seqMu.Unlock()
			l.sendSupervisory(ctrlNAK, ack, "nak")
		}
		return
	}

	l.metrics.framesRX.WithLabelValues(kind).Inc()

	switch kind {
	case "rstack":
		l.handleRSTACK(payload)
	case "error":
		l.handleError(payload)
	case "data":
		l.handleData(payload)
	case "ack":
		l.handleACK(control)
	case "nak":
		l.handleNAK(control)
	}
}

// classify determines the frame kind and its exact expected total length
// (control+data+crc, without the trailing flag), per spec §4.2 step 5.
func classify(control byte, total int) (kind string, wantLen int) {
	switch {
	case control == ctrlRSTACK:
		return "rstack", 5 // control + version byte + reset-reason byte + crc16
	case control == ctrlERROR:
		return "error", 5 // control + version byte + error-code byte + crc16
	case control == ctrlRST:
		return "rst", 3 // control + crc16, no payload
	case control&0x80 == 0:
		if total < 6 || total > 132 {
			return "data", -1
		}
		return "data", total
	case control&ctrlTypeMask == ctrlACK:
		return "ack", 3 // control + crc16, no payload
	case control&ctrlTypeMask == ctrlNAK:
		return "nak", 3 // control + crc16, no payload
	default:
		return "unknown", -1
	}
}

func (l *Link) handleRSTACK(payload []byte) {
	log.Info().Hex("payload", payload).Msg("ash: RSTACK received")

	l.seqMu.Lock()
	l.txSeq, l.ackExpected, l.rxExpected = 0, 0, 0
	l.seqMu.Unlock()

	l.pendingMu.Lock()
	l.pending = make(map[uint8]*pendingFrame)
	l.nrdy = false
	l.pendingMu.Unlock()
	l.metrics.nrdy.Set(0)

	l.setState(StateConnected)

	select {
	case l.resetCh <- nil:
	default:
	}
}

func (l *Link) handleError(payload []byte) {
	var reason byte
	if len(payload) >= 3 {
		reason = payload[2]
	}
	log.Error().Uint8("reason", reason).Msg("ash: peer ERROR frame, link failed")
	l.setState(StateFailed)
	select {
	case l.resetCh <- fmt.Errorf("%w: reason 0x%02X", ErrPeerError, reason):
	default:
	}
}

func (l *Link) handleData(payload []byte) {
	control := payload[0]
	frmNum := (control >> 4) & 0x07
	peerAck := control & 0x07

	l.releaseAcked(peerAck)

	l.seqMu.Lock()
	expected := l.rxExpected
	switch {
	case frmNum == expected:
		l.rxExpected = (expected + 1) & 0x07
		l.seqMu.Unlock()

		l.sendACK()

		data := make([]byte, len(payload)-1)
		copy(data, randomize(payload[1:]))
		select {
		case l.recv <- data:
		default:
			log.Warn().Msg("ash: recv queue full, dropping frame")
		}
	case frmNum == ((expected - 1) & 0x07):
		// Duplicate of the last in-order frame: re-ack, do not redeliver.
		l.seqMu.Unlock()
		l.sendACK()
	default:
		l.seqMu.Unlock()
		log.Warn().Uint8("expected", expected).Uint8("got", frmNum).Msg("ash: out-of-sequence DATA, NAK")
		l.sendNAK()
	}
}

func (l *Link) handleACK(control byte) {
	ackNum := control & 0x07
	l.updateNrdy(control)
	l.releaseAcked(ackNum)
}

func (l *Link) handleNAK(control byte) {
	ackNum := control & 0x07
	l.updateNrdy(control)
	l.metrics.naksRX.Inc()

	l.releaseAcked(ackNum)

	l.pendingMu.Lock()
	pf, ok := l.pending[ackNum]
	l.pendingMu.Unlock()
	if !ok {
		return
	}
	pf.retransmit = true
	l.resend(pf)
}

func (l *Link) updateNrdy(control byte) {
	nrdy := control&ctrlNrdyBit != 0
	l.pendingMu.Lock()
	l.nrdy = nrdy
	l.pendingMu.Unlock()
	if nrdy {
		l.metrics.nrdy.Set(1)
	} else {
		l.metrics.nrdy.Set(0)
	}
}

// releaseAcked drops every pending frame acknowledged by ackNum, i.e. every
// seq satisfying (ackNum - 1 - seq) mod 8 < WINDOW (spec §3 invariant).
func (l *Link) releaseAcked(ackNum uint8) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	for seq := range l.pending {
		if (ackNum-1-seq)&0x07 < WINDOW {
			delete(l.pending, seq)
		}
	}
	l.seqMu.Lock()
	l.ackExpected = ackNum
	l.seqMu.Unlock()
}

// --- byte stuffing, randomization, CRC ---

func stuff(data []byte) []byte {
	out := make([]byte, 0, len(data)*2)
	for _, b := range data {
		switch b {
		case flagByte, escapeByte, xonByte, xoffByte, subByte, cancelByte:
			out = append(out, escapeByte, b^flipBit)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unstuff(data []byte) []byte {
	out := make([]byte, 0, len(data))
	escaped := false
	for _, b := range data {
		switch {
		case escaped:
			out = append(out, b^flipBit)
			escaped = false
		case b == escapeByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	return out
}

// randomize XORs data with the ASH pseudo-random sequence (spec §4.2
// "Randomization"), confirmed against original_source/pi-zigbee-lib/uart.h.
// It is an involution: calling it twice restores the original bytes.
func randomize(data []byte) []byte {
	out := make([]byte, len(data))
	r := byte(0x42)
	for i, b := range data {
		out[i] = b ^ r
		if r&0x01 == 0 {
			r >>= 1
		} else {
			r = (r >> 1) ^ 0xB8
		}
	}
	return out
}

// crcCCITT computes CRC-CCITT-FALSE: init 0xFFFF, poly 0x1021, not
// reflected, not XORed out (spec §4.2, resolving Open Question (a) against
// original_source/pi-zigbee-lib/crc16.h).
func crcCCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
