package ash

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/coldboot/ezsphost/pkg/transport"
)

// pipePort is an in-memory Port backed by two byte queues, one per
// direction, so a test can drive both ends of a link without a real serial
// device. It satisfies the Port interface.
type pipePort struct {
	mu      sync.Mutex
	out     bytes.Buffer // bytes written by the Link under test
	outCond *sync.Cond
	closed  bool
}

func newPipePort() *pipePort {
	p := &pipePort{}
	p.outCond = sync.NewCond(&p.mu)
	return p
}

func (p *pipePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.out.Write(data)
	p.outCond.Broadcast()
	return n, err
}

func (p *pipePort) ReadByte() (byte, error) {
	return 0, errTestNoPeer
}

func (p *pipePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// takeWritten blocks (with a timeout) until at least n bytes have been
// written to the pipe, then returns and clears the buffer.
func (p *pipePort) takeWritten(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.out.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d bytes, have %d", n, p.out.Len())
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
	}
	out := make([]byte, p.out.Len())
	copy(out, p.out.Bytes())
	p.out.Reset()
	return out
}

var errTestNoPeer = &testErr{"pipePort: no peer bytes queued"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

// scriptedPort is a pipePort that can additionally have inbound bytes fed to
// it, so a test can drive both directions of the link (pipePort's ReadByte
// always fails, which is only good enough for no-peer-response scenarios).
type scriptedPort struct {
	mu     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	in     []byte
	closed bool
}

func newScriptedPort() *scriptedPort {
	p := &scriptedPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *scriptedPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.out.Write(data)
	p.cond.Broadcast()
	return n, err
}

// feed appends bytes to the queue readLoop's ReadByte drains from, as if a
// peer had written them on the wire.
func (p *scriptedPort) feed(data []byte) {
	p.mu.Lock()
	p.in = append(p.in, data...)
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *scriptedPort) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.in) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.in) == 0 {
		return 0, transport.ErrTimeout
	}
	b := p.in[0]
	p.in = p.in[1:]
	return b, nil
}

func (p *scriptedPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

func (p *scriptedPort) takeWritten(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.out.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d bytes, have %d", n, p.out.Len())
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
	}
	out := make([]byte, p.out.Len())
	copy(out, p.out.Bytes())
	p.out.Reset()
	return out
}

// encodeTestRSTACK builds a stuffed, flagged RSTACK frame for feeding into a
// scriptedPort, mirroring how the real NCP would answer an RST (version
// byte, then reset-reason byte 0x02).
func encodeTestRSTACK(version byte) []byte {
	raw := []byte{ctrlRSTACK, version, 0x02}
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	return append(stuff(raw), flagByte)
}

// encodeTestDataFrame builds a stuffed, flagged DATA frame carrying payload,
// randomizing the data field before computing the CRC exactly as the real
// link does on send (spec §4.2 "CRC... over... the randomized... data").
func encodeTestDataFrame(frmNum, ackNum uint8, payload []byte) []byte {
	control := (frmNum << 4) | (ackNum & 0x07)
	raw := append([]byte{control}, randomize(payload)...)
	crc := crcCCITT(raw)
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	return append(stuff(raw), flagByte)
}

// encodeTestDataFrameBadCRC builds a DATA frame identical to
// encodeTestDataFrame but with a deliberately wrong trailing CRC.
func encodeTestDataFrameBadCRC(frmNum, ackNum uint8, payload []byte) []byte {
	control := (frmNum << 4) | (ackNum & 0x07)
	raw := append([]byte{control}, randomize(payload)...)
	crc := crcCCITT(raw) ^ 0xFFFF
	raw = append(raw, byte(crc>>8), byte(crc&0xFF))
	return append(stuff(raw), flagByte)
}

// connectScriptedLink runs the handshake to completion against a
// scriptedPort that answers RST with a single RSTACK.
func connectScriptedLink(t *testing.T, port *scriptedPort, link *Link) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- link.Connect() }()

	port.takeWritten(t, 2) // cancel byte + stuffed RST frame
	port.feed(encodeTestRSTACK(0x02))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after RSTACK was fed")
	}
	if link.State() != StateConnected {
		t.Fatalf("state = %v, want %v", link.State(), StateConnected)
	}
}

func TestConnectSucceedsOnRSTACK(t *testing.T) {
	port := newScriptedPort()
	link := New(port, nil)
	defer link.Close()

	connectScriptedLink(t, port, link)
}

func TestRxExpectedAdvancesOnInOrderData(t *testing.T) {
	port := newScriptedPort()
	link := New(port, nil)
	defer link.Close()
	connectScriptedLink(t, port, link)
	port.takeWritten(t, 0) // drain the bytes written during the handshake

	port.feed(encodeTestDataFrame(0, 0, []byte{0xAA, 0xBB, 0xCC, 0xDD}))
	select {
	case got := <-link.RecvData():
		if !bytes.Equal(got, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
			t.Errorf("payload = %x, want AABBCCDD", got)
		}
	case <-time.After(time.Second):
		t.Fatal("first DATA frame was never delivered")
	}

	port.feed(encodeTestDataFrame(1, 0, []byte{0x11, 0x22, 0x33, 0x44}))
	select {
	case got := <-link.RecvData():
		if !bytes.Equal(got, []byte{0x11, 0x22, 0x33, 0x44}) {
			t.Errorf("payload = %x, want 11223344", got)
		}
	case <-time.After(time.Second):
		t.Fatal("second, in-order DATA frame was never delivered")
	}
}

func TestDuplicateDataFrameReackedNotRedelivered(t *testing.T) {
	port := newScriptedPort()
	link := New(port, nil)
	defer link.Close()
	connectScriptedLink(t, port, link)
	port.takeWritten(t, 0)

	port.feed(encodeTestDataFrame(0, 0, []byte{0x01, 0x02, 0x03, 0x04}))
	select {
	case <-link.RecvData():
	case <-time.After(time.Second):
		t.Fatal("first DATA frame was never delivered")
	}
	written := port.takeWritten(t, 1)
	if raw := unstuff(written[:len(written)-1]); raw[0]&0x07 != 1 {
		t.Errorf("ACK after frmNum=0 should carry ackNum=1, control=0x%02X", raw[0])
	}

	// Re-send the same frmNum=0 frame, as a peer retransmitting after a lost
	// ACK would. It must be re-acked but never redelivered to RecvData.
	port.feed(encodeTestDataFrame(0, 0, []byte{0x01, 0x02, 0x03, 0x04}))
	written = port.takeWritten(t, 1)
	if raw := unstuff(written[:len(written)-1]); raw[0]&0x07 != 1 {
		t.Errorf("duplicate frmNum=0 should still be re-acked with ackNum=1, control=0x%02X", raw[0])
	}

	select {
	case got := <-link.RecvData():
		t.Errorf("duplicate DATA frame must not be redelivered, got %x", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCorruptCRCTriggersExactlyOneNAK(t *testing.T) {
	port := newScriptedPort()
	link := New(port, nil)
	defer link.Close()
	connectScriptedLink(t, port, link)
	port.takeWritten(t, 0)

	port.feed(encodeTestDataFrameBadCRC(0, 0, []byte{0x01, 0x02, 0x03, 0x04}))

	written := port.takeWritten(t, 1)
	raw := unstuff(written[:len(written)-1])
	if raw[0]&ctrlTypeMask != ctrlNAK {
		t.Fatalf("control = 0x%02X, want a NAK", raw[0])
	}
	if raw[0]&0x07 != 0 {
		t.Errorf("NAK ack_num = %d, want current rxExpected=0", raw[0]&0x07)
	}

	select {
	case got := <-link.RecvData():
		t.Errorf("corrupt-CRC frame must not be delivered, got %x", got)
	case <-time.After(100 * time.Millisecond):
	}

	// No further unsolicited bytes (exactly one NAK, not a retry storm).
	time.Sleep(200 * time.Millisecond)
	port.mu.Lock()
	n := port.out.Len()
	port.mu.Unlock()
	if n != 0 {
		t.Errorf("expected no further bytes written after the single NAK, got %d", n)
	}
}

func TestStuffUnstuffRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x00, 0x01, 0x02},
		{flagByte, escapeByte, xonByte, xoffByte, subByte, cancelByte},
		{0x7E, 0x7D, 0xFF, 0x00},
	}
	for _, c := range cases {
		stuffed := stuff(c)
		got := unstuff(stuffed)
		if !bytes.Equal(got, c) {
			t.Errorf("stuff/unstuff round trip: got %x, want %x", got, c)
		}
	}
}

func TestStuffEscapesReservedBytes(t *testing.T) {
	in := []byte{flagByte}
	out := stuff(in)
	want := []byte{escapeByte, flagByte ^ flipBit}
	if !bytes.Equal(out, want) {
		t.Errorf("stuff(0x7E) = %x, want %x", out, want)
	}
}

func TestRandomizeIsInvolution(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0xAB, 0xCD, 0x00, 0xFF}
	once := randomize(data)
	twice := randomize(once)
	if !bytes.Equal(twice, data) {
		t.Errorf("randomize(randomize(x)) = %x, want %x", twice, data)
	}
	if bytes.Equal(once, data) {
		t.Errorf("randomize(x) should differ from x for non-trivial input")
	}
}

func TestCRCCCITTKnownVector(t *testing.T) {
	// "123456789" under CRC-CCITT-FALSE (poly 0x1021, init 0xFFFF) is the
	// textbook check value 0x29B1.
	got := crcCCITT([]byte("123456789"))
	if got != 0x29B1 {
		t.Errorf("crcCCITT(123456789) = 0x%04X, want 0x29B1", got)
	}
}

func TestPendingFrameEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x01, 0x02, 0x03}
	pf := &pendingFrame{seq: 3, payload: payload}
	frame := pf.encode(5)

	if frame[len(frame)-1] != flagByte {
		t.Fatalf("encoded frame must end in a flag byte")
	}
	raw := unstuff(frame[:len(frame)-1])

	control := raw[0]
	if (control>>4)&0x07 != 3 {
		t.Errorf("frmNum = %d, want 3", (control>>4)&0x07)
	}
	if control&0x07 != 5 {
		t.Errorf("ackNum = %d, want 5", control&0x07)
	}

	body := raw[:len(raw)-2]
	wantCRC := uint16(raw[len(raw)-2])<<8 | uint16(raw[len(raw)-1])
	if crcCCITT(body) != wantCRC {
		t.Errorf("CRC mismatch in encoded frame")
	}

	decoded := randomize(body[1:])
	if !bytes.Equal(decoded, payload) {
		t.Errorf("decoded payload = %x, want %x", decoded, payload)
	}
}

func TestConnectSendsRSTAndHandshakeTimesOutWithoutPeer(t *testing.T) {
	port := newPipePort()
	link := New(port, nil)
	defer link.Close()

	done := make(chan error, 1)
	go func() { done <- link.Connect() }()

	// The link should write a cancel byte followed by a stuffed RST frame.
	written := port.takeWritten(t, 2)
	if written[0] != cancelByte {
		t.Errorf("first byte on the wire should be cancel (0x1A), got 0x%02X", written[0])
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Connect should fail without a peer ever sending RSTACK")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Connect did not return after handshake retries should have been exhausted")
	}

	if link.State() != StateFailed {
		t.Errorf("state = %v, want %v", link.State(), StateFailed)
	}
}

func TestSendDataRejectedBeforeConnect(t *testing.T) {
	port := newPipePort()
	link := New(port, nil)
	defer link.Close()

	if err := link.SendData([]byte{0x01}); err != ErrNotConnected {
		t.Errorf("SendData before Connect = %v, want %v", err, ErrNotConnected)
	}
}

func TestClassifyFixedLengthFrames(t *testing.T) {
	cases := []struct {
		control  byte
		total    int
		wantKind string
		wantLen  int
	}{
		{ctrlRST, 3, "rst", 3},
		{ctrlRSTACK, 5, "rstack", 5},
		{ctrlERROR, 5, "error", 5},
		{ctrlACK | 0x02, 3, "ack", 3},
		{ctrlNAK | 0x03, 3, "nak", 3},
	}
	for _, c := range cases {
		kind, wantLen := classify(c.control, c.total)
		if kind != c.wantKind || wantLen != c.wantLen {
			t.Errorf("classify(0x%02X, %d) = (%s, %d), want (%s, %d)",
				c.control, c.total, kind, wantLen, c.wantKind, c.wantLen)
		}
	}
}

func TestReleaseAckedRespectsWindow(t *testing.T) {
	port := newPipePort()
	link := New(port, nil)
	defer link.Close()

	link.pending[0] = &pendingFrame{seq: 0}
	link.pending[1] = &pendingFrame{seq: 1}

	// ackNum == 1 acknowledges everything up to and including seq 0 (WINDOW==1).
	link.releaseAcked(1)

	if _, ok := link.pending[0]; ok {
		t.Errorf("seq 0 should have been released by ackNum=1")
	}
	if _, ok := link.pending[1]; !ok {
		t.Errorf("seq 1 should still be pending")
	}
}
