package ezsp

import (
	"bytes"
	"testing"
	"time"
)

// fakeLink is a DataLink test double that lets a test hand-craft NCP
// responses and callbacks without driving a real ash.Link.
type fakeLink struct {
	sent      chan []byte
	recv      chan []byte
	connected bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{sent: make(chan []byte, 8), recv: make(chan []byte, 8), connected: true}
}

func (f *fakeLink) SendData(payload []byte) error {
	f.sent <- payload
	return nil
}
func (f *fakeLink) RecvData() <-chan []byte { return f.recv }
func (f *fakeLink) IsConnected() bool       { return f.connected }

func TestParamsRoundTrip(t *testing.T) {
	w := NewParamsWriter().
		WriteUint8(0x42).
		WriteUint16(0xBEEF).
		WriteUint32(0xDEADBEEF).
		WriteBlob([]byte{1, 2, 3})

	r := NewParams(w.Bytes())
	if v, err := r.ReadUint8(); err != nil || v != 0x42 {
		t.Fatalf("ReadUint8 = %v, %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0xBEEF {
		t.Fatalf("ReadUint16 = %v, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadUint32 = %v, %v", v, err)
	}
	blob, err := r.ReadBlob(10)
	if err != nil || !bytes.Equal(blob, []byte{1, 2, 3}) {
		t.Fatalf("ReadBlob = %v, %v", blob, err)
	}
}

func TestReadBlobRejectsOverflow(t *testing.T) {
	buf := []byte{5, 1, 2} // declares length 5, only 2 bytes follow
	_, err := NewParams(buf).ReadBlob(10)
	if err == nil {
		t.Fatalf("expected length-overflow error")
	}
}

func TestReadBlobRejectsOverMax(t *testing.T) {
	buf := []byte{10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	_, err := NewParams(buf).ReadBlob(5)
	if err == nil {
		t.Fatalf("expected length-overflow error")
	}
}

func TestFrameEncodeDecodeEachFormat(t *testing.T) {
	cases := []FrameFormat{FrameFormatLegacy, FrameFormatPadded, FrameFormatExtended}
	for _, format := range cases {
		f := Frame{Seq: 7, ID: GetEUI64, Params: []byte{0xAA, 0xBB}}
		raw := Encode(format, f)
		got, err := Decode(format, raw)
		if err != nil {
			t.Fatalf("format %v: decode error: %v", format, err)
		}
		if got.Seq != f.Seq || got.ID != f.ID || !bytes.Equal(got.Params, f.Params) {
			t.Errorf("format %v: round trip = %+v, want %+v", format, got, f)
		}
	}
}

func TestVersionNegotiationSimpleAccept(t *testing.T) {
	link := newFakeLink()
	layer := New(link)
	layer.Start()
	defer layer.Close()

	go func() {
		req := <-link.sent
		frame, err := Decode(FrameFormatLegacy, req)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		resp := Frame{Seq: frame.Seq, ID: Version, Params: []byte{4, 0x02, 0x34, 0x12}}
		link.recv <- Encode(FrameFormatLegacy, resp)
	}()

	got, err := layer.NegotiateVersion(4)
	if err != nil {
		t.Fatalf("NegotiateVersion: %v", err)
	}
	if got.ProtocolVersion != 4 || got.StackType != 2 || got.StackVersion != 0x1234 {
		t.Errorf("got %+v", got)
	}
}

func TestVersionNegotiationMismatchRetriesWithExtendedFormat(t *testing.T) {
	link := newFakeLink()
	layer := New(link)
	layer.Start()
	defer layer.Close()

	go func() {
		first := <-link.sent
		f1, _ := Decode(FrameFormatLegacy, first)
		mismatch := Frame{Seq: f1.Seq, ID: Version, Params: []byte{8}}
		link.recv <- Encode(FrameFormatLegacy, mismatch)

		second := <-link.sent
		f2, err := Decode(FrameFormatExtended, second)
		if err != nil {
			t.Errorf("retry should use extended format: %v", err)
			return
		}
		resp := Frame{Seq: f2.Seq, ID: Version, Params: []byte{8, 0x02, 0x00, 0x01}}
		link.recv <- Encode(FrameFormatExtended, resp)
	}()

	got, err := layer.NegotiateVersion(13)
	if err != nil {
		t.Fatalf("NegotiateVersion: %v", err)
	}
	if got.ProtocolVersion != 8 {
		t.Errorf("ProtocolVersion = %d, want 8", got.ProtocolVersion)
	}
}

func TestUnrecognizedCommandSurfacedNotFatal(t *testing.T) {
	link := newFakeLink()
	layer := New(link)
	layer.Start()
	defer layer.Close()

	gotCh := make(chan Unrecognized, 1)
	layer.SetUnrecognizedHandler(func(u Unrecognized) { gotCh <- u })

	weird := Frame{Seq: 1, ID: CommandID(0x9999), Params: []byte{1, 2, 3}}
	link.recv <- Encode(FrameFormatLegacy, weird)

	select {
	case u := <-gotCh:
		if u.ID != CommandID(0x9999) {
			t.Errorf("ID = 0x%04X, want 0x9999", uint16(u.ID))
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Unrecognized event")
	}
}

func TestCallbackDispatchedSeparatelyFromResponses(t *testing.T) {
	link := newFakeLink()
	layer := New(link)
	layer.Start()
	defer layer.Close()

	cbCh := make(chan Frame, 1)
	layer.SetCallbackHandler(func(f Frame) { cbCh <- f })

	cb := Frame{Seq: 9, ID: StackStatusHandler, Params: []byte{NetworkStatusUp}}
	link.recv <- Encode(FrameFormatLegacy, cb)

	select {
	case f := <-cbCh:
		if f.ID != StackStatusHandler || f.Params[0] != NetworkStatusUp {
			t.Errorf("got %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback dispatch")
	}
}

func TestSendUnicastRequestEncodeDecode(t *testing.T) {
	req := SendUnicastRequest{
		OutgoingType: 0,
		Destination:  0x1234,
		ProfileID:    0x0104,
		ClusterID:    0x0006,
		SrcEndpoint:  1,
		DstEndpoint:  1,
		Options:      0x0140,
		Tag:          5,
		Payload:      []byte{0x01, 0x02, 0x0A, 0x01},
	}
	raw := req.Encode()
	p := NewParams(raw)
	if v, _ := p.ReadUint8(); v != 0 {
		t.Fatalf("outgoing type mismatch")
	}
	if v, _ := p.ReadUint16(); v != 0x1234 {
		t.Fatalf("destination mismatch")
	}
}
