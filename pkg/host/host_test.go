package host

import (
	"testing"

	"github.com/coldboot/ezsphost/pkg/ash"
	"github.com/coldboot/ezsphost/pkg/ezsp"
)

// fakePort satisfies ash.Port without touching a real device. Tests in
// this package only exercise Controller.handleCallback and friends
// directly, never Start/Connect, so its methods are never actually called.
type fakePort struct{}

func (fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (fakePort) ReadByte() (byte, error)      { return 0, nil }
func (fakePort) Close() error                 { return nil }

// fakeDataLink satisfies ezsp.DataLink for the same reason.
type fakeDataLink struct{}

func (fakeDataLink) SendData(payload []byte) error { return nil }
func (fakeDataLink) RecvData() <-chan []byte       { return make(chan []byte) }
func (fakeDataLink) IsConnected() bool             { return true }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	link := ash.New(fakePort{}, nil)
	layer := ezsp.New(fakeDataLink{})
	return New(link, layer, nil)
}

func eui(b byte) [8]byte {
	var e [8]byte
	e[0] = b
	return e
}

func TestChildTableAddOrUpdateInvalidatesDisplacedShortID(t *testing.T) {
	tbl := NewChildTable()
	tbl.AddOrUpdate(eui(1), 0x1111, 2, 0x80)
	tbl.AddOrUpdate(eui(2), 0x1111, 2, 0x80) // same short id rejoins under a new EUI64

	c1, _ := tbl.Get(eui(1))
	if c1.ShortID != NoChildID {
		t.Errorf("displaced child short id = 0x%04X, want invalidated (0x%04X)", c1.ShortID, NoChildID)
	}
	c2, _ := tbl.Get(eui(2))
	if c2.ShortID != 0x1111 {
		t.Errorf("new owner short id = 0x%04X, want 0x1111", c2.ShortID)
	}
}

func TestChildTableSetJoiningAndMarkInFlight(t *testing.T) {
	tbl := NewChildTable()
	tbl.AddOrUpdate(eui(1), 0x2222, 2, 0x80)
	tbl.SetJoining(eui(1), true)
	tbl.MarkInFlight(eui(1), true)

	c, ok := tbl.Get(eui(1))
	if !ok || !c.Joining || !c.InFlight {
		t.Fatalf("got %+v, ok=%v", c, ok)
	}
}

func TestChildTableUnknownEUI64IsNoop(t *testing.T) {
	tbl := NewChildTable()
	tbl.SetJoining(eui(9), true)
	tbl.MarkInFlight(eui(9), true)
	if _, ok := tbl.Get(eui(9)); ok {
		t.Fatal("expected unknown child to stay absent")
	}
}

func TestEventQueueBusyAtBound(t *testing.T) {
	q := NewEventQueue()
	for i := 0; i < eventQueueDepth; i++ {
		if _, err := q.Push(EventChildJoin, i); err != nil {
			t.Fatalf("push %d: unexpected error %v", i, err)
		}
	}
	if _, err := q.Push(EventChildJoin, "overflow"); err != ErrQueueBusy {
		t.Fatalf("expected ErrQueueBusy, got %v", err)
	}
	if q.Len() != eventQueueDepth {
		t.Fatalf("Len = %d, want %d", q.Len(), eventQueueDepth)
	}
}

func TestHandleCallbackChildJoinUpdatesModel(t *testing.T) {
	c := newTestController(t)
	params := ezsp.NewParamsWriter().
		WriteUint8(3).   // index
		WriteBool(true). // joining
		WriteUint16(0x5678).
		WriteEUI64(eui(7)).
		WriteUint8(1). // child type
		Bytes()
	frame := ezsp.Frame{ID: ezsp.ChildJoinHandler, Params: params}
	c.handleCallback(frame)

	child, ok := c.model.Children.Get(eui(7))
	if !ok {
		t.Fatal("expected child to be recorded")
	}
	if child.ShortID != 0x5678 || !child.Joining {
		t.Errorf("got %+v", child)
	}
}

func TestOnStackStatusTransitionsUpAndDown(t *testing.T) {
	c := newTestController(t)
	c.setState(StateInitNetwork)

	c.onStackStatus(ezsp.NetworkStatusUp)
	if c.State() != StateUpAndReady {
		t.Fatalf("state = %v, want UpAndReady", c.State())
	}

	c.onStackStatus(ezsp.NetworkStatusDown)
	if c.State() != StateInitial {
		t.Fatalf("state = %v, want Initial", c.State())
	}
}

func TestSendUnicastRejectedWhenNotReady(t *testing.T) {
	c := newTestController(t)
	err := c.SendUnicast(0x1234, 0x0104, 0x0006, 1, 1, []byte{0x01}, 5)
	if err != ErrNotReady {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}
