package host

import (
	"errors"

	"github.com/rs/xid"
)

// ErrQueueBusy is returned by EventQueue.Push when the queue is at its
// bound; spec.md §4.4 requires backpressure over silent drop.
var ErrQueueBusy = errors.New("host: event queue busy")

// eventQueueDepth is the bounded FIFO size spec.md §3 names for the host
// event queue.
const eventQueueDepth = 20

// EventKind names the event catalog the state machine reacts to.
type EventKind string

const (
	EventUartUp           EventKind = "uart_up"
	EventUartDown         EventKind = "uart_down"
	EventVersionReady     EventKind = "version_ready"
	EventDeviceInfoReady  EventKind = "device_info_ready"
	EventNetworkUp        EventKind = "network_up"
	EventNetworkDown      EventKind = "network_down"
	EventChildJoin        EventKind = "child_join"
	EventTrustCenterJoin  EventKind = "trust_center_join"
	EventIncomingMessage  EventKind = "incoming_message"
	EventMessageSent      EventKind = "message_sent"
	EventUnrecognized     EventKind = "unrecognized"
	EventLinkFailed       EventKind = "link_failed"
	EventScanComplete     EventKind = "scan_complete"
	EventNetworkFound     EventKind = "network_found"
	EventEnergyScanResult EventKind = "energy_scan_result"
)

// Event is a single xid-stamped item on the host's event queue. Stamping
// with xid rather than a plain counter gives every event a globally unique,
// time-sortable id, matching how the rest of the stack tags units of work
// (spec.md §3.1).
type Event struct {
	ID      xid.ID
	Kind    EventKind
	Payload any
}

// EventQueue is the bounded FIFO spec.md §4.4 describes, backed by a
// buffered channel so the supervisor can block waiting for the next event
// the same way the link task blocks on its outbound queue (pkg/ash uses
// the same non-blocking-send-else-Busy discipline). Push returns
// ErrQueueBusy instead of blocking once eventQueueDepth items are
// outstanding.
type EventQueue struct {
	ch chan Event
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{ch: make(chan Event, eventQueueDepth)}
}

// Push enqueues kind/payload as a new event, or returns ErrQueueBusy if the
// queue is already at eventQueueDepth.
func (q *EventQueue) Push(kind EventKind, payload any) (xid.ID, error) {
	e := Event{ID: xid.New(), Kind: kind, Payload: payload}
	select {
	case q.ch <- e:
		return e.ID, nil
	default:
		return xid.ID{}, ErrQueueBusy
	}
}

// C exposes the receive side for a supervisor loop to range/select over.
func (q *EventQueue) C() <-chan Event {
	return q.ch
}

// Len reports how many events are currently queued.
func (q *EventQueue) Len() int {
	return len(q.ch)
}
