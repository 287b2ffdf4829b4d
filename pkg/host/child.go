package host

import "sync"

// NoChildID is the short-id sentinel used to mark an invalidated or
// not-yet-assigned child address, per original_source/pi-zigbee-lib/child.h
// (Child::NoChildId).
const NoChildID uint16 = 0xFFFF

// Child mirrors the child record spec.md §3 describes, field-for-field
// grounded in original_source/pi-zigbee-lib/child.h's Child struct.
type Child struct {
	Index             uint8
	Joining           bool
	ShortID           uint16
	EUI64             [8]byte
	NodeType          uint8
	DeviceUpdate      uint8
	MACCapability     uint8
	AddressTableIndex uint8 // 0xFF means not added to the address table
	Sequence          uint8
	InFlight          bool
}

// AddedToAddressTable reports whether this child occupies an address-table
// slot.
func (c *Child) AddedToAddressTable() bool {
	return c.AddressTableIndex != 0xFF
}

// HasValidID reports whether the child currently holds a resolvable short
// id.
func (c *Child) HasValidID() bool {
	return c.ShortID != NoChildID
}

// ChildTable is the EUI64-keyed child bookkeeping contract spec.md §4.4
// names: AddOrUpdate, InvalidateByShortID, SetJoining, MarkInFlight. EUI64
// is the immutable identity; no two entries ever share one (spec.md §3
// invariant).
type ChildTable struct {
	mu       sync.RWMutex
	children map[[8]byte]*Child
}

// NewChildTable returns an empty table.
func NewChildTable() *ChildTable {
	return &ChildTable{children: make(map[[8]byte]*Child)}
}

// AddOrUpdate inserts a new child or refreshes an existing one's short id,
// node type, and MAC capability from a freshly reported join (spec.md
// §4.4 "add_or_update"). Identity is eui64; if the table already knows the
// address and it now belongs to a different EUI64, the displaced entry's
// short id is invalidated via InvalidateByShortID first.
func (t *ChildTable) AddOrUpdate(eui64 [8]byte, shortID uint16, nodeType uint8, macCapability uint8) *Child {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.children[eui64]
	if !ok {
		c = &Child{EUI64: eui64, AddressTableIndex: 0xFF}
		t.children[eui64] = c
	}
	t.invalidateLocked(eui64, shortID)
	c.ShortID = shortID
	c.NodeType = nodeType
	c.MACCapability = macCapability
	return c
}

// InvalidateByShortID sets ShortID to NoChildID on every entry that holds
// shortID but is not newOwner, resolving address reuse after a rejoin
// (spec.md §4.4 "invalidate_by_short_id").
func (t *ChildTable) InvalidateByShortID(newOwner [8]byte, shortID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.invalidateLocked(newOwner, shortID)
}

func (t *ChildTable) invalidateLocked(newOwner [8]byte, shortID uint16) {
	for eui, c := range t.children {
		if eui != newOwner && c.ShortID == shortID {
			c.ShortID = NoChildID
		}
	}
}

// SetJoining mutates the joining flag for the child identified by eui64. A
// no-op if the child is unknown.
func (t *ChildTable) SetJoining(eui64 [8]byte, joining bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.children[eui64]; ok {
		c.Joining = joining
	}
}

// MarkInFlight mutates the in-flight flag for the child identified by
// eui64. A no-op if the child is unknown.
func (t *ChildTable) MarkInFlight(eui64 [8]byte, inFlight bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.children[eui64]; ok {
		c.InFlight = inFlight
	}
}

// SetDeviceUpdate records the device-update status trustCenterJoinHandler
// reports for eui64. A no-op if the child is unknown.
func (t *ChildTable) SetDeviceUpdate(eui64 [8]byte, status uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.children[eui64]; ok {
		c.DeviceUpdate = status
	}
}

// Get returns a copy of the child record for eui64, if known.
func (t *ChildTable) Get(eui64 [8]byte) (Child, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.children[eui64]
	if !ok {
		return Child{}, false
	}
	return *c, true
}

// All returns a snapshot of every child record, for persistence (C5).
func (t *ChildTable) All() []Child {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Child, 0, len(t.children))
	for _, c := range t.children {
		out = append(out, *c)
	}
	return out
}

// Load replaces the table's contents wholesale, used by storage on startup
// (spec.md §4.4 "load_children").
func (t *ChildTable) Load(children []Child) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = make(map[[8]byte]*Child, len(children))
	for i := range children {
		c := children[i]
		t.children[c.EUI64] = &c
	}
}

// Len reports how many children are tracked.
func (t *ChildTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.children)
}
