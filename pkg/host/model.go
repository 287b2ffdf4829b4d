package host

// NetworkSlot is one of up to 4 cached network profiles spec.md §3 names.
// A zero-value slot is "empty"; Present distinguishes that from a
// genuinely-zero PAN id.
type NetworkSlot struct {
	Present       bool
	PanID         uint16
	ExtendedPanID [8]byte
	RadioChannel  uint8
	RadioTxPower  int8
	NwkUpdateID   uint8
	NwkManagerID  uint16
	Channels      uint32
	JoinMethod    uint8
}

const networkSlotCount = 4

// Keys holds the network key and optional trust-center link key, plus the
// sequence counter the NCP reports alongside the key (spec.md §3).
type Keys struct {
	NetworkKey      [16]byte
	NetworkKeySeq   uint8
	HasTCLinkKey    bool
	TrustCenterLink [16]byte
}

// NodeType mirrors EmberNodeType's coordinator/router/end-device
// distinction (original_source/pi-zigbee-lib/child.h).
type NodeType uint8

const (
	NodeTypeUnknown NodeType = iota
	NodeTypeCoordinator
	NodeTypeRouter
	NodeTypeEndDevice
)

// Self is this process's own identity on the network (spec.md §3).
type Self struct {
	EUI64    [8]byte
	ShortID  uint16
	NodeType NodeType
}

// Model is the in-memory view the supervisor owns exclusively; the link
// task never touches it (spec.md §5 "Shared resources").
type Model struct {
	Networks [networkSlotCount]NetworkSlot
	Children *ChildTable
	Keys     Keys
	Self     Self
}

// NewModel returns an empty model with an initialized child table.
func NewModel() *Model {
	return &Model{Children: NewChildTable()}
}

// FirstEmptySlot returns the index of the first empty network slot, or -1
// if all networkSlotCount slots are occupied.
func (m *Model) FirstEmptySlot() int {
	for i := range m.Networks {
		if !m.Networks[i].Present {
			return i
		}
	}
	return -1
}
