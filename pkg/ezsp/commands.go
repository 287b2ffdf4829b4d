package ezsp

// CommandID is an EZSP frame id, either a command/response pair or an
// asynchronous callback, per spec.md §4.3's closed id catalog. Grounded in
// original_source/pi-zigbee-lib/ezsp_frame.h's enumeration.
type CommandID uint16

// Configuration and utility frames.
const (
	Version      CommandID = 0x0000
	Echo         CommandID = 0x0081
	Callback     CommandID = 0x0006
	NoCallbacks  CommandID = 0x0007
	InvalidCommand CommandID = 0x0058

	SetConfigurationValue CommandID = 0x0053
	GetConfigurationValue CommandID = 0x0052
	SetValue              CommandID = 0x00AA // EZSP "extended" value store
	GetValue              CommandID = 0x00AB

	GetEUI64  CommandID = 0x0026
	GetNodeID CommandID = 0x0027
)

// Network management frames.
const (
	NetworkInit         CommandID = 0x0017
	NetworkInitExtended CommandID = 0x0070
	FormNetwork         CommandID = 0x001E
	LeaveNetwork        CommandID = 0x0020
	PermitJoining       CommandID = 0x0022
	GetNetworkParameters CommandID = 0x0028
	NetworkState        CommandID = 0x0018
	StackStatusHandler  CommandID = 0x0019

	StartScan               CommandID = 0x001A
	StopScan                CommandID = 0x001B
	ScanCompleteHandler      CommandID = 0x001C
	NetworkFoundHandler      CommandID = 0x001D
	EnergyScanResultHandler  CommandID = 0x0048
)

// Security frames.
const (
	SetInitialSecurityState  CommandID = 0x0068
	GetCurrentSecurityState  CommandID = 0x0069
	GetKey                   CommandID = 0x006A
	BecomeTrustCenter        CommandID = 0x0077 // historical alias: permitRemoteTcJoins-style toggle
	UnicastNwkKeyUpdate      CommandID = 0x0098
	BroadcastNextNetworkKey  CommandID = 0x0073
	BroadcastNetworkKeySwitch CommandID = 0x0074
	ClearKeyTable            CommandID = 0x00B1
)

// Messaging frames.
const (
	SendUnicast               CommandID = 0x0034
	MessageSentHandler         CommandID = 0x003F
	IncomingMessageHandler     CommandID = 0x0045
	IncomingRouteErrorHandler  CommandID = 0x0080
)

// Child/neighbor/binding frames.
const (
	ChildJoinHandler          CommandID = 0x0023
	TrustCenterJoinHandler    CommandID = 0x0024
	GetChildData              CommandID = 0x004A
	GetParentChildParameters  CommandID = 0x0029
	LookupEui64ByNodeId       CommandID = 0x0061
	NeighborCount             CommandID = 0x007A

	ClearBindingTable CommandID = 0x002A
	SetBinding        CommandID = 0x002B
	GetBinding        CommandID = 0x002C

	SetExtendedTimeout CommandID = 0x007E
	GetExtendedTimeout CommandID = 0x007F
)

// isCallback reports whether id is an asynchronous NCP-originated callback
// rather than a command/response pair (spec.md §4.3 callback dispatch).
func isCallback(id CommandID) bool {
	switch id {
	case StackStatusHandler,
		ScanCompleteHandler,
		NetworkFoundHandler,
		EnergyScanResultHandler,
		MessageSentHandler,
		IncomingMessageHandler,
		IncomingRouteErrorHandler,
		ChildJoinHandler,
		TrustCenterJoinHandler:
		return true
	default:
		return false
	}
}

// EmberStatus values (subset exercised by the host state machine).
const (
	StatusSuccess     uint8 = 0x00
	StatusNotJoined   uint8 = 0x93
	StatusInvalidCall uint8 = 0x70
)

// EmberNetworkStatus values returned by networkState.
const (
	NetworkStatusNoNetwork      uint8 = 0x00
	NetworkStatusJoiningNetwork uint8 = 0x01
	NetworkStatusJoinedNetwork  uint8 = 0x02
	NetworkStatusUp             uint8 = 0x90
	NetworkStatusDown           uint8 = 0x91
)

// EzspNetworkScanType values passed to startScan (spec.md §4.3 S4 names
// "active scan"; energy scan is the sibling mode the same command supports).
const (
	ScanTypeEnergy uint8 = 0x00
	ScanTypeActive uint8 = 0x01
)

// Stack configuration value ids used by ConfigureStack (spec.md §4.4
// "InitNetwork" step, grounded in the teacher's ConfigureStack).
const (
	ConfigStackProfile                uint8 = 0x0C
	ConfigSecurityLevel               uint8 = 0x0D
	ConfigMaxEndDeviceChildren        uint8 = 0x03
	ConfigIndirectTransmissionTimeout uint8 = 0x12
	ConfigMaxHops                     uint8 = 0x10
	ConfigTrustCenterAddressCacheSize uint8 = 0x19
	ConfigSourceRouteTableSize        uint8 = 0x1A
	ConfigAddressTableSize            uint8 = 0x05
)
