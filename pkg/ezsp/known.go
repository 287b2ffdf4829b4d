package ezsp

// knownCommands is the full catalog spec.md §4.3 names. Layer's dispatch
// uses it (through IsKnown) to distinguish a structurally valid-but-unrecognized frame (surfaced as an
// Unrecognized event, session stays up) from a malformed one.
var knownCommands = map[CommandID]bool{
	Version: true, Echo: true, Callback: true, NoCallbacks: true, InvalidCommand: true,
	SetConfigurationValue: true, GetConfigurationValue: true, SetValue: true, GetValue: true,
	GetEUI64: true, GetNodeID: true,

	NetworkInit: true, NetworkInitExtended: true, FormNetwork: true, LeaveNetwork: true,
	PermitJoining: true, GetNetworkParameters: true, NetworkState: true, StackStatusHandler: true,
	StartScan: true, StopScan: true, ScanCompleteHandler: true, NetworkFoundHandler: true,
	EnergyScanResultHandler: true,

	SetInitialSecurityState: true, GetCurrentSecurityState: true, GetKey: true,
	BecomeTrustCenter: true, UnicastNwkKeyUpdate: true, BroadcastNextNetworkKey: true,
	BroadcastNetworkKeySwitch: true, ClearKeyTable: true,

	SendUnicast: true, MessageSentHandler: true, IncomingMessageHandler: true,
	IncomingRouteErrorHandler: true,

	ChildJoinHandler: true, TrustCenterJoinHandler: true, GetChildData: true,
	GetParentChildParameters: true, LookupEui64ByNodeId: true, NeighborCount: true,

	ClearBindingTable: true, SetBinding: true, GetBinding: true,
	SetExtendedTimeout: true, GetExtendedTimeout: true,
}

// IsKnown reports whether id is in the command catalog spec.md §4.3 names.
func IsKnown(id CommandID) bool {
	return knownCommands[id]
}
