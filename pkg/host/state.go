package host

// State is the host-side connection state machine (C4), spec.md §4.4.
type State int

const (
	// StateInitial is the state before the serial transport exists.
	StateInitial State = iota
	// StateUartConnected is set once the ASH link reports connected, before
	// the EZSP version handshake and device info have been fetched.
	StateUartConnected
	// StateGettingDeviceInfo covers version negotiation plus the own-EUI64
	// and own-node-id queries.
	StateGettingDeviceInfo
	// StateInitNetwork covers NetworkInit/FormNetwork and waiting for the
	// stack-status-up callback.
	StateInitNetwork
	// StateUpAndReady is the steady operating state: network formed or
	// rejoined, application traffic may flow.
	StateUpAndReady
	// StateFailed is a terminal state reached when bring-up in Start cannot
	// recover. A failure after the network is already up (stackStatusHandler
	// networkDown, or the ASH link going down) instead drops the controller
	// back to StateInitial, not StateFailed; the caller must observe that and
	// call Start again to rejoin.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateUartConnected:
		return "UartConnected"
	case StateGettingDeviceInfo:
		return "GettingDeviceInfo"
	case StateInitNetwork:
		return "InitNetwork"
	case StateUpAndReady:
		return "UpAndReady"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}
