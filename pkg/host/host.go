// Package host implements the supervisor task (C4): the host-side
// connection state machine that takes the link from cold to "network up",
// owns the in-memory view of networks, children, and keys, and dispatches
// received EZSP frames to handlers that update that view.
package host

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coldboot/ezsphost/pkg/ash"
	"github.com/coldboot/ezsphost/pkg/ezsp"
)

// linkPollInterval is how often superviseLoop checks the ASH link's state
// for a failure it didn't otherwise learn about via a stackStatusHandler
// callback (spec.md §4.4 "networkDown or link failure → Initial").
const linkPollInterval = 250 * time.Millisecond

// scanChannelMask and scanDurationExponent are the S4 defaults spec.md
// names: all 2.4GHz channels (11-26), exponent 4.
const (
	scanChannelMask     uint32 = 0x07FFF800
	scanDurationExponent uint8 = 4
	scanTimeout                = 10 * time.Second
)

// networkUpTimeout bounds how long Start waits for stackStatusHandler
// (networkUp) after the form/init command has been accepted.
const networkUpTimeout = 10 * time.Second

// ErrAlreadyStarted is returned by Start if the controller is already
// running.
var ErrAlreadyStarted = errors.New("host: already started")

// ErrNotReady is returned by SendUnicast when the network is not up.
var ErrNotReady = errors.New("host: network not ready")

// desiredProtocolVersion is what NegotiateVersion asks for first; the NCP
// may reply with a lower version it actually supports (spec.md §4.3).
const desiredProtocolVersion = 8

// Config is the subset of persisted configuration the supervisor consults
// at startup (spec.md §6 "config.version").
type Config struct {
	Version        string
	Coordinator    bool
	PanID          uint16
	RadioChannel   uint8
	RadioTxPower   int8
	PermitJoinSecs uint8
}

// Persistence is the C5 interface spec.md §4.4 names, narrowed to the four
// operations the supervisor drives at startup and on save.
type Persistence interface {
	LoadConfig() (Config, error)
	LoadNetworks() ([networkSlotCount]NetworkSlot, error)
	LoadChildren() ([]Child, error)
	Save(cfg Config, networks [networkSlotCount]NetworkSlot, children []Child) error
}

// IncomingMessageFunc is the C6 callback surfaced for application-layer
// payload parsing (spec.md §4.4 "incoming_message").
type IncomingMessageFunc func(sender uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte)

// Controller is the supervisor task. It owns link connect/reconnect,
// version/device-info bring-up, network init, and the in-memory model; the
// link task (pkg/ash) never touches that model (spec.md §5).
type Controller struct {
	link *ash.Link
	ezsp *ezsp.Layer

	persistence Persistence
	cfg         Config

	model  *Model
	events *EventQueue

	stateMu sync.RWMutex
	state   State

	incomingMu sync.RWMutex
	incoming   IncomingMessageFunc

	scanMu      sync.Mutex
	scanResults []ezsp.NetworkFoundEvent
	scanDone    chan uint8

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New builds a Controller over an already-constructed ASH link and EZSP
// layer. Persistence may be nil, in which case the model starts empty and
// Save is skipped.
func New(link *ash.Link, ezspLayer *ezsp.Layer, persistence Persistence) *Controller {
	c := &Controller{
		link:        link,
		ezsp:        ezspLayer,
		persistence: persistence,
		model:       NewModel(),
		events:      NewEventQueue(),
		state:       StateInitial,
		stopChan:    make(chan struct{}),
	}
	c.ezsp.SetCallbackHandler(c.handleCallback)
	c.ezsp.SetUnrecognizedHandler(c.handleUnrecognized)
	return c
}

// State returns the current supervisor state.
func (c *Controller) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	prev := c.state
	c.state = s
	c.stateMu.Unlock()
	if prev != s {
		log.Info().Stringer("from", prev).Stringer("to", s).Msg("host: state transition")
	}
}

// SetConfig installs the runtime configuration (coordinator/PAN/channel/tx
// power/permit-join) a caller assembled from flags or other non-persisted
// sources. Call before Start. Persistence only ever supplies
// config.version (spec.md §6); Start merges that in without overwriting
// the rest of cfg.
func (c *Controller) SetConfig(cfg Config) {
	c.cfg = cfg
}

// Model exposes the in-memory network/child/key view for read-only
// inspection (e.g. by storage.Save callers or diagnostics).
func (c *Controller) Model() *Model { return c.model }

// Events exposes the bounded event queue. Controller pushes to it, and once
// Start has succeeded its superviseLoop drains it, so any other reader
// competes with that loop for events.
func (c *Controller) Events() *EventQueue { return c.events }

// Start drives Initial → UartConnected → GettingDeviceInfo → InitNetwork,
// per the state table in spec.md §4.4. It blocks until the network is up
// or bring-up fails.
func (c *Controller) Start() error {
	if c.State() != StateInitial {
		return ErrAlreadyStarted
	}
	c.events.Push(EventKind("start"), nil)

	if c.persistence != nil {
		cfg, err := c.persistence.LoadConfig()
		if err != nil {
			log.Warn().Err(err).Msg("host: load config failed, using defaults")
		} else if cfg.Version != "" {
			c.cfg.Version = cfg.Version
		}
		nets, err := c.persistence.LoadNetworks()
		if err != nil {
			log.Warn().Err(err).Msg("host: some persisted networks could not be loaded")
		}
		c.model.Networks = nets
		children, err := c.persistence.LoadChildren()
		if err != nil {
			log.Warn().Err(err).Msg("host: some persisted children could not be loaded")
		}
		c.model.Children.Load(children)
	}

	if err := c.link.Connect(); err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: link connect: %w", err)
	}
	c.link.Activate(true)
	c.setState(StateUartConnected)
	c.events.Push(EventUartUp, nil)

	c.ezsp.Start()

	c.setState(StateGettingDeviceInfo)
	version, err := c.ezsp.NegotiateVersion(desiredProtocolVersion)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: version negotiation: %w", err)
	}
	c.events.Push(EventVersionReady, version)

	eui64Frame, err := c.ezsp.Send(ezsp.GetEUI64, nil)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: getEui64: %w", err)
	}
	eui64, err := ezsp.DecodeGetEUI64Response(eui64Frame.Params)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: decode getEui64: %w", err)
	}
	c.model.Self.EUI64 = eui64

	nodeIDFrame, err := c.ezsp.Send(ezsp.GetNodeID, nil)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: getNodeId: %w", err)
	}
	nodeID, err := ezsp.DecodeGetNodeIDResponse(nodeIDFrame.Params)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("host: decode getNodeId: %w", err)
	}
	c.model.Self.ShortID = nodeID
	c.events.Push(EventDeviceInfoReady, nodeID)

	c.setState(StateInitNetwork)
	if c.cfg.Coordinator {
		c.model.Self.NodeType = NodeTypeCoordinator
		if err := c.formNetwork(); err != nil {
			c.setState(StateFailed)
			return err
		}
	} else {
		if err := c.joinNetwork(); err != nil {
			c.setState(StateFailed)
			return err
		}
	}

	// Wait for stackStatusHandler(networkUp) to move the state to UpAndReady.
	upDeadline := time.After(networkUpTimeout)
	for c.State() != StateUpAndReady {
		select {
		case <-upDeadline:
			c.setState(StateFailed)
			return fmt.Errorf("host: timed out waiting for stackStatusHandler(networkUp)")
		case <-c.stopChan:
			return fmt.Errorf("host: stopped during bring-up")
		case <-time.After(10 * time.Millisecond):
		}
	}

	c.wg.Add(1)
	go c.superviseLoop()

	return nil
}

// formNetwork issues the coordinator bring-up sequence spec.md §4.4 names:
// setInitialSecurityState then formNetwork.
func (c *Controller) formNetwork() error {
	sec := ezsp.SetInitialSecurityStateRequest{
		Bitmask:       0,
		PresetNwkKey:  c.model.Keys.NetworkKey,
		NetworkKeySeq: c.model.Keys.NetworkKeySeq,
		TrustCenter:   c.model.Self.EUI64,
	}
	resp, err := c.ezsp.Send(ezsp.SetInitialSecurityState, sec.Encode())
	if err != nil {
		return fmt.Errorf("host: setInitialSecurityState: %w", err)
	}
	if status, err := ezsp.DecodeSetInitialSecurityStateResponse(resp.Params); err != nil || status != 0 {
		return fmt.Errorf("host: setInitialSecurityState status=%d err=%v", status, err)
	}

	req := ezsp.FormNetworkRequest{
		PanID:        c.cfg.PanID,
		RadioTxPower: c.cfg.RadioTxPower,
		RadioChannel: c.cfg.RadioChannel,
	}
	resp, err = c.ezsp.Send(ezsp.FormNetwork, req.Encode())
	if err != nil {
		return fmt.Errorf("host: formNetwork: %w", err)
	}
	if status, err := ezsp.DecodeFormNetworkResponse(resp.Params); err != nil || status != 0 {
		return fmt.Errorf("host: formNetwork status=%d err=%v", status, err)
	}
	return nil
}

// joinNetwork issues the router/end-device bring-up sequence spec.md §4.4
// names: an active scan to discover candidate networks, then networkInit.
func (c *Controller) joinNetwork() error {
	c.model.Self.NodeType = NodeTypeRouter

	found, err := c.scanForNetworks()
	if err != nil {
		return err
	}
	if len(found) > 0 {
		c.recordDiscoveredNetwork(found[0])
	} else {
		log.Warn().Msg("host: active scan found no candidate networks, attempting networkInit anyway")
	}

	req := ezsp.NetworkInitRequest{}
	resp, err := c.ezsp.Send(ezsp.NetworkInit, req.Encode())
	if err != nil {
		return fmt.Errorf("host: networkInit: %w", err)
	}
	if status, err := ezsp.DecodeNetworkInitResponse(resp.Params); err != nil || status != 0 {
		return fmt.Errorf("host: networkInit status=%d err=%v", status, err)
	}
	return nil
}

// scanForNetworks issues startScan(active) and blocks for the matching
// scanCompleteHandler, collecting every networkFoundHandler delivered in
// between (spec.md §4.3 S4: "the application sees exactly one completion
// event and each discovered network once").
func (c *Controller) scanForNetworks() ([]ezsp.NetworkFoundEvent, error) {
	done := make(chan uint8, 1)
	c.scanMu.Lock()
	c.scanResults = nil
	c.scanDone = done
	c.scanMu.Unlock()
	defer func() {
		c.scanMu.Lock()
		c.scanDone = nil
		c.scanMu.Unlock()
	}()

	req := ezsp.StartScanRequest{ScanType: ezsp.ScanTypeActive, ChannelMask: scanChannelMask, Duration: scanDurationExponent}
	resp, err := c.ezsp.Send(ezsp.StartScan, req.Encode())
	if err != nil {
		return nil, fmt.Errorf("host: startScan: %w", err)
	}
	if status, err := ezsp.DecodeStartScanResponse(resp.Params); err != nil || status != 0 {
		return nil, fmt.Errorf("host: startScan status=%d err=%v", status, err)
	}

	select {
	case status := <-done:
		if status != ezsp.StatusSuccess {
			return nil, fmt.Errorf("host: scan completed with status=%d", status)
		}
	case <-time.After(scanTimeout):
		return nil, fmt.Errorf("host: scan timed out waiting for scanCompleteHandler")
	}

	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return append([]ezsp.NetworkFoundEvent(nil), c.scanResults...), nil
}

// recordDiscoveredNetwork caches a scan result into the first empty network
// slot (spec.md §3 "networks[0..3]").
func (c *Controller) recordDiscoveredNetwork(found ezsp.NetworkFoundEvent) {
	idx := c.model.FirstEmptySlot()
	if idx < 0 {
		log.Warn().Msg("host: no empty network slot to record scan result")
		return
	}
	c.model.Networks[idx] = NetworkSlot{
		Present:       true,
		PanID:         found.PanID,
		ExtendedPanID: found.ExtendedPanID,
		RadioChannel:  found.Channel,
	}
}

// superviseLoop is the single consumer of the event queue (spec.md §5
// "supervisor task"). It only logs events that do not already carry their
// own model mutation; callbacks mutate the model synchronously in
// handleCallback, matching the single-owner-of-the-model rule. It also
// polls the ASH link's state, since link failure has no callback of its
// own and must still drive the UpAndReady → Initial transition spec.md
// §4.4 requires alongside stackStatusHandler(networkDown).
func (c *Controller) superviseLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(linkPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopChan:
			return
		case e, ok := <-c.events.C():
			if !ok {
				return
			}
			log.Debug().Str("kind", string(e.Kind)).Str("event_id", e.ID.String()).Msg("host: event")
		case <-ticker.C:
			c.checkLinkFailure()
		}
	}
}

// checkLinkFailure transitions the controller back to Initial the first
// time the ASH link reports StateFailed, mirroring onStackStatus's
// networkDown handling.
func (c *Controller) checkLinkFailure() {
	if c.link.State() != ash.StateFailed {
		return
	}
	if c.State() == StateFailed || c.State() == StateInitial {
		return
	}
	log.Warn().Msg("host: link failed, returning to Initial")
	c.setState(StateInitial)
	c.events.Push(EventLinkFailed, nil)
}

// handleCallback routes a received EZSP callback frame to the handler that
// updates the in-memory model (spec.md §4.4 "Frame dispatch").
func (c *Controller) handleCallback(frame ezsp.Frame) {
	switch frame.ID {
	case ezsp.StackStatusHandler:
		status, err := ezsp.DecodeStackStatusHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed stackStatusHandler")
			return
		}
		c.onStackStatus(status)

	case ezsp.ChildJoinHandler:
		h, err := ezsp.DecodeChildJoinHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed childJoinHandler")
			return
		}
		child := c.model.Children.AddOrUpdate(h.ChildEUI64, h.ChildID, h.ChildType, 0)
		child.Index = h.Index
		c.model.Children.SetJoining(h.ChildEUI64, h.Joining)
		c.events.Push(EventChildJoin, h)

	case ezsp.TrustCenterJoinHandler:
		h, err := ezsp.DecodeTrustCenterJoinHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed trustCenterJoinHandler")
			return
		}
		if child, ok := c.model.Children.Get(h.NewNodeEUI64); ok {
			c.model.Children.AddOrUpdate(h.NewNodeEUI64, h.NewNodeID, child.NodeType, child.MACCapability)
			c.model.Children.SetDeviceUpdate(h.NewNodeEUI64, h.Status)
		}
		c.events.Push(EventTrustCenterJoin, h)

	case ezsp.IncomingMessageHandler:
		h, err := ezsp.DecodeIncomingMessageHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed incomingMessageHandler")
			return
		}
		c.events.Push(EventIncomingMessage, h)
		c.incomingMu.RLock()
		fn := c.incoming
		c.incomingMu.RUnlock()
		if fn != nil {
			fn(h.Sender, h.ProfileID, h.ClusterID, h.SrcEndpoint, h.DstEndpoint, h.Payload)
		}

	case ezsp.MessageSentHandler:
		h, err := ezsp.DecodeMessageSentHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed messageSentHandler")
			return
		}
		c.events.Push(EventMessageSent, h)

	case ezsp.NetworkFoundHandler:
		h, err := ezsp.DecodeNetworkFoundHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed networkFoundHandler")
			return
		}
		c.events.Push(EventNetworkFound, h)
		c.scanMu.Lock()
		c.scanResults = append(c.scanResults, h)
		c.scanMu.Unlock()

	case ezsp.ScanCompleteHandler:
		h, err := ezsp.DecodeScanCompleteHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed scanCompleteHandler")
			return
		}
		c.events.Push(EventScanComplete, h)
		c.scanMu.Lock()
		done := c.scanDone
		c.scanMu.Unlock()
		if done != nil {
			select {
			case done <- h.Status:
			default:
			}
		}

	case ezsp.EnergyScanResultHandler:
		h, err := ezsp.DecodeEnergyScanResultHandler(frame.Params)
		if err != nil {
			log.Warn().Err(err).Msg("host: malformed energyScanResultHandler")
			return
		}
		c.events.Push(EventEnergyScanResult, h)

	default:
		log.Debug().Uint16("id", uint16(frame.ID)).Msg("host: unhandled callback")
	}
}

func (c *Controller) onStackStatus(status uint8) {
	switch status {
	case ezsp.NetworkStatusUp:
		c.setState(StateUpAndReady)
		c.events.Push(EventNetworkUp, status)
		go c.refreshNetworkParameters()
	case ezsp.NetworkStatusDown:
		c.setState(StateInitial)
		c.events.Push(EventNetworkDown, status)
	}
}

// refreshNetworkParameters issues getNetworkParameters once the network is
// up and caches the result (spec.md §4.4/§3 "networks[0..3]"). Run off the
// EZSP callback goroutine since Send blocks for the response.
func (c *Controller) refreshNetworkParameters() {
	resp, err := c.ezsp.Send(ezsp.GetNetworkParameters, nil)
	if err != nil {
		log.Warn().Err(err).Msg("host: getNetworkParameters failed")
		return
	}
	params, err := ezsp.DecodeGetNetworkParametersResponse(resp.Params)
	if err != nil || params.Status != ezsp.StatusSuccess {
		log.Warn().Err(err).Uint8("status", params.Status).Msg("host: getNetworkParameters rejected")
		return
	}

	slot := NetworkSlot{
		Present:       true,
		PanID:         params.PanID,
		ExtendedPanID: params.ExtendedPanID,
		RadioChannel:  params.RadioChannel,
		RadioTxPower:  params.RadioTxPower,
		NwkUpdateID:   params.NwkUpdateID,
		NwkManagerID:  params.NwkManagerID,
		Channels:      params.ChannelMask,
		JoinMethod:    params.JoinMethod,
	}

	idx := 0
	for i := range c.model.Networks {
		if c.model.Networks[i].Present && c.model.Networks[i].PanID == slot.PanID {
			idx = i
			break
		}
		if !c.model.Networks[i].Present {
			idx = i
			break
		}
	}
	c.model.Networks[idx] = slot
}

// handleUnrecognized surfaces a structurally decodable but unknown command
// id without tearing down the session (spec.md §7).
func (c *Controller) handleUnrecognized(u ezsp.Unrecognized) {
	log.Debug().Uint16("id", uint16(u.ID)).Int("bytes", len(u.Bytes)).Msg("host: unrecognized command")
	if _, err := c.events.Push(EventUnrecognized, u); err != nil {
		log.Warn().Err(err).Msg("host: event queue busy, dropping unrecognized notice")
	}
}

// SendUnicast is the C6 send path: construction of aps_frame/payload_bytes
// lives above this call (pkg/zcl); Controller only forwards bytes.
func (c *Controller) SendUnicast(destination uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte, tag uint8) error {
	if c.State() != StateUpAndReady {
		return ErrNotReady
	}
	req := ezsp.SendUnicastRequest{
		Destination: destination,
		ProfileID:   profileID,
		ClusterID:   clusterID,
		SrcEndpoint: srcEndpoint,
		DstEndpoint: dstEndpoint,
		Options:     0x0140, // APS ack + enable route discovery, matches teacher default
		Tag:         tag,
		Payload:     payload,
	}
	resp, err := c.ezsp.Send(ezsp.SendUnicast, req.Encode())
	if err != nil {
		return fmt.Errorf("host: sendUnicast: %w", err)
	}
	result, err := ezsp.DecodeSendUnicastResponse(resp.Params)
	if err != nil {
		return fmt.Errorf("host: decode sendUnicast response: %w", err)
	}
	if result.Status != 0 {
		return fmt.Errorf("host: sendUnicast rejected, status=%d", result.Status)
	}
	return nil
}

// SetIncomingMessageHandler installs the C6 callback invoked for every
// incomingMessageHandler frame.
func (c *Controller) SetIncomingMessageHandler(fn IncomingMessageFunc) {
	c.incomingMu.Lock()
	c.incoming = fn
	c.incomingMu.Unlock()
}

// PermitJoining opens or closes the network to new joins for the given
// duration (0 closes immediately).
func (c *Controller) PermitJoining(durationSeconds uint8) error {
	req := ezsp.PermitJoiningRequest{DurationSeconds: durationSeconds}
	resp, err := c.ezsp.Send(ezsp.PermitJoining, req.Encode())
	if err != nil {
		return fmt.Errorf("host: permitJoining: %w", err)
	}
	if status, err := ezsp.DecodePermitJoiningResponse(resp.Params); err != nil || status != 0 {
		return fmt.Errorf("host: permitJoining status=%d err=%v", status, err)
	}
	return nil
}

// Save persists the current config/networks/children snapshot via C5.
func (c *Controller) Save() error {
	if c.persistence == nil {
		return nil
	}
	return c.persistence.Save(c.cfg, c.model.Networks, c.model.Children.All())
}

// Close tears down the supervisor loop, the EZSP layer, and the ASH link.
func (c *Controller) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
	c.ezsp.Close()
	c.link.Close()
}
