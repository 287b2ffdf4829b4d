package zcl

import (
	"fmt"
	"sync"
)

// Sender is the C6 boundary Client drives: send_unicast over raw payload
// bytes, nothing cluster-aware.
type Sender interface {
	SendUnicast(destination uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte, tag uint8) error
}

// Client allocates ZCL transaction sequence numbers and builds/sends
// cluster commands over a Sender (typically *host.Controller).
type Client struct {
	sender Sender

	seqMu sync.Mutex
	seq   uint8

	srcEndpoint uint8
}

// NewClient returns a Client that sends from srcEndpoint through sender.
func NewClient(sender Sender, srcEndpoint uint8) *Client {
	return &Client{sender: sender, srcEndpoint: srcEndpoint}
}

func (c *Client) nextSeq() uint8 {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()
	c.seq++
	return c.seq
}

// SendOnOff sends an On/Off cluster command (CmdOn/CmdOff/CmdToggle) to
// destination's endpoint.
func (c *Client) SendOnOff(destination uint16, endpoint, cmd uint8) error {
	seq := c.nextSeq()
	payload := BuildOnOffCommand(seq, cmd)
	if err := c.sender.SendUnicast(destination, ProfileHA, ClusterOnOff, c.srcEndpoint, endpoint, payload, seq); err != nil {
		return fmt.Errorf("zcl: send on/off: %w", err)
	}
	return nil
}

// SendMoveToLevel sends a Level Control move-to-level-with-on-off command.
func (c *Client) SendMoveToLevel(destination uint16, endpoint uint8, level uint8, transitionTime uint16) error {
	seq := c.nextSeq()
	payload := BuildMoveToLevelCommand(seq, level, transitionTime)
	if err := c.sender.SendUnicast(destination, ProfileHA, ClusterLevelControl, c.srcEndpoint, endpoint, payload, seq); err != nil {
		return fmt.Errorf("zcl: send move-to-level: %w", err)
	}
	return nil
}

// ReadAttributes sends a Read Attributes request for attrIDs on clusterID.
func (c *Client) ReadAttributes(destination uint16, endpoint uint8, clusterID uint16, attrIDs ...uint16) error {
	seq := c.nextSeq()
	payload := BuildReadAttributesCommand(seq, attrIDs...)
	if err := c.sender.SendUnicast(destination, ProfileHA, clusterID, c.srcEndpoint, endpoint, payload, seq); err != nil {
		return fmt.Errorf("zcl: send read attributes: %w", err)
	}
	return nil
}
