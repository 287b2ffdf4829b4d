package zcl

import (
	"bytes"
	"testing"
)

func TestBuildOnOffCommandFrame(t *testing.T) {
	frame := BuildOnOffCommand(5, CmdOn)
	want := []byte{FrameTypeClusterSpecific | DirectionClientToServer, 5, CmdOn}
	if !bytes.Equal(frame, want) {
		t.Errorf("frame = % X, want % X", frame, want)
	}
}

func TestBuildMoveToLevelCommandPayload(t *testing.T) {
	frame := BuildMoveToLevelCommand(1, 0x80, 0x000A)
	hdr, rest, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.CommandID != CmdMoveToLevelWithOnOff {
		t.Errorf("CommandID = 0x%02X, want 0x%02X", hdr.CommandID, CmdMoveToLevelWithOnOff)
	}
	if len(rest) != 3 || rest[0] != 0x80 {
		t.Errorf("payload = % X", rest)
	}
}

func TestParseReadAttributesResponse(t *testing.T) {
	// attrID 0x0000, status success, type uint8 (0x20), value 0x01
	data := []byte{0x00, 0x00, 0x00, 0x20, 0x01}
	got := ParseReadAttributesResponse(data)
	if v, ok := got[0x0000]; !ok || len(v) != 1 || v[0] != 0x01 {
		t.Errorf("got %v", got)
	}
}

func TestParseReadAttributesResponseSkipsFailedStatus(t *testing.T) {
	// attrID 0x0001, status 0x86 (unsupported attribute) terminates this entry
	data := []byte{0x01, 0x00, 0x86}
	got := ParseReadAttributesResponse(data)
	if len(got) != 0 {
		t.Errorf("expected no attributes decoded, got %v", got)
	}
}

type fakeSender struct {
	lastPayload []byte
	lastCluster uint16
}

func (f *fakeSender) SendUnicast(destination uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte, tag uint8) error {
	f.lastPayload = payload
	f.lastCluster = clusterID
	return nil
}

func TestClientSendOnOffUsesOnOffCluster(t *testing.T) {
	sender := &fakeSender{}
	client := NewClient(sender, 1)
	if err := client.SendOnOff(0x1234, 1, CmdOn); err != nil {
		t.Fatalf("SendOnOff: %v", err)
	}
	if sender.lastCluster != ClusterOnOff {
		t.Errorf("cluster = 0x%04X, want ClusterOnOff", sender.lastCluster)
	}
	if len(sender.lastPayload) != 3 || sender.lastPayload[2] != CmdOn {
		t.Errorf("payload = % X", sender.lastPayload)
	}
}

func TestClientSeqIncrementsAcrossSends(t *testing.T) {
	sender := &fakeSender{}
	client := NewClient(sender, 1)
	client.SendOnOff(0x1234, 1, CmdOn)
	first := sender.lastPayload[1]
	client.SendOnOff(0x1234, 1, CmdOff)
	second := sender.lastPayload[1]
	if second != first+1 {
		t.Errorf("seq did not increment: %d -> %d", first, second)
	}
}
