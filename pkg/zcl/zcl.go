// Package zcl builds and parses Zigbee Cluster Library payload bytes for
// the C6 boundary (spec.md §4.4 "Upper-layer payload helpers"): the core
// only exposes send_unicast/incoming_message over raw bytes, and
// construction/parsing of those bytes lives here, above the core.
package zcl

import (
	"encoding/binary"
	"fmt"
)

// Cluster IDs.
const (
	ClusterOnOff        uint16 = 0x0006
	ClusterLevelControl uint16 = 0x0008
)

// On/Off cluster command IDs.
const (
	CmdOff    uint8 = 0x00
	CmdOn     uint8 = 0x01
	CmdToggle uint8 = 0x02
)

// Level Control cluster command IDs.
const (
	CmdMoveToLevel          uint8 = 0x00
	CmdMoveToLevelWithOnOff uint8 = 0x04
)

// Frame types (ZCL frame control bits 0-1).
const (
	FrameTypeGlobal          uint8 = 0x00
	FrameTypeClusterSpecific uint8 = 0x01
)

// Global commands.
const (
	GlobalReadAttributes         uint8 = 0x00
	GlobalReadAttributesResponse uint8 = 0x01
)

// Frame control direction bit.
const (
	DirectionClientToServer uint8 = 0x00
	DirectionServerToClient uint8 = 0x08
)

// ProfileHA is the Home Automation application profile id.
const ProfileHA uint16 = 0x0104

// Attribute IDs exercised by BuildReadAttributesCommand callers.
const (
	AttrOnOff        uint16 = 0x0000
	AttrCurrentLevel uint16 = 0x0000
)

// Header is a ZCL frame header: frame control, transaction sequence
// number, and command id.
type Header struct {
	FrameControl uint8
	SeqNumber    uint8
	CommandID    uint8
}

// EncodeClusterCommand builds a ZCL cluster-specific command frame with
// the given transaction sequence number.
func EncodeClusterCommand(seq, commandID uint8, payload []byte) []byte {
	return encode(FrameTypeClusterSpecific, seq, commandID, payload)
}

// EncodeGlobalCommand builds a ZCL global command frame (e.g. Read
// Attributes) with the given transaction sequence number.
func EncodeGlobalCommand(seq, commandID uint8, payload []byte) []byte {
	return encode(FrameTypeGlobal, seq, commandID, payload)
}

func encode(frameType, seq, commandID uint8, payload []byte) []byte {
	h := Header{
		FrameControl: frameType | DirectionClientToServer,
		SeqNumber:    seq,
		CommandID:    commandID,
	}
	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, h.FrameControl, h.SeqNumber, h.CommandID)
	frame = append(frame, payload...)
	return frame
}

// BuildOnOffCommand builds a ZCL On/Off cluster command (On/Off/Toggle),
// which carries no payload.
func BuildOnOffCommand(seq, cmd uint8) []byte {
	return EncodeClusterCommand(seq, cmd, nil)
}

// BuildMoveToLevelCommand builds a ZCL Level Control move-to-level-with-
// on-off command.
func BuildMoveToLevelCommand(seq, level uint8, transitionTime uint16) []byte {
	payload := make([]byte, 3)
	payload[0] = level
	binary.LittleEndian.PutUint16(payload[1:3], transitionTime)
	return EncodeClusterCommand(seq, CmdMoveToLevelWithOnOff, payload)
}

// BuildReadAttributesCommand builds a ZCL Read Attributes global command
// requesting the given attribute ids.
func BuildReadAttributesCommand(seq uint8, attrIDs ...uint16) []byte {
	payload := make([]byte, len(attrIDs)*2)
	for i, id := range attrIDs {
		binary.LittleEndian.PutUint16(payload[i*2:], id)
	}
	return EncodeGlobalCommand(seq, GlobalReadAttributes, payload)
}

// ParseHeader reads the 3-byte ZCL header from the front of data.
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < 3 {
		return Header{}, nil, fmt.Errorf("zcl: frame too short: %d bytes", len(data))
	}
	return Header{FrameControl: data[0], SeqNumber: data[1], CommandID: data[2]}, data[3:], nil
}

// ParseReadAttributesResponse extracts attribute values from a Read
// Attributes Response payload (the bytes following the ZCL header).
// Returns a map of attribute id to its raw value bytes; attributes with a
// failure status are skipped.
func ParseReadAttributesResponse(data []byte) map[uint16][]byte {
	result := make(map[uint16][]byte)
	offset := 0

	for offset+4 <= len(data) {
		attrID := binary.LittleEndian.Uint16(data[offset:])
		offset += 2
		status := data[offset]
		offset++

		if status != 0x00 {
			continue
		}
		if offset >= len(data) {
			break
		}

		dataType := data[offset]
		offset++

		valueLen := dataTypeLength(dataType, data[offset:])
		if valueLen <= 0 || offset+valueLen > len(data) {
			break
		}

		value := make([]byte, valueLen)
		copy(value, data[offset:offset+valueLen])
		result[attrID] = value
		offset += valueLen
	}

	return result
}

// dataTypeLength returns the byte length of a ZCL data type value, or -1
// if dataType is unknown or data is too short to determine the length
// (e.g. an octet string's own length prefix).
func dataTypeLength(dataType uint8, data []byte) int {
	switch dataType {
	case 0x10, 0x20, 0x28, 0x30: // bool, uint8, int8, enum8
		return 1
	case 0x21, 0x29, 0x31: // uint16, int16, enum16
		return 2
	case 0x22: // uint24
		return 3
	case 0x23: // uint32
		return 4
	case 0x42: // octet string: 1-byte length prefix + data
		if len(data) < 1 {
			return -1
		}
		return 1 + int(data[0])
	default:
		return -1
	}
}
