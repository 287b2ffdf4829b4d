// Package storage implements the C5 persistence interface (spec.md §4.4):
// a single JSON document holding config, cached network profiles, and the
// child table, grounded in original_source/pi-zigbee-lib/ezsp_db_json.h.
package storage

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/coldboot/ezsphost/pkg/host"
)

// document mirrors the on-disk shape spec.md §6 names: top-level
// config/networks/childs keys, hex-string PAN ids and byte arrays matching
// ezsp_db_json.h's conf2json/networks2json/child2json.
type document struct {
	Config   configDoc    `json:"config"`
	Networks []networkDoc `json:"networks"`
	Childs   []childDoc   `json:"childs"`
}

type configDoc struct {
	Version string `json:"version"`
}

type networkDoc struct {
	PanID         string   `json:"panId"`
	ExtendedPanID []string `json:"extendedPanId"`
	RadioTxPower  int8     `json:"radioTxPower"`
	RadioChannel  uint8    `json:"radioChannel"`
	JoinMethod    uint8    `json:"joinMethod"`
	NwkManagerID  uint16   `json:"nwkManagerId"`
	NwkUpdateID   uint8    `json:"nwkUpdateId"`
	Channels      uint32   `json:"channels"`
}

type childDoc struct {
	ID       uint64   `json:"id"`
	NwkAddr  string   `json:"nwkAddr"`
	IeeeAddr []string `json:"ieeeAddr"`
	Type     uint8    `json:"type"`
	Flags    uint8    `json:"flags"`
}

func hexU16(v uint16) string { return fmt.Sprintf("0x%04X", v) }

func parseHexU16(s string) (uint16, error) {
	v, err := strconv.ParseUint(trimHexPrefix(s), 16, 16)
	return uint16(v), err
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func eui64ToHexArray(eui [8]byte) []string {
	out := make([]string, 8)
	for i, b := range eui {
		out[i] = fmt.Sprintf("0x%02X", b)
	}
	return out
}

func hexArrayToEUI64(arr []string) ([8]byte, error) {
	var eui [8]byte
	if len(arr) != 8 {
		return eui, fmt.Errorf("storage: extendedPanId/ieeeAddr must have 8 entries, got %d", len(arr))
	}
	for i, s := range arr {
		v, err := strconv.ParseUint(trimHexPrefix(s), 16, 8)
		if err != nil {
			return eui, fmt.Errorf("storage: byte %d %q: %w", i, s, err)
		}
		eui[i] = byte(v)
	}
	return eui, nil
}

func networkToDoc(n host.NetworkSlot) networkDoc {
	return networkDoc{
		PanID:         hexU16(n.PanID),
		ExtendedPanID: eui64ToHexArray(n.ExtendedPanID),
		RadioTxPower:  n.RadioTxPower,
		RadioChannel:  n.RadioChannel,
		JoinMethod:    n.JoinMethod,
		NwkManagerID:  n.NwkManagerID,
		NwkUpdateID:   n.NwkUpdateID,
		Channels:      n.Channels,
	}
}

func docToNetwork(d networkDoc) (host.NetworkSlot, error) {
	var n host.NetworkSlot
	panID, err := parseHexU16(d.PanID)
	if err != nil {
		return n, fmt.Errorf("storage: panId %q: %w", d.PanID, err)
	}
	extPan, err := hexArrayToEUI64(d.ExtendedPanID)
	if err != nil {
		return n, err
	}
	n = host.NetworkSlot{
		Present:       true,
		PanID:         panID,
		ExtendedPanID: extPan,
		RadioTxPower:  d.RadioTxPower,
		RadioChannel:  d.RadioChannel,
		JoinMethod:    d.JoinMethod,
		NwkManagerID:  d.NwkManagerID,
		NwkUpdateID:   d.NwkUpdateID,
		Channels:      d.Channels,
	}
	return n, nil
}

func childToDoc(c host.Child) childDoc {
	id := eui64ToUint64(c.EUI64)
	return childDoc{
		ID:       id,
		NwkAddr:  hexU16(c.ShortID),
		IeeeAddr: eui64ToHexArray(c.EUI64),
		Type:     c.NodeType,
		Flags:    c.MACCapability,
	}
}

func docToChild(d childDoc) (host.Child, error) {
	var c host.Child
	shortID, err := parseHexU16(d.NwkAddr)
	if err != nil {
		return c, fmt.Errorf("storage: nwkAddr %q: %w", d.NwkAddr, err)
	}
	eui, err := hexArrayToEUI64(d.IeeeAddr)
	if err != nil {
		return c, err
	}
	c = host.Child{
		EUI64:             eui,
		ShortID:           shortID,
		NodeType:          d.Type,
		MACCapability:     d.Flags,
		AddressTableIndex: 0xFF,
	}
	return c, nil
}

func eui64ToUint64(eui [8]byte) uint64 {
	var v uint64
	for _, b := range eui {
		v = v<<8 | uint64(b)
	}
	return v
}

// marshalDocument renders the in-memory model to the on-disk JSON shape,
// indented for human readability the way the original's ostrm << _conf
// pretty-prints via nlohmann::json's default formatting.
func marshalDocument(cfg host.Config, networks [4]host.NetworkSlot, children []host.Child) ([]byte, error) {
	doc := document{Config: configDoc{Version: cfg.Version}, Networks: []networkDoc{}, Childs: []childDoc{}}
	for _, n := range networks {
		if n.Present {
			doc.Networks = append(doc.Networks, networkToDoc(n))
		}
	}
	for _, c := range children {
		doc.Childs = append(doc.Childs, childToDoc(c))
	}
	return json.MarshalIndent(doc, "", "  ")
}
