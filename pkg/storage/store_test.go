package storage

import (
	"path/filepath"
	"testing"

	"github.com/coldboot/ezsphost/pkg/host"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ezsphost.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := host.Config{Version: "1"}
	var networks [4]host.NetworkSlot
	networks[0] = host.NetworkSlot{
		Present:       true,
		PanID:         0xABCD,
		ExtendedPanID: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		RadioTxPower:  8,
		RadioChannel:  15,
		NwkManagerID:  0,
		NwkUpdateID:   0,
		Channels:      0x07FFF800,
	}
	children := []host.Child{
		{EUI64: [8]byte{0, 0, 0, 0, 0, 0, 0, 0x42}, ShortID: 0x1234, NodeType: 2, MACCapability: 0x80, AddressTableIndex: 0xFF},
	}

	if err := s.Save(cfg, networks, children); err != nil {
		t.Fatalf("Save: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}

	gotCfg, err := s2.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if gotCfg.Version != "1" {
		t.Errorf("Version = %q, want %q", gotCfg.Version, "1")
	}

	gotNets, err := s2.LoadNetworks()
	if err != nil {
		t.Fatalf("LoadNetworks: %v", err)
	}
	if !gotNets[0].Present || gotNets[0].PanID != 0xABCD || gotNets[0].ExtendedPanID != networks[0].ExtendedPanID {
		t.Errorf("networks[0] = %+v", gotNets[0])
	}

	gotChildren, err := s2.LoadChildren()
	if err != nil {
		t.Fatalf("LoadChildren: %v", err)
	}
	if len(gotChildren) != 1 || gotChildren[0].ShortID != 0x1234 || gotChildren[0].EUI64 != children[0].EUI64 {
		t.Errorf("children = %+v", gotChildren)
	}
}

func TestSaveRenamesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ezsphost.json")

	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Save(host.Config{Version: "1"}, [4]host.NetworkSlot{}, nil); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := s.Save(host.Config{Version: "2"}, [4]host.NetworkSlot{}, nil); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	matches, err := filepath.Glob(path + "_*")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected a backup file from the first save to exist")
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := s.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Version != "" {
		t.Errorf("Version = %q, want empty", cfg.Version)
	}
}
