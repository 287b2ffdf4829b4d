package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/coldboot/ezsphost/pkg/host"
)

// Store implements host.Persistence against a single JSON document on
// disk (spec.md §4.4 "Persistence (C5) interface").
type Store struct {
	path   string
	schema *jsonschema.Schema

	mu     sync.Mutex
	loaded bool
	doc    document
}

// New compiles the document schema and returns a Store bound to path. The
// file itself is read lazily on first Load* call, matching the teacher's
// on-demand compile-then-cache pattern (pkg/device/schema/validate.go).
func New(path string) (*Store, error) {
	schema, err := compileDocumentSchema()
	if err != nil {
		return nil, err
	}
	return &Store{path: path, schema: schema}, nil
}

func (s *Store) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		log.Info().Str("path", s.path).Msg("storage: no existing document, starting empty")
		s.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: read %s: %w", s.path, err)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("storage: parse %s: %w", s.path, err)
	}
	if err := validate(s.schema, generic); err != nil {
		return fmt.Errorf("storage: %s failed schema validation: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("storage: decode %s: %w", s.path, err)
	}

	s.doc = doc
	s.loaded = true
	return nil
}

// LoadConfig returns the persisted config.version plus zero-valued runtime
// fields; those are supplied by the caller's own flags/defaults, not
// persisted (spec.md §6 only names config.version).
func (s *Store) LoadConfig() (host.Config, error) {
	if err := s.ensureLoaded(); err != nil {
		return host.Config{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return host.Config{Version: s.doc.Config.Version}, nil
}

// LoadNetworks decodes up to 4 cached network profiles. Malformed entries
// are aggregated rather than failing the whole load, so one bad slot
// doesn't block the rest (spec.md §7 error-handling posture: recover where
// possible).
func (s *Store) LoadNetworks() ([4]host.NetworkSlot, error) {
	var out [4]host.NetworkSlot
	if err := s.ensureLoaded(); err != nil {
		return out, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs *multierror.Error
	for i, d := range s.doc.Networks {
		if i >= len(out) {
			errs = multierror.Append(errs, fmt.Errorf("storage: networks[%d] exceeds %d slots, dropped", i, len(out)))
			continue
		}
		n, err := docToNetwork(d)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("storage: networks[%d]: %w", i, err))
			continue
		}
		out[i] = n
	}
	return out, errs.ErrorOrNil()
}

// LoadChildren decodes the persisted child table, aggregating per-entry
// conversion errors the same way LoadNetworks does.
func (s *Store) LoadChildren() ([]host.Child, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs *multierror.Error
	children := make([]host.Child, 0, len(s.doc.Childs))
	for i, d := range s.doc.Childs {
		c, err := docToChild(d)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("storage: childs[%d]: %w", i, err))
			continue
		}
		children = append(children, c)
	}
	return children, errs.ErrorOrNil()
}

// Save renders cfg/networks/children to JSON and writes it to path,
// renaming any existing file to "<path>_<unix_ts>" first (spec.md §6 "On
// save, if the target file exists, rename it"), matching
// ezsp_db_json.h::save's rename-then-write discipline.
func (s *Store) Save(cfg host.Config, networks [4]host.NetworkSlot, children []host.Child) error {
	if _, err := os.Stat(s.path); err == nil {
		backup := fmt.Sprintf("%s_%d", s.path, time.Now().Unix())
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("storage: backup rename %s -> %s: %w", s.path, backup, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("storage: stat %s: %w", s.path, err)
	}

	out, err := marshalDocument(cfg, networks, children)
	if err != nil {
		return fmt.Errorf("storage: marshal document: %w", err)
	}
	if err := os.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("storage: write %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	return nil
}
