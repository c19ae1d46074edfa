// Package file keeps the durable client state in a YAML file, one entry
// per client id.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

type clientState struct {
	ActiveShopID string    `yaml:"active_shop_id,omitempty"`
	SubjectID    string    `yaml:"subject_id,omitempty"`
	UpdatedAt    time.Time `yaml:"updated_at"`
}

type document struct {
	Clients map[string]clientState `yaml:"clients"`
}

// StateStore implements tenant.PointerStore and auth.SubjectStore. Writes
// replace the file atomically.
type StateStore struct {
	path     string
	clientID string
	now      func() time.Time

	mu sync.Mutex
}

var (
	_ tenant.PointerStore = (*StateStore)(nil)
	_ auth.SubjectStore   = (*StateStore)(nil)
)

func NewStateStore(path, clientID string) *StateStore {
	return &StateStore{path: path, clientID: clientID, now: time.Now}
}

func (s *StateStore) ActiveShop(context.Context) (string, error) {
	st, err := s.read()
	return st.ActiveShopID, err
}

func (s *StateStore) SaveActiveShop(_ context.Context, shopID string) error {
	return s.update(func(st *clientState) { st.ActiveShopID = shopID })
}

func (s *StateStore) ClearActiveShop(context.Context) error {
	return s.update(func(st *clientState) { st.ActiveShopID = "" })
}

func (s *StateStore) SaveSubject(_ context.Context, subjectID string) error {
	return s.update(func(st *clientState) { st.SubjectID = subjectID })
}

func (s *StateStore) ClearSubject(context.Context) error {
	return s.update(func(st *clientState) { st.SubjectID = "" })
}

// Subject returns the persisted subject id, or "".
func (s *StateStore) Subject(context.Context) (string, error) {
	st, err := s.read()
	return st.SubjectID, err
}

func (s *StateStore) read() (clientState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return clientState{}, err
	}
	return doc.Clients[s.clientID], nil
}

func (s *StateStore) update(fn func(*clientState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	st := doc.Clients[s.clientID]
	fn(&st)
	st.UpdatedAt = s.now().UTC()
	doc.Clients[s.clientID] = st
	return s.store(doc)
}

func (s *StateStore) load() (document, error) {
	doc := document{Clients: map[string]clientState{}}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if doc.Clients == nil {
		doc.Clients = map[string]clientState{}
	}
	return doc, nil
}

func (s *StateStore) store(doc document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".console-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
