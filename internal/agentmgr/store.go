package agentmgr

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/openagentbroker/acpbroker/internal/apperror"
)

// installedStore is a mutex-guarded, atomically-written installed-agents.json.
type installedStore struct {
	path string
	mu   sync.RWMutex
	byID map[string]InstalledAgent
}

func openInstalledStore(path string) (*installedStore, error) {
	s := &installedStore{path: path, byID: map[string]InstalledAgent{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperror.IOErr(err, "reading installed-agents file %s", path)
	}
	var list []InstalledAgent
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, apperror.IOErr(err, "parsing installed-agents file %s", path)
	}
	for _, a := range list {
		s.byID[a.ID] = a
	}
	return s, nil
}

func (s *installedStore) list() []InstalledAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InstalledAgent, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out
}

func (s *installedStore) get(id string) (InstalledAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok
}

func (s *installedStore) upsert(a InstalledAgent) error {
	s.mu.Lock()
	s.byID[a.ID] = a
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(snapshot)
}

func (s *installedStore) remove(id string) error {
	s.mu.Lock()
	delete(s.byID, id)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(snapshot)
}

func (s *installedStore) snapshotLocked() []InstalledAgent {
	out := make([]InstalledAgent, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	return out
}

func (s *installedStore) persist(list []InstalledAgent) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperror.IOErr(err, "encoding installed-agents document")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperror.IOErr(err, "creating installed-agents directory")
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperror.IOErr(err, "writing installed-agents file %s", s.path)
	}
	return nil
}
