// Package workspacestore is a minimal file-backed store for workspaces.json,
// an external collaborator per base spec §1 that the thread store's
// rebuild-cache operation and the session manager's workspaceId field
// depend on.
package workspacestore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/openagentbroker/acpbroker/internal/apperror"
)

// Workspace is one registered project root.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Root string `json:"root"`
}

// Store is a mutex-guarded, atomically-written workspaces.json.
type Store struct {
	path string
	mu   sync.RWMutex
	list []Workspace
}

// Open loads workspaces.json if present, or starts with an empty list.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperror.IOErr(err, "reading workspaces file %s", path)
	}
	if err := json.Unmarshal(data, &s.list); err != nil {
		return nil, apperror.IOErr(err, "parsing workspaces file %s", path)
	}
	return s, nil
}

// List returns a snapshot of all registered workspaces.
func (s *Store) List() []Workspace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workspace, len(s.list))
	copy(out, s.list)
	return out
}

// Upsert inserts or replaces the workspace with the given id, then persists.
func (s *Store) Upsert(ws Workspace) error {
	s.mu.Lock()
	replaced := false
	for i, w := range s.list {
		if w.ID == ws.ID {
			s.list[i] = ws
			replaced = true
			break
		}
	}
	if !replaced {
		s.list = append(s.list, ws)
	}
	snapshot := append([]Workspace(nil), s.list...)
	s.mu.Unlock()
	return s.save(snapshot)
}

func (s *Store) save(list []Workspace) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return apperror.IOErr(err, "encoding workspaces document")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperror.IOErr(err, "creating workspaces directory")
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperror.IOErr(err, "writing workspaces file %s", s.path)
	}
	return nil
}
