// Package threadstore implements the crash-safe on-disk thread format
// (base spec component C4): a per-session thread.json manifest plus
// messages.jsonl log, and a derived thread-cache.json index.
//
// Grounded on base spec §3 "Persisted thread" and §4.4, since the Rust
// reference (original_source/src-tauri/src/services/thread_store.rs) was
// truncated to its import header in the retrieved pack. Atomic-write
// mechanics follow vvoland-cagent's pkg/userconfig via
// github.com/natefinch/atomic, the same primitive used throughout this
// module's file-backed stores.
package threadstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/openagentbroker/acpbroker/internal/apperror"
	"github.com/openagentbroker/acpbroker/internal/paths"
)

// Manifest is the full set of scalar attributes of a session, persisted
// in thread.json.
type Manifest struct {
	SessionID       string    `json:"sessionId"`
	Title           string    `json:"title"`
	AgentID         string    `json:"agentId"`
	AgentName       string    `json:"agentName"`
	WorkingDir      string    `json:"workingDir"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	WorkspaceID     string    `json:"workspaceId,omitempty"`
	WorktreePath    string    `json:"worktreePath,omitempty"`
	WorktreeBranch  string    `json:"worktreeBranch,omitempty"`
	UseWorktree     bool      `json:"useWorktree,omitempty"`
	InteractionMode string    `json:"interactionMode,omitempty"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
}

// Thread is a manifest plus its ordered message log.
type Thread struct {
	Manifest Manifest          `json:"manifest"`
	Messages []json.RawMessage `json:"messages"`
}

// Workspace is the minimal description rebuild-cache needs: an id and a
// root directory to scan.
type Workspace struct {
	ID   string
	Root string
}

// cacheEntry is one row of thread-cache.json: a manifest snapshot plus
// the workspace it was discovered under.
type cacheEntry struct {
	Manifest    Manifest `json:"manifest"`
	WorkspaceID string   `json:"workspaceId"`
}

// Store is the thread store: stateless with respect to individual
// threads (every read/write goes straight to disk); the derived index
// cache is likewise read from and rewritten to disk, under a mutex.
type Store struct {
	cachePath string
	mu        sync.Mutex
}

// Open constructs a Store whose index cache lives at cachePath.
func Open(cachePath string) *Store {
	return &Store{cachePath: cachePath}
}

// Save creates the thread directory, writes the manifest and the full
// message log from scratch, and updates the index cache.
func (s *Store) Save(manifest Manifest, messages []json.RawMessage) error {
	dir := paths.ThreadDir(manifest.WorkingDir, manifest.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.IOErr(err, "creating thread directory %s", dir)
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now()
	}
	manifest.UpdatedAt = time.Now()

	if err := writeManifest(dir, manifest); err != nil {
		return err
	}
	if err := writeMessages(dir, messages); err != nil {
		return err
	}
	return s.updateCacheEntry(manifest)
}

// UpdateMessages rewrites messages.jsonl and bumps updatedAt. A no-op if
// the thread directory does not yet exist (the session was never
// persisted).
func (s *Store) UpdateMessages(sessionID, workingDir string, messages []json.RawMessage) error {
	dir := paths.ThreadDir(workingDir, sessionID)
	manifest, ok, err := readManifest(dir)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := writeMessages(dir, messages); err != nil {
		return err
	}
	manifest.UpdatedAt = time.Now()
	if err := writeManifest(dir, manifest); err != nil {
		return err
	}
	return s.updateCacheEntry(manifest)
}

// Rename patches the manifest's title field.
func (s *Store) Rename(sessionID, workingDir, title string) error {
	return s.patchManifest(sessionID, workingDir, func(m *Manifest) { m.Title = title })
}

// UpdateInteractionMode patches the manifest's interactionMode field.
func (s *Store) UpdateInteractionMode(sessionID, workingDir, mode string) error {
	return s.patchManifest(sessionID, workingDir, func(m *Manifest) { m.InteractionMode = mode })
}

func (s *Store) patchManifest(sessionID, workingDir string, patch func(*Manifest)) error {
	dir := paths.ThreadDir(workingDir, sessionID)
	manifest, ok, err := readManifest(dir)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	patch(&manifest)
	manifest.UpdatedAt = time.Now()
	if err := writeManifest(dir, manifest); err != nil {
		return err
	}
	return s.updateCacheEntry(manifest)
}

// Remove deletes a thread's directory and drops it from the index cache.
func (s *Store) Remove(sessionID, workingDir string) error {
	dir := paths.ThreadDir(workingDir, sessionID)
	if err := os.RemoveAll(dir); err != nil {
		return apperror.IOErr(err, "removing thread directory %s", dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.readCacheLocked()
	if err != nil {
		return err
	}
	delete(cache, sessionID)
	return s.persistCacheLocked(cache)
}

// LoadAll returns every thread recorded in the index cache, sorted by
// descending updatedAt.
func (s *Store) LoadAll() ([]Thread, error) {
	s.mu.Lock()
	cache, err := s.readCacheLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	threads := make([]Thread, 0, len(cache))
	for _, entry := range cache {
		dir := paths.ThreadDir(entry.Manifest.WorkingDir, entry.Manifest.SessionID)
		messages, err := readMessages(dir)
		if err != nil {
			continue // a thread missing from disk is dropped, not fatal
		}
		threads = append(threads, Thread{Manifest: entry.Manifest, Messages: messages})
	}
	sort.Slice(threads, func(i, j int) bool {
		return threads[i].Manifest.UpdatedAt.After(threads[j].Manifest.UpdatedAt)
	})
	return threads, nil
}

// RebuildCache scans each workspace's .agent/threads directory, plus
// sibling worktree directories at the same subpath, and rebuilds
// thread-cache.json from what it finds. First writer wins across
// duplicate session ids.
func (s *Store) RebuildCache(workspaces []Workspace) error {
	cache := make(map[string]cacheEntry)

	for _, ws := range workspaces {
		scanInto(cache, ws.ID, ws.Root)

		siblings, err := siblingDirs(ws.Root)
		if err != nil {
			continue
		}
		for _, sibling := range siblings {
			scanInto(cache, ws.ID, sibling)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistCacheLocked(cache)
}

func scanInto(cache map[string]cacheEntry, workspaceID, root string) {
	entries, err := os.ReadDir(paths.ThreadsDir(root))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(paths.ThreadsDir(root), entry.Name())
		manifest, ok, err := readManifest(dir)
		if err != nil || !ok || manifest.SessionID == "" {
			continue
		}
		if _, exists := cache[manifest.SessionID]; exists {
			continue // first writer wins across worktrees
		}
		cache[manifest.SessionID] = cacheEntry{Manifest: manifest, WorkspaceID: workspaceID}
	}
}

// siblingDirs returns the directory entries next to root, candidates for
// Git worktrees of the same project.
func siblingDirs(root string) ([]string, error) {
	parent := filepath.Dir(root)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		full := filepath.Join(parent, entry.Name())
		if full == root {
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

func (s *Store) updateCacheEntry(manifest Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cache, err := s.readCacheLocked()
	if err != nil {
		return err
	}
	cache[manifest.SessionID] = cacheEntry{Manifest: manifest, WorkspaceID: manifest.WorkspaceID}
	return s.persistCacheLocked(cache)
}

func (s *Store) readCacheLocked() (map[string]cacheEntry, error) {
	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]cacheEntry), nil
		}
		return nil, apperror.IOErr(err, "reading thread cache %s", s.cachePath)
	}
	var cache map[string]cacheEntry
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, apperror.IOErr(err, "parsing thread cache %s", s.cachePath)
	}
	if cache == nil {
		cache = make(map[string]cacheEntry)
	}
	return cache, nil
}

func (s *Store) persistCacheLocked(cache map[string]cacheEntry) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return apperror.IOErr(err, "encoding thread cache")
	}
	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o755); err != nil {
		return apperror.IOErr(err, "creating thread cache directory")
	}
	return atomic.WriteFile(s.cachePath, bytes.NewReader(data))
}

func writeManifest(dir string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperror.IOErr(err, "encoding thread manifest")
	}
	return atomic.WriteFile(filepath.Join(dir, "thread.json"), bytes.NewReader(data))
}

func readManifest(dir string) (Manifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, "thread.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, apperror.IOErr(err, "reading thread manifest in %s", dir)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, false, apperror.IOErr(err, "parsing thread manifest in %s", dir)
	}
	return manifest, true, nil
}

func writeMessages(dir string, messages []json.RawMessage) error {
	var buf bytes.Buffer
	for _, m := range messages {
		buf.Write(m)
		buf.WriteByte('\n')
	}
	return atomic.WriteFile(filepath.Join(dir, "messages.jsonl"), bytes.NewReader(buf.Bytes()))
}

func readMessages(dir string) ([]json.RawMessage, error) {
	f, err := os.Open(filepath.Join(dir, "messages.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.IOErr(err, "reading messages in %s", dir)
	}
	defer f.Close()

	var messages []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		messages = append(messages, raw)
	}
	return messages, nil
}
