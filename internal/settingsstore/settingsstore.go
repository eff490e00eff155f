// Package settingsstore is a minimal file-backed store for settings.json,
// an external collaborator per base spec §1 but one the agent and session
// managers depend on for API keys, custom environment overlays, and the
// enabled MCP server list.
package settingsstore

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/openagentbroker/acpbroker/internal/apperror"
)

// AgentSettings holds per-agent overrides consulted by the agent manager
// when constructing a launch environment (base spec §4.2).
type AgentSettings struct {
	APIKeys    map[string]string `json:"apiKeys,omitempty"`
	APIKey     string            `json:"apiKey,omitempty"` // legacy single-key fallback
	CustomEnv  map[string]string `json:"customEnv,omitempty"`
	CustomArgs []string          `json:"customArgs,omitempty"`
}

// MCPServer describes one MCP server entry the session manager assembles
// into `session/new`'s `mcpServers` parameter when enabled.
type MCPServer struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Enabled   bool              `json:"enabled"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Document is the on-disk shape of settings.json.
type Document struct {
	Agents map[string]AgentSettings `json:"agents,omitempty"`
	MCP    struct {
		Servers []MCPServer `json:"servers,omitempty"`
	} `json:"mcp,omitempty"`
}

// Store is a mutex-guarded, atomically-written settings.json.
type Store struct {
	path string
	mu   sync.RWMutex
	doc  Document
}

// Open loads settings.json if present, or starts with an empty document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, doc: Document{Agents: map[string]AgentSettings{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperror.IOErr(err, "reading settings file %s", path)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, apperror.IOErr(err, "parsing settings file %s", path)
	}
	if s.doc.Agents == nil {
		s.doc.Agents = map[string]AgentSettings{}
	}
	return s, nil
}

// Agent returns the stored settings for agentID, or the zero value.
func (s *Store) Agent(agentID string) AgentSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Agents[agentID]
}

// SetAgent stores settings for agentID and persists the document.
func (s *Store) SetAgent(agentID string, settings AgentSettings) error {
	s.mu.Lock()
	s.doc.Agents[agentID] = settings
	doc := s.doc
	s.mu.Unlock()
	return s.save(doc)
}

// EnabledMCPServers returns the subset of configured MCP servers with
// Enabled set, in the shape session/new expects.
func (s *Store) EnabledMCPServers() []MCPServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MCPServer
	for _, srv := range s.doc.MCP.Servers {
		if srv.Enabled {
			out = append(out, srv)
		}
	}
	return out
}

func (s *Store) save(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperror.IOErr(err, "encoding settings document")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperror.IOErr(err, "creating settings directory")
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperror.IOErr(err, "writing settings file %s", s.path)
	}
	return nil
}
