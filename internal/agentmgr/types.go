// Package agentmgr implements the agent lifecycle manager (base spec
// component C2): install/launch/authenticate/terminate over the transport
// layer, including distribution resolution and environment construction.
//
// Grounded on original_source/src-tauri/src/commands/agent.rs and
// services/agent_manager.rs, with the connections-map-of-transports
// ownership pattern borrowed from kdlbs-kandev's
// internal/agent/acp/session.go SessionManager.
package agentmgr

import (
	"encoding/json"
	"time"

	"github.com/openagentbroker/acpbroker/internal/acp"
)

// DistributionKind names which of the three install shapes an installed
// agent uses, per base spec §3 "Installed agent".
type DistributionKind string

const (
	DistributionRunnerA DistributionKind = "runner-A"
	DistributionRunnerB DistributionKind = "runner-B"
	DistributionBinary  DistributionKind = "native-binary"
)

// InstalledAgent is derived from a registry entry at install time.
type InstalledAgent struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	Description string           `json:"description"`
	Icon        string            `json:"icon"`
	Authors     []string         `json:"authors"`
	License     string           `json:"license"`
	InstalledAt time.Time        `json:"installedAt"`
	Kind        DistributionKind `json:"kind"`

	RunnerAPackage string `json:"npxPackage,omitempty"`
	RunnerBPackage string `json:"uvxPackage,omitempty"`
	ExecutablePath string `json:"executablePath,omitempty"`
}

// AgentConnection is the frontend-facing view of a live Transport.
type AgentConnection struct {
	ConnectionID string          `json:"connectionId"`
	AgentID      string          `json:"agentId"`
	AgentName    string          `json:"agentName"`
	AgentVersion string          `json:"agentVersion"`
	Capabilities json.RawMessage `json:"capabilities,omitempty"`
	AuthMethods  []acp.AuthMethod `json:"authMethods,omitempty"`
}

func connectionFromTransport(t *acp.Transport) AgentConnection {
	return AgentConnection{
		ConnectionID: t.ConnectionID,
		AgentID:      t.AgentID,
		AgentName:    t.AgentName,
		AgentVersion: t.AgentVersion,
		Capabilities: t.Capabilities,
		AuthMethods:  t.AuthMethods,
	}
}

// CheckAuthResult answers the supplemented agent_check_auth command
// (original_source/src-tauri/src/commands/agent.rs).
type CheckAuthResult struct {
	AgentID                string          `json:"agentId"`
	CheckedAt              time.Time       `json:"checkedAt"`
	ProjectPath            string          `json:"projectPath"`
	IsAuthenticated        bool            `json:"isAuthenticated"`
	RequiresAuthentication bool            `json:"requiresAuthentication"`
	AuthMethods            []acp.AuthMethod `json:"authMethods"`
	Connection             AgentConnection `json:"connection"`
}

// apiKeyEnvVars is the illustrative table from base spec §4.2, extended
// per agent id.
var apiKeyEnvVars = map[string][]string{
	"claude-code":     {"ANTHROPIC_API_KEY"},
	"copilot":         {"GH_COPILOT_TOKEN", "GITHUB_TOKEN"},
	"github-copilot":  {"GH_COPILOT_TOKEN", "GITHUB_TOKEN"},
	"gpt":             {"OPENAI_API_KEY"},
	"openai":          {"OPENAI_API_KEY"},
	"gemini":          {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	"google":          {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
}

// envBlocklist is checked case-insensitively against extraEnv keys.
var envBlocklist = map[string]struct{}{
	"LD_PRELOAD":             {},
	"DYLD_INSERT_LIBRARIES":  {},
	"DYLD_LIBRARY_PATH":      {},
	"NODE_OPTIONS":           {},
	"NODE_DEBUG":             {},
}
