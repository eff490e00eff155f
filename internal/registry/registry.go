// Package registry implements the read-only agent catalog and binary
// downloader (base spec component C5), grounded on
// original_source/src-tauri/src/services/registry_service.rs and
// services/download_service.rs.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/openagentbroker/acpbroker/internal/apperror"
)

const (
	registryURL = "https://cdn.agentclientprotocol.com/registry/v1/latest/registry.json"
	cdnURL      = "https://cdn.agentclientprotocol.com"
	cacheTTL    = time.Hour
)

// NpxDistribution runs an agent via a Node package runner ("runner-A").
type NpxDistribution struct {
	Package string            `json:"package"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// UvxDistribution runs an agent via a Python package runner ("runner-B").
type UvxDistribution struct {
	Package string            `json:"package"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// BinaryTarget describes one platform/arch's native-binary archive.
type BinaryTarget struct {
	URL     string   `json:"url"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Distribution is the union of ways an agent may be installed and run.
type Distribution struct {
	NPX    *NpxDistribution        `json:"npx,omitempty"`
	UVX    *UvxDistribution        `json:"uvx,omitempty"`
	Binary map[string]BinaryTarget `json:"binary,omitempty"`
}

// Entry is one immutable catalog record.
type Entry struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Description  string       `json:"description"`
	Repository   string       `json:"repository,omitempty"`
	Authors      []string     `json:"authors"`
	License      string       `json:"license"`
	Icon         string       `json:"icon"`
	Distribution Distribution `json:"distribution"`
}

// Catalog is the full fetched/cached registry document.
type Catalog struct {
	Version    string          `json:"version"`
	Agents     []Entry         `json:"agents"`
	Extensions []any           `json:"extensions,omitempty"`
}

func (c Catalog) Find(id string) (Entry, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Entry{}, false
}

type cachedCatalog struct {
	catalog   Catalog
	fetchedAt time.Time
}

// Service fetches and caches the registry, grounded directly on
// RegistryService in the original implementation.
type Service struct {
	cachePath string
	client    *http.Client

	mu     sync.Mutex
	cached *cachedCatalog

	group singleflight.Group
}

// NewService constructs a registry Service writing its disk cache under cachePath.
func NewService(cachePath string) *Service {
	return &Service{
		cachePath: cachePath,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch returns the in-memory cached catalog if fresh (<1h), otherwise
// fetches from the CDN, writes through to disk, and updates the cache.
// Concurrent calls collapse into a single HTTP round trip.
func (s *Service) Fetch(ctx context.Context) (Catalog, error) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cached.fetchedAt) < cacheTTL {
		c := s.cached.catalog
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("fetch", func() (any, error) {
		return s.fetchFromCDN(ctx)
	})
	if err != nil {
		return Catalog{}, err
	}
	return v.(Catalog), nil
}

func (s *Service) fetchFromCDN(ctx context.Context) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
	if err != nil {
		return Catalog{}, apperror.OtherErr("failed to build registry request: %v", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Catalog{}, apperror.OtherErr("failed to fetch registry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Catalog{}, apperror.OtherErr("failed to fetch registry: HTTP %d", resp.StatusCode)
	}

	var catalog Catalog
	if err := json.NewDecoder(resp.Body).Decode(&catalog); err != nil {
		return Catalog{}, apperror.OtherErr("failed to parse registry: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cachePath), 0o755); err == nil {
		if data, err := json.MarshalIndent(catalog, "", "  "); err == nil {
			_ = atomic.WriteFile(s.cachePath, bytes.NewReader(data))
		}
	}

	s.mu.Lock()
	s.cached = &cachedCatalog{catalog: catalog, fetchedAt: time.Now()}
	s.mu.Unlock()

	return catalog, nil
}

// GetCached returns the best available catalog without a network call:
// the in-memory cache if present, else the on-disk cache, else false.
func (s *Service) GetCached() (Catalog, bool) {
	s.mu.Lock()
	if s.cached != nil {
		c := s.cached.catalog
		s.mu.Unlock()
		return c, true
	}
	s.mu.Unlock()

	data, err := os.ReadFile(s.cachePath)
	if err != nil {
		return Catalog{}, false
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return Catalog{}, false
	}

	s.mu.Lock()
	s.cached = &cachedCatalog{catalog: catalog, fetchedAt: time.Now()}
	s.mu.Unlock()
	return catalog, true
}

// GetIconSVG fetches an agent's icon, either from an explicit http(s)
// override or the CDN's conventional per-agent path. Returns (nil, nil)
// on any HTTP failure, matching the original's "Returning None on HTTP
// failure is acceptable".
func (s *Service) GetIconSVG(ctx context.Context, agentID, icon string) (*string, error) {
	iconURL := icon
	if !strings.HasPrefix(icon, "http") {
		iconURL = fmt.Sprintf("%s/registry/v1/latest/dist/%s.svg", cdnURL, agentID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return nil, nil
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	text := string(body)
	return &text, nil
}
