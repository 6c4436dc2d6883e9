package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/2606364644/sandbox-agent/pkg/logging"
)

// ServerSource supplies live clients for named servers. ServerManager is the
// production implementation; tests substitute stubs.
type ServerSource interface {
	// EnsureServer returns a live client for the named server, starting the
	// process if necessary.
	EnsureServer(ctx context.Context, name string) (ToolClient, error)
	// StartAutoAndListRunning starts auto-start servers and returns the names
	// of all currently running servers.
	StartAutoAndListRunning(ctx context.Context) []string
}

var _ ServerSource = (*ServerManager)(nil)

// ToolInfo is a read-only description of one registered tool.
type ToolInfo struct {
	Name        string
	Description string
	Server      string
	Available   bool
}

// ServerToolStats counts tools for one server.
type ServerToolStats struct {
	TotalTools     int
	AvailableTools int
}

// RegistryStats aggregates tool counts across all loaded servers.
// Availability means the owning client is currently alive.
type RegistryStats struct {
	TotalTools       int
	AvailableTools   int
	UnavailableTools int
	LoadedServers    int
	Servers          map[string]ServerToolStats
}

// Registry aggregates tool collections across all servers into one
// name-to-adapter index plus a server-to-names reverse index. It is the
// single point of mutation for both indices; every forward entry appears in
// exactly one reverse list and vice versa. Identically named tools from two
// servers are resolved by renaming the later one to "{server}_{name}" -
// logged, never silently dropped.
type Registry struct {
	source ServerSource
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*ToolCollection
	tools       map[string]*ToolAdapter
	byServer    map[string][]string
	loaded      map[string]bool
}

// NewRegistry builds an empty registry on top of a server source.
func NewRegistry(source ServerSource) *Registry {
	return &Registry{
		source:      source,
		logger:      logging.WithComponent("mcp.registry"),
		collections: make(map[string]*ToolCollection),
		tools:       make(map[string]*ToolAdapter),
		byServer:    make(map[string][]string),
		loaded:      make(map[string]bool),
	}
}

// LoadServerTools ensures the server is running, loads its tool collection
// and inserts every adapter into the indices. Repeated calls for a loaded
// server return the cached set.
func (r *Registry) LoadServerTools(ctx context.Context, server string) ([]*ToolAdapter, error) {
	r.mu.Lock()
	if r.loaded[server] {
		adapters := r.adaptersForLocked(server)
		r.mu.Unlock()
		return adapters, nil
	}
	r.mu.Unlock()

	client, err := r.source.EnsureServer(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("mcp: load tools for %s: %w", server, err)
	}

	r.mu.Lock()
	collection, ok := r.collections[server]
	if !ok {
		collection = NewToolCollection(server, client)
		r.collections[server] = collection
	}
	r.mu.Unlock()

	adapters, err := collection.Load(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, adapter := range adapters {
		r.insertLocked(server, adapter)
	}
	r.loaded[server] = true
	r.logger.Info("server tools registered", "server", server, "count", len(adapters))
	return adapters, nil
}

// ReloadServerTools forces a refetch of the server's declarations, replacing
// its entries in the indices.
func (r *Registry) ReloadServerTools(ctx context.Context, server string) ([]*ToolAdapter, error) {
	r.UnloadServerTools(server)

	r.mu.Lock()
	delete(r.collections, server)
	r.mu.Unlock()

	client, err := r.source.EnsureServer(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("mcp: reload tools for %s: %w", server, err)
	}
	client.InvalidateTools()
	return r.LoadServerTools(ctx, server)
}

// UnloadServerTools removes the server's entries from both indices without
// touching its process, and returns the number of tools removed. Tool
// unloading and process supervision are independent.
func (r *Registry) UnloadServerTools(server string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.byServer[server]
	for _, name := range names {
		delete(r.tools, name)
	}
	delete(r.byServer, server)
	delete(r.loaded, server)
	if len(names) > 0 {
		r.logger.Info("server tools unloaded", "server", server, "count", len(names))
	}
	return len(names)
}

// LoadAllTools starts every auto-start server and loads tools from all
// running servers. One server's failure never blocks the others; the result
// maps each loaded server to its tool count.
func (r *Registry) LoadAllTools(ctx context.Context) map[string]int {
	counts := make(map[string]int)
	for _, server := range r.source.StartAutoAndListRunning(ctx) {
		adapters, err := r.LoadServerTools(ctx, server)
		if err != nil {
			r.logger.Error("loading server tools failed", "server", server, "error", err)
			continue
		}
		counts[server] = len(adapters)
	}
	return counts
}

// ReloadTools clears every index entry and collection cache, then loads all
// tools again.
func (r *Registry) ReloadTools(ctx context.Context) map[string]int {
	r.UnloadAllTools()
	r.mu.Lock()
	r.collections = make(map[string]*ToolCollection)
	r.mu.Unlock()
	return r.LoadAllTools(ctx)
}

// UnloadAllTools removes every server's entries from the indices.
func (r *Registry) UnloadAllTools() {
	r.mu.Lock()
	servers := make([]string, 0, len(r.byServer))
	for server := range r.byServer {
		servers = append(servers, server)
	}
	r.mu.Unlock()
	for _, server := range servers {
		r.UnloadServerTools(server)
	}
}

// Get looks up a tool by its registered name.
func (r *Registry) Get(name string) (*ToolAdapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.tools[name]
	return adapter, ok
}

// All returns every registered adapter, sorted by name.
func (r *Registry) All() []*ToolAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()

	adapters := make([]*ToolAdapter, 0, len(r.tools))
	for _, adapter := range r.tools {
		adapters = append(adapters, adapter)
	}
	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Name() < adapters[j].Name() })
	return adapters
}

// ByServer returns the adapters registered for one server.
func (r *Registry) ByServer(server string) []*ToolAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adaptersForLocked(server)
}

// Search returns adapters whose name or description contains the keyword,
// case-insensitively.
func (r *Registry) Search(keyword string) []*ToolAdapter {
	keyword = strings.ToLower(keyword)
	var matched []*ToolAdapter
	for _, adapter := range r.All() {
		if strings.Contains(strings.ToLower(adapter.Name()), keyword) ||
			strings.Contains(strings.ToLower(adapter.Description()), keyword) {
			matched = append(matched, adapter)
		}
	}
	return matched
}

// LoadedServers returns the sorted names of servers whose tools are loaded.
func (r *Registry) LoadedServers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	servers := make([]string, 0, len(r.loaded))
	for server := range r.loaded {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers
}

// ListToolInfo describes every registered tool.
func (r *Registry) ListToolInfo() []ToolInfo {
	adapters := r.All()
	infos := make([]ToolInfo, 0, len(adapters))
	for _, adapter := range adapters {
		infos = append(infos, ToolInfo{
			Name:        adapter.Name(),
			Description: adapter.Description(),
			Server:      adapter.Server(),
			Available:   adapter.Available(),
		})
	}
	return infos
}

// Stats counts total and available tools, with a per-server breakdown.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		TotalTools:    len(r.tools),
		LoadedServers: len(r.loaded),
		Servers:       make(map[string]ServerToolStats, len(r.byServer)),
	}
	for server, names := range r.byServer {
		serverStats := ServerToolStats{TotalTools: len(names)}
		for _, name := range names {
			if adapter, ok := r.tools[name]; ok && adapter.Available() {
				serverStats.AvailableTools++
			}
		}
		stats.Servers[server] = serverStats
		stats.AvailableTools += serverStats.AvailableTools
	}
	stats.UnavailableTools = stats.TotalTools - stats.AvailableTools
	return stats
}

// insertLocked applies the collision rule and adds the adapter to both
// indices. Callers hold r.mu.
func (r *Registry) insertLocked(server string, adapter *ToolAdapter) {
	name := adapter.Name()
	if existing, ok := r.tools[name]; ok && existing.Server() != server {
		renamed := fmt.Sprintf("%s_%s", server, name)
		r.logger.Warn("tool name collision, renaming",
			"tool", name,
			"server", server,
			"existing_server", existing.Server(),
			"renamed", renamed)
		adapter.rename(renamed)
		name = renamed
	}
	r.tools[name] = adapter
	r.byServer[server] = append(r.byServer[server], name)
}

func (r *Registry) adaptersForLocked(server string) []*ToolAdapter {
	names := r.byServer[server]
	adapters := make([]*ToolAdapter, 0, len(names))
	for _, name := range names {
		if adapter, ok := r.tools[name]; ok {
			adapters = append(adapters, adapter)
		}
	}
	return adapters
}
