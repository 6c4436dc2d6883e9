package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/2606364644/sandbox-agent/mcp"
	"github.com/2606364644/sandbox-agent/pkg/logging"
	"github.com/2606364644/sandbox-agent/tool"
)

// Handle is the uniform view of one callable tool, whether it runs in-process
// or behind an external server.
type Handle interface {
	Name() string
	Description() string
	// Origin identifies where the tool runs: "native" for in-process tools,
	// the server name for external ones.
	Origin() string
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// nativeHandle adapts a *tool.Tool to the Handle contract.
type nativeHandle struct {
	tool *tool.Tool
}

func (h nativeHandle) Name() string        { return h.tool.Name }
func (h nativeHandle) Description() string { return h.tool.Description }
func (h nativeHandle) Origin() string      { return "native" }
func (h nativeHandle) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return h.tool.Execute(ctx, args)
}

// externalHandle adapts an *mcp.ToolAdapter to the Handle contract.
type externalHandle struct {
	adapter *mcp.ToolAdapter
}

func (h externalHandle) Name() string        { return h.adapter.Name() }
func (h externalHandle) Description() string { return h.adapter.Description() }
func (h externalHandle) Origin() string      { return h.adapter.Server() }
func (h externalHandle) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return h.adapter.Invoke(ctx, args)
}

// ManagerStats summarizes what the unified manager currently exposes.
type ManagerStats struct {
	NativeTools   int
	ExternalTools int
	TotalTools    int
	Categories    map[string]int
	Servers       mcp.RegistryStats
}

// UnifiedToolManager presents native in-process tools and external
// server-backed tools behind one lookup and invoke surface. Name lookups
// prefer native tools; an external tool shadowed by a native one stays
// reachable through the external registry's collision handling.
type UnifiedToolManager struct {
	native   *tool.Registry
	external *mcp.Registry
	servers  *mcp.ServerManager
	logger   *slog.Logger

	mu         sync.RWMutex
	categories map[string][]string // category -> native tool names
	truncator  *Truncator
}

// NewUnifiedToolManager builds a manager over a server manager. The external
// registry is created internally; native tools are registered via
// RegisterNative or RegisterCategory.
func NewUnifiedToolManager(servers *mcp.ServerManager) *UnifiedToolManager {
	return &UnifiedToolManager{
		native:     tool.NewRegistry(),
		external:   mcp.NewRegistry(servers),
		servers:    servers,
		logger:     logging.WithComponent("runtime.tools"),
		categories: make(map[string][]string),
		truncator:  NewTruncator(0),
	}
}

// SetTruncator replaces the result truncator. A nil truncator disables
// truncation.
func (m *UnifiedToolManager) SetTruncator(t *Truncator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncator = t
}

// RegisterNative adds one in-process tool under the given category.
func (m *UnifiedToolManager) RegisterNative(category string, t *tool.Tool) error {
	if err := m.native.Register(t); err != nil {
		return err
	}
	m.mu.Lock()
	m.categories[category] = append(m.categories[category], t.Name)
	m.mu.Unlock()
	m.logger.Debug("native tool registered", "tool", t.Name, "category", category)
	return nil
}

// RegisterCategory registers a batch of native tools under one category,
// stopping at the first failure.
func (m *UnifiedToolManager) RegisterCategory(category string, tools []*tool.Tool) error {
	for _, t := range tools {
		if err := m.RegisterNative(category, t); err != nil {
			return fmt.Errorf("register %s tools: %w", category, err)
		}
	}
	return nil
}

// UnregisterNative removes a native tool and its category membership.
func (m *UnifiedToolManager) UnregisterNative(name string) {
	m.native.Remove(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	for category, names := range m.categories {
		for i, n := range names {
			if n == name {
				m.categories[category] = append(names[:i], names[i+1:]...)
				break
			}
		}
		if len(m.categories[category]) == 0 {
			delete(m.categories, category)
		}
	}
}

// Initialize loads external tools and returns the per-server tool counts.
// With no arguments it starts every auto-start server; with server names it
// loads exactly those. Individual server failures are logged and skipped; the
// manager comes up with whatever subset is healthy.
func (m *UnifiedToolManager) Initialize(ctx context.Context, servers ...string) map[string]int {
	var counts map[string]int
	if len(servers) == 0 {
		counts = m.external.LoadAllTools(ctx)
	} else {
		counts = make(map[string]int, len(servers))
		for _, server := range servers {
			adapters, err := m.external.LoadServerTools(ctx, server)
			if err != nil {
				m.logger.Error("loading server tools failed", "server", server, "error", err)
				continue
			}
			counts[server] = len(adapters)
		}
	}
	m.logger.Info("tool manager initialized",
		"native", len(m.native.List()), "servers", len(counts))
	return counts
}

// Get resolves a tool name to a handle. Native tools win name conflicts.
func (m *UnifiedToolManager) Get(name string) (Handle, bool) {
	if t, err := m.native.Get(name); err == nil {
		return nativeHandle{tool: t}, true
	}
	if adapter, ok := m.external.Get(name); ok {
		return externalHandle{adapter: adapter}, true
	}
	return nil, false
}

// Execute invokes a tool by name and truncates oversized results.
func (m *UnifiedToolManager) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	handle, ok := m.Get(name)
	if !ok {
		return "", fmt.Errorf("runtime: unknown tool %q", name)
	}

	out, err := handle.Invoke(ctx, args)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	truncator := m.truncator
	m.mu.RUnlock()
	if truncator != nil {
		truncated, clipped := truncator.Clip(out)
		if clipped {
			m.logger.Warn("tool result truncated", "tool", name, "origin", handle.Origin())
		}
		return truncated, nil
	}
	return out, nil
}

// Tools returns every exposed handle, native first, each group sorted by
// name. With server names given, the external set is limited to those servers.
func (m *UnifiedToolManager) Tools(servers ...string) []Handle {
	handles := make([]Handle, 0)
	for _, t := range m.native.List() {
		handles = append(handles, nativeHandle{tool: t})
	}

	var adapters []*mcp.ToolAdapter
	if len(servers) == 0 {
		adapters = m.external.All()
	} else {
		for _, server := range servers {
			adapters = append(adapters, m.external.ByServer(server)...)
		}
	}
	for _, adapter := range adapters {
		if m.native.Has(adapter.Name()) {
			continue // shadowed by a native tool
		}
		handles = append(handles, externalHandle{adapter: adapter})
	}
	return handles
}

// Search returns handles whose name or description contains the keyword,
// case-insensitively.
func (m *UnifiedToolManager) Search(keyword string) []Handle {
	keyword = strings.ToLower(keyword)
	var matched []Handle
	for _, handle := range m.Tools() {
		if strings.Contains(strings.ToLower(handle.Name()), keyword) ||
			strings.Contains(strings.ToLower(handle.Description()), keyword) {
			matched = append(matched, handle)
		}
	}
	return matched
}

// Categories returns the sorted category names of native tools.
func (m *UnifiedToolManager) Categories() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.categories))
	for category := range m.categories {
		names = append(names, category)
	}
	sort.Strings(names)
	return names
}

// CategoryTools returns the native tool names in one category, sorted.
func (m *UnifiedToolManager) CategoryTools(category string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := append([]string(nil), m.categories[category]...)
	sort.Strings(names)
	return names
}

// StartServer starts a configured server and loads its tools.
func (m *UnifiedToolManager) StartServer(ctx context.Context, name string) error {
	if _, err := m.external.LoadServerTools(ctx, name); err != nil {
		return err
	}
	return nil
}

// StopServer unloads a server's tools and stops its process.
func (m *UnifiedToolManager) StopServer(name string) error {
	m.external.UnloadServerTools(name)
	return m.servers.StopServer(name)
}

// ReloadServer refetches a server's tool declarations.
func (m *UnifiedToolManager) ReloadServer(ctx context.Context, name string) error {
	_, err := m.external.ReloadServerTools(ctx, name)
	return err
}

// ListAvailableServers returns the status of every configured server.
func (m *UnifiedToolManager) ListAvailableServers() []mcp.ServerStatus {
	return m.servers.List()
}

// Stats aggregates native and external tool counts.
func (m *UnifiedToolManager) Stats() ManagerStats {
	m.mu.RLock()
	categories := make(map[string]int, len(m.categories))
	for category, names := range m.categories {
		categories[category] = len(names)
	}
	m.mu.RUnlock()

	serverStats := m.external.Stats()
	native := len(m.native.List())
	return ManagerStats{
		NativeTools:   native,
		ExternalTools: serverStats.TotalTools,
		TotalTools:    native + serverStats.TotalTools,
		Categories:    categories,
		Servers:       serverStats,
	}
}

// Cleanup unloads all external tools and stops every server process.
func (m *UnifiedToolManager) Cleanup() {
	m.external.UnloadAllTools()
	m.servers.StopAll()
	m.logger.Info("tool manager cleaned up")
}
