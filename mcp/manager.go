package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2606364644/sandbox-agent/pkg/logging"
)

// ServerState is the supervisor's view of one server process.
type ServerState int

const (
	StateStopped ServerState = iota
	StateStarting
	StateRunning
	StateStopping
	StateFailed
)

func (s ServerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ServerStatus is a point-in-time snapshot of one configured server.
type ServerStatus struct {
	Name        string
	Command     []string
	Description string
	State       ServerState
	ToolCount   int
}

// ManagerStats aggregates counts across all configured servers.
type ManagerStats struct {
	TotalServers   int
	RunningServers int
	StoppedServers int
	TotalTools     int
}

// ManagerOption configures a ServerManager.
type ManagerOption func(*ServerManager)

// WithManagerLogger sets the supervisor's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *ServerManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClientOptions sets options applied to every client the manager builds.
func WithClientOptions(opts ...Option) ManagerOption {
	return func(m *ServerManager) {
		m.clientOpts = append(m.clientOpts, opts...)
	}
}

// ServerManager owns the set of named server configurations and drives each
// client's lifecycle with bounded retries and per-attempt timeouts. Retry
// lives exclusively here: clients never retry internally.
type ServerManager struct {
	logger     *slog.Logger
	clientOpts []Option

	mu      sync.Mutex
	servers map[string]ServerConfig
	clients map[string]*Client
	states  map[string]ServerState
}

// NewServerManager builds an empty manager.
func NewServerManager(opts ...ManagerOption) *ServerManager {
	m := &ServerManager{
		servers: make(map[string]ServerConfig),
		clients: make(map[string]*Client),
		states:  make(map[string]ServerState),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("mcp.manager")
	}
	return m
}

// Register adds a server configuration. Configs are immutable once
// registered; registering a duplicate name is an error.
func (m *ServerManager) Register(cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.servers[cfg.Name]; exists {
		return fmt.Errorf("mcp: server %q already registered", cfg.Name)
	}
	m.servers[cfg.Name] = cfg
	m.states[cfg.Name] = StateStopped
	m.logger.Info("mcp server registered", "server", cfg.Name, "auto_start", cfg.AutoStart)
	return nil
}

// Unregister removes a server configuration, stopping its process first if
// running.
func (m *ServerManager) Unregister(name string) error {
	m.mu.Lock()
	_, known := m.servers[name]
	m.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	if err := m.StopServer(name); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.servers, name)
	delete(m.states, name)
	m.mu.Unlock()
	m.logger.Info("mcp server unregistered", "server", name)
	return nil
}

// LoadConfig merges server configs from a file into the manager. Entries for
// currently running servers are skipped; configs absent from the file are
// left untouched. Returns the number of configs applied.
func (m *ServerManager) LoadConfig(path string) (int, error) {
	configs, err := LoadConfigFile(path)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	applied := 0
	for _, cfg := range configs {
		if client, ok := m.clients[cfg.Name]; ok && client.IsAlive() {
			m.logger.Warn("skipping config for running server", "server", cfg.Name)
			continue
		}
		m.servers[cfg.Name] = cfg
		if _, ok := m.states[cfg.Name]; !ok {
			m.states[cfg.Name] = StateStopped
		}
		applied++
	}
	m.logger.Info("mcp config loaded", "path", path, "servers", applied)
	return applied, nil
}

// SaveConfig writes all registered server configs to a file.
func (m *ServerManager) SaveConfig(path string) error {
	m.mu.Lock()
	configs := make([]ServerConfig, 0, len(m.servers))
	for _, cfg := range m.servers {
		configs = append(configs, cfg)
	}
	m.mu.Unlock()
	return WriteConfigFile(path, configs)
}

// StartServer brings the named server to Running, attempting up to the
// configured retry count with a flat per-attempt timeout. A half-started
// process from a failed attempt is force-stopped before the next attempt. On
// failure the state is Stopped, never Starting or Failed.
func (m *ServerManager) StartServer(ctx context.Context, name string) error {
	m.mu.Lock()
	cfg, known := m.servers[name]
	if !known {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	if client, ok := m.clients[name]; ok && client.IsAlive() {
		m.states[name] = StateRunning
		m.mu.Unlock()
		return nil
	}
	if m.states[name] == StateStarting {
		m.mu.Unlock()
		return fmt.Errorf("mcp: server %s start already in progress", name)
	}
	m.states[name] = StateStarting
	m.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= cfg.RetryCount; attempt++ {
		client := NewClient(name, cfg.Command, m.clientOpts...)
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		err := client.Start(attemptCtx)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.clients[name] = client
			m.states[name] = StateRunning
			m.mu.Unlock()
			m.logger.Info("mcp server running", "server", name, "attempt", attempt)
			return nil
		}
		lastErr = err
		_ = client.Stop()
		m.logger.Warn("mcp server start attempt failed",
			"server", name, "attempt", attempt, "retry_count", cfg.RetryCount, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	m.mu.Lock()
	m.states[name] = StateStopped
	m.mu.Unlock()
	return fmt.Errorf("mcp: server %s failed to start after %d attempts: %w", name, cfg.RetryCount, lastErr)
}

// StopServer stops the named server. Stopping an already stopped server is a
// no-op; an unknown name is an error.
func (m *ServerManager) StopServer(name string) error {
	m.mu.Lock()
	if _, known := m.servers[name]; !known {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	client, ok := m.clients[name]
	if !ok {
		m.states[name] = StateStopped
		m.mu.Unlock()
		return nil
	}
	m.states[name] = StateStopping
	m.mu.Unlock()

	err := client.Stop()

	m.mu.Lock()
	delete(m.clients, name)
	m.states[name] = StateStopped
	m.mu.Unlock()
	return err
}

// RestartServer stops then starts the named server.
func (m *ServerManager) RestartServer(ctx context.Context, name string) error {
	if err := m.StopServer(name); err != nil {
		return err
	}
	return m.StartServer(ctx, name)
}

// StartAutoServers starts every config marked auto-start. One server's
// failure never blocks the others; per-server results are returned.
func (m *ServerManager) StartAutoServers(ctx context.Context) map[string]error {
	m.mu.Lock()
	var names []string
	for name, cfg := range m.servers {
		if cfg.AutoStart {
			names = append(names, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(names)

	results := make(map[string]error, len(names))
	for _, name := range names {
		results[name] = m.StartServer(ctx, name)
	}
	return results
}

// StopAll stops every running server.
func (m *ServerManager) StopAll() map[string]error {
	m.mu.Lock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)

	results := make(map[string]error, len(names))
	for _, name := range names {
		results[name] = m.StopServer(name)
	}
	return results
}

// Client returns the live client for a server, or nil if it is not running.
func (m *ServerManager) Client(name string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[name]
}

// EnsureServer returns a live client for the named server, starting it if
// necessary.
func (m *ServerManager) EnsureServer(ctx context.Context, name string) (ToolClient, error) {
	m.mu.Lock()
	client, ok := m.clients[name]
	m.mu.Unlock()
	if ok && client.IsAlive() {
		return client, nil
	}
	if err := m.StartServer(ctx, name); err != nil {
		return nil, err
	}
	client = m.Client(name)
	if client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	return client, nil
}

// StartAutoAndListRunning starts auto-start servers and returns the names of
// all servers that are currently running, sorted.
func (m *ServerManager) StartAutoAndListRunning(ctx context.Context) []string {
	m.StartAutoServers(ctx)
	return m.RunningServers()
}

// RunningServers returns the sorted names of servers whose process is alive.
func (m *ServerManager) RunningServers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name, client := range m.clients {
		if client.IsAlive() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// State reports the supervisor state of a server. A server whose process died
// externally is detected here, lazily, and reported as Failed.
func (m *ServerManager) State(name string) ServerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(name)
}

func (m *ServerManager) stateLocked(name string) ServerState {
	state, ok := m.states[name]
	if !ok {
		return StateStopped
	}
	if state == StateRunning {
		if client := m.clients[name]; client == nil || !client.IsAlive() {
			state = StateFailed
			m.states[name] = state
			m.logger.Warn("mcp server process died externally", "server", name)
		}
	}
	return state
}

// List snapshots every configured server, sorted by name.
func (m *ServerManager) List() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]ServerStatus, 0, len(names))
	for _, name := range names {
		cfg := m.servers[name]
		status := ServerStatus{
			Name:        name,
			Command:     append([]string(nil), cfg.Command...),
			Description: cfg.Description,
			State:       m.stateLocked(name),
		}
		if client := m.clients[name]; client != nil {
			status.ToolCount = client.ToolCount()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Stats aggregates server and tool counts.
func (m *ServerManager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{TotalServers: len(m.servers)}
	for name := range m.servers {
		if m.stateLocked(name) == StateRunning {
			stats.RunningServers++
		} else {
			stats.StoppedServers++
		}
		if client := m.clients[name]; client != nil {
			stats.TotalTools += client.ToolCount()
		}
	}
	return stats
}

// Configs returns a copy of every registered configuration.
func (m *ServerManager) Configs() []ServerConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := make([]ServerConfig, 0, len(m.servers))
	for _, cfg := range m.servers {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs
}

// Cleanup stops all servers.
func (m *ServerManager) Cleanup() {
	m.StopAll()
}
