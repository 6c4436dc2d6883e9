package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/2606364644/sandbox-agent/pkg/logging"
)

const defaultStopGrace = 5 * time.Second

// Option configures optional Client behaviour.
type Option func(*clientConfig)

type clientConfig struct {
	logger    *slog.Logger
	info      ClientInfo
	env       []string
	dir       string
	stopGrace time.Duration
}

// WithLogger sets the logger used for lifecycle and stderr output.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClientInfo overrides the client identity sent during the handshake.
func WithClientInfo(info ClientInfo) Option {
	return func(cfg *clientConfig) {
		if info.Name != "" {
			cfg.info.Name = info.Name
		}
		if info.Version != "" {
			cfg.info.Version = info.Version
		}
	}
}

// WithCommandEnv appends environment variables for the server process.
func WithCommandEnv(env ...string) Option {
	return func(cfg *clientConfig) {
		cfg.env = append(cfg.env, env...)
	}
}

// WithCommandDir sets the working directory for the server process.
func WithCommandDir(dir string) Option {
	return func(cfg *clientConfig) {
		cfg.dir = dir
	}
}

// WithStopGrace sets how long Stop waits for graceful exit before killing.
func WithStopGrace(d time.Duration) Option {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.stopGrace = d
		}
	}
}

// Client owns one MCP server subprocess and speaks newline-delimited JSON-RPC
// over its stdin/stdout. At most one request is in flight at a time: the
// exchange mutex fully serializes write-then-read, so there is no pipelining
// and responses are matched to requests by strict ordering plus an id check.
//
// A Client lives for one running period of the process; Stop tears it down
// and a subsequent Start launches a fresh process.
type Client struct {
	name      string
	command   []string
	cfg       clientConfig
	nextID    atomic.Int64
	toolCount atomic.Int64

	// mu serializes request/response exchanges and lifecycle transitions.
	// Stopping a server while a call is blocked reading is a documented
	// hazard, not a supported pattern: the read completes only when the
	// process dies, which surfaces as ErrNoResponse to the in-flight caller.
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	tools  []ToolSchema
	init   *InitializeResult

	// stateMu guards the liveness snapshot so IsAlive never blocks behind an
	// in-flight exchange.
	stateMu sync.RWMutex
	running bool
	dead    bool
	exited  chan struct{}
}

// NewClient builds a client for the given launch command. The process is not
// started until Start is called.
func NewClient(name string, command []string, opts ...Option) *Client {
	cfg := clientConfig{
		info:      ClientInfo{Name: "sandbox-agent", Version: "1.0.0"},
		stopGrace: defaultStopGrace,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("mcp.client")
	}
	if name == "" {
		name = strings.Join(command, " ")
	}
	return &Client{name: name, command: command, cfg: cfg}
}

// Name returns the server name this client was built for.
func (c *Client) Name() string { return c.name }

// Start launches the server process and performs the initialize handshake.
// The handshake must complete before ctx expires; on timeout or handshake
// failure the half-started process is force-killed. Start never retries.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aliveSnapshot() {
		return nil
	}
	if len(c.command) == 0 {
		return fmt.Errorf("mcp: server %s has no launch command", c.name)
	}

	cmd := exec.Command(c.command[0], c.command[1:]...)
	if c.cfg.dir != "" {
		cmd.Dir = c.cfg.dir
	}
	if len(c.cfg.env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.env...)
	}
	cmd.Stderr = logWriter{logger: c.cfg.logger, server: c.name}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("mcp: open stdin for %s: %w", c.name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("mcp: open stdout for %s: %w", c.name, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("mcp: launch %s: %w", c.name, err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReaderSize(stdout, 1<<20)
	c.tools = nil
	c.init = nil
	c.setRunning(exited)

	type handshake struct {
		res *InitializeResult
		err error
	}
	done := make(chan handshake, 1)
	go func(w io.Writer, r *bufio.Reader) {
		raw, err := c.exchange(w, r, "initialize", map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"clientInfo":      c.cfg.info,
		})
		if err != nil {
			done <- handshake{err: err}
			return
		}
		var res InitializeResult
		if err := json.Unmarshal(raw, &res); err != nil {
			done <- handshake{err: fmt.Errorf("%w: initialize result: %v", ErrMalformedResponse, err)}
			return
		}
		done <- handshake{res: &res}
	}(c.stdin, c.stdout)

	select {
	case h := <-done:
		if h.err != nil {
			c.teardownLocked(true)
			return fmt.Errorf("mcp: initialize %s: %w", c.name, h.err)
		}
		c.init = h.res
		c.cfg.logger.Info("mcp server started",
			"server", c.name,
			"protocol_version", h.res.ProtocolVersion,
			"server_name", h.res.ServerInfo.Name)
		return nil
	case <-ctx.Done():
		c.teardownLocked(true)
		return fmt.Errorf("%w: server %s", ErrHandshakeTimeout, c.name)
	}
}

// Stop terminates the server process: it closes stdin, sends SIGTERM, waits a
// bounded grace period and kills if still alive. Calling Stop on a stopped
// client is a no-op.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teardownLocked(false)
}

func (c *Client) teardownLocked(force bool) error {
	if c.cmd == nil {
		return nil
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	exited := c.exitedChannel()
	if force {
		_ = c.cmd.Process.Kill()
		<-exited
	} else {
		_ = c.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-exited:
		case <-time.After(c.cfg.stopGrace):
			c.cfg.logger.Warn("mcp server did not exit in time, killing", "server", c.name)
			_ = c.cmd.Process.Kill()
			<-exited
		}
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.tools = nil
	c.toolCount.Store(0)
	c.init = nil
	c.setStopped()
	c.cfg.logger.Info("mcp server stopped", "server", c.name)
	return nil
}

// ListTools fetches the server's tool declarations, caching them after the
// first success. InvalidateTools forces the next call to refetch.
func (c *Client) ListTools(ctx context.Context) ([]ToolSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tools != nil {
		return append([]ToolSchema(nil), c.tools...), nil
	}
	if !c.aliveSnapshot() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, c.name)
	}
	raw, err := c.exchange(c.stdin, c.stdout, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools on %s: %w", c.name, err)
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: tools/list result: %v", ErrMalformedResponse, err)
	}
	c.tools = result.Tools
	c.toolCount.Store(int64(len(c.tools)))
	return append([]ToolSchema(nil), c.tools...), nil
}

// InvalidateTools drops the cached tool list.
func (c *Client) InvalidateTools() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
	c.toolCount.Store(0)
}

// ToolCount reports the number of cached tool declarations without blocking
// behind an in-flight exchange.
func (c *Client) ToolCount() int {
	return int(c.toolCount.Load())
}

// CallTool invokes a tool and blocks until the single response line arrives.
// There is no independent timeout here; callers needing a hard bound must
// wrap the invocation externally. Failures are never retried at this layer.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.aliveSnapshot() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, c.name)
	}
	raw, err := c.exchange(c.stdin, c.stdout, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}
	return normalizeToolResult(raw)
}

// GetResource reads a resource by URI with the same request/response
// discipline as CallTool.
func (c *Client) GetResource(ctx context.Context, uri string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.aliveSnapshot() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, c.name)
	}
	return c.exchange(c.stdin, c.stdout, "resources/read", map[string]any{"uri": uri})
}

// IsAlive is a non-blocking probe of the process handle. It returns false
// once the process has exited or the transport was marked dead by a failed
// read, even if another operation currently holds the exchange lock.
func (c *Client) IsAlive() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if !c.running || c.dead {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Handshake returns the initialize result from the current running period, or
// nil if the client is not started.
func (c *Client) Handshake() *InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init
}

// exchange writes one request line and reads exactly one response line.
// Callers must hold mu or otherwise guarantee exclusive use of the pipes.
func (c *Client) exchange(w io.Writer, r *bufio.Reader, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	req := request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: encode %s request: %w", method, err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		c.markDead()
		return nil, fmt.Errorf("%w: write failed: %v", ErrNoResponse, err)
	}

	respLine, err := r.ReadBytes('\n')
	respLine = bytes.TrimSpace(respLine)
	if err != nil && len(respLine) == 0 {
		c.markDead()
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, method)
	}

	var resp response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("%w: response id %d does not match request id %d", ErrMalformedResponse, resp.ID, id)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("%w: response carries neither result nor error", ErrMalformedResponse)
	}
	return resp.Result, nil
}

func (c *Client) setRunning(exited chan struct{}) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.running = true
	c.dead = false
	c.exited = exited
}

func (c *Client) setStopped() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.running = false
	c.dead = false
}

func (c *Client) markDead() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.dead = true
}

func (c *Client) exitedChannel() chan struct{} {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.exited
}

func (c *Client) aliveSnapshot() bool {
	return c.IsAlive()
}

type logWriter struct {
	logger *slog.Logger
	server string
}

func (w logWriter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		w.logger.Debug("mcp server stderr", "server", w.server, "output", msg)
	}
	return len(p), nil
}
