package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2606364644/sandbox-agent/pkg/logging"
)

// ToolClient is the slice of Client the adapter layer depends on. It exists
// so collections and registries can be exercised against stub transports.
type ToolClient interface {
	Name() string
	IsAlive() bool
	ListTools(ctx context.Context) ([]ToolSchema, error)
	InvalidateTools()
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
}

var _ ToolClient = (*Client)(nil)

// ToolAdapter binds one discovered tool schema to the client that owns it and
// exposes a uniform invoke contract. The adapter holds a non-owning reference
// to the client and re-checks its liveness on every invoke.
type ToolAdapter struct {
	name     string // registry name, possibly renamed on collision
	server   string
	schema   ToolSchema
	compiled *CompiledSchema
	client   ToolClient
}

// NewToolAdapter compiles the schema and binds it to the client.
func NewToolAdapter(server string, schema ToolSchema, client ToolClient) (*ToolAdapter, error) {
	compiled, err := CompileSchema(schema.Name, schema.InputSchema)
	if err != nil {
		return nil, err
	}
	return &ToolAdapter{
		name:     schema.Name,
		server:   server,
		schema:   schema,
		compiled: compiled,
		client:   client,
	}, nil
}

// Name is the name the adapter is registered under; it differs from the
// remote tool name after a collision rename.
func (a *ToolAdapter) Name() string { return a.name }

// Description returns the provider-declared description.
func (a *ToolAdapter) Description() string { return a.schema.Description }

// Server returns the owning server's name.
func (a *ToolAdapter) Server() string { return a.server }

// Schema returns the raw declaration this adapter was built from.
func (a *ToolAdapter) Schema() ToolSchema { return a.schema }

// Available reports whether the owning client is currently alive.
func (a *ToolAdapter) Available() bool { return a.client.IsAlive() }

// rename is applied by the registry's collision rule before insertion.
func (a *ToolAdapter) rename(name string) { a.name = name }

// Invoke validates the arguments, calls the tool under its remote name and
// returns the normalized text result. Validation failures and dead clients
// are reported before any wire interaction; transport failures surface as
// typed errors and are never retried here.
func (a *ToolAdapter) Invoke(ctx context.Context, args map[string]any) (string, error) {
	ctx, span := otel.Tracer("mcp").Start(ctx, "tool.invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", a.name),
		attribute.String("tool.server", a.server),
	)

	validated, err := a.compiled.Validate(args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if !a.client.IsAlive() {
		err := fmt.Errorf("%w: tool %s on server %s", ErrNotRunning, a.name, a.server)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	result, err := a.client.CallTool(ctx, a.schema.Name, validated)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("mcp: tool %s failed: %w", a.name, err)
	}
	return result.Text(), nil
}

// ToolCollection is the per-server lazy cache of adapters: loaded once on
// first use and refetched only through Reload.
type ToolCollection struct {
	server string
	client ToolClient
	logger *slog.Logger

	mu       sync.Mutex
	adapters []*ToolAdapter
	loaded   bool
}

// NewToolCollection builds an empty collection for one server.
func NewToolCollection(server string, client ToolClient) *ToolCollection {
	return &ToolCollection{
		server: server,
		client: client,
		logger: logging.WithComponent("mcp.collection"),
	}
}

// Server returns the owning server's name.
func (c *ToolCollection) Server() string { return c.server }

// Load fetches the schema list on first call and wraps each schema into an
// adapter; repeated calls return the cached set.
func (c *ToolCollection) Load(ctx context.Context) ([]*ToolAdapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return append([]*ToolAdapter(nil), c.adapters...), nil
	}

	schemas, err := c.client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: load tools from %s: %w", c.server, err)
	}

	adapters := make([]*ToolAdapter, 0, len(schemas))
	for _, schema := range schemas {
		adapter, err := NewToolAdapter(c.server, schema, c.client)
		if err != nil {
			c.logger.Error("skipping tool with invalid schema",
				"server", c.server, "tool", schema.Name, "error", err)
			continue
		}
		adapters = append(adapters, adapter)
	}

	c.adapters = adapters
	c.loaded = true
	c.logger.Info("tools loaded", "server", c.server, "count", len(adapters))
	return append([]*ToolAdapter(nil), adapters...), nil
}

// Reload drops both the collection cache and the client's schema cache, then
// fetches fresh declarations.
func (c *ToolCollection) Reload(ctx context.Context) ([]*ToolAdapter, error) {
	c.mu.Lock()
	c.adapters = nil
	c.loaded = false
	c.mu.Unlock()

	c.client.InvalidateTools()
	return c.Load(ctx)
}

// Tools returns the cached adapters without loading.
func (c *ToolCollection) Tools() []*ToolAdapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ToolAdapter(nil), c.adapters...)
}
