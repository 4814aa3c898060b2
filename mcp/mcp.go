// Package mcp bridges MCP (Model Context Protocol) servers into the tool
// registry. Connections live in a per-run pool keyed by transport descriptor
// and are closed when the run exits, so graphs can call Tools repeatedly
// without re-handshaking.
//
// Only the stdio transport is wired here; it covers local tool servers, the
// common case for agent graphs running next to their tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/strandlabs/strand/runtime"
	"github.com/strandlabs/strand/tools"
)

const poolKey = "mcp.pool"

type (
	// ServerConfig describes a stdio MCP server.
	ServerConfig struct {
		// Command is the executable to spawn.
		Command string

		// Args are passed to the command.
		Args []string

		// Env is extra environment for the subprocess, KEY=VALUE form.
		Env []string
	}

	pool struct {
		mu    sync.Mutex
		conns map[string]*client.Client
	}
)

func (c ServerConfig) descriptor() string {
	return strings.Join(append([]string{c.Command}, c.Args...), " ")
}

// Tools connects to the server (reusing the run's pooled connection when one
// exists), lists its tools, and registers a dispatching wrapper for each in
// the global registry. The returned tools are ready to pass to a model
// request via their definitions.
func Tools(ctx context.Context, cfg ServerConfig) ([]*tools.Tool, error) {
	rt := runtime.FromContext(ctx)
	if rt == nil {
		return nil, runtime.ErrNoRuntime
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp: command is required")
	}

	conn, err := connect(ctx, rt, cfg)
	if err != nil {
		return nil, err
	}

	listed, err := conn.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tools: %w", err)
	}

	wrapped := make([]*tools.Tool, 0, len(listed.Tools))
	for _, mt := range listed.Tools {
		schema, err := json.Marshal(mt.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp: tool %q schema: %w", mt.Name, err)
		}
		name := mt.Name
		t, err := tools.NewRaw(tools.Schema{
			Name:        name,
			Description: mt.Description,
			ParamSchema: schema,
		}, func(ctx context.Context, args json.RawMessage) (any, error) {
			return call(ctx, conn, name, args)
		})
		if err != nil {
			return nil, err
		}
		wrapped = append(wrapped, t)
	}
	return wrapped, nil
}

func connect(ctx context.Context, rt *runtime.Runtime, cfg ServerConfig) (*client.Client, error) {
	p := runPool(rt)
	key := cfg.descriptor()

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[key]; ok {
		return conn, nil
	}

	conn, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcp: spawn %q: %w", cfg.Command, err)
	}
	if err := conn.Start(ctx); err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("mcp: start %q: %w", cfg.Command, err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "strand", Version: "0.1.0"}
	if _, err := conn.Initialize(ctx, initReq); err != nil {
		conn.Close() //nolint:errcheck
		return nil, fmt.Errorf("mcp: initialize %q: %w", cfg.Command, err)
	}

	p.conns[key] = conn
	return conn, nil
}

// runPool returns the run's connection pool, creating it (and registering its
// closer) on first use.
func runPool(rt *runtime.Runtime) *pool {
	if v, ok := rt.Resource(poolKey); ok {
		return v.(*pool)
	}
	p := &pool{conns: make(map[string]*client.Client)}
	rt.SetResource(poolKey, p, func(context.Context) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		var firstErr error
		for key, conn := range p.conns {
			if err := conn.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("mcp: close %q: %w", key, err)
			}
			delete(p.conns, key)
		}
		return firstErr
	})
	return p
}

func call(ctx context.Context, conn *client.Client, name string, args json.RawMessage) (any, error) {
	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return nil, fmt.Errorf("mcp: decode arguments: %w", err)
		}
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	resp, err := conn.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp: call %q: %w", name, err)
	}
	return parseResult(name, resp)
}

// parseResult flattens the MCP content list to a string (single text
// content) or a string slice. Server-reported errors become Go errors so the
// runtime captures them on the tool part.
func parseResult(name string, resp *mcp.CallToolResult) (any, error) {
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if resp.IsError {
		msg := "unknown error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return nil, fmt.Errorf("mcp: %s: %s", name, msg)
	}
	switch len(texts) {
	case 0:
		return nil, nil
	case 1:
		return texts[0], nil
	default:
		return texts, nil
	}
}
