package main

import (
	"context"
	"net/http"
	"os"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
	"github.com/pierre-mcp/pierre/pkg/transport"
)

// newHTTPTransport builds the HTTP+SSE transport over engine, backed by
// its own session store (the HTTP+SSE correlation Store documented in
// pkg/transport; stdio and WebSocket need none).
func newHTTPTransport(engine *mcpserver.Engine) http.Handler {
	return transport.NewHTTPHandler(engine, transport.NewStore())
}

func newWSTransport(engine *mcpserver.Engine, allowedOrigins []string) http.Handler {
	return transport.NewWebSocketHandler(engine, allowedOrigins)
}

// transportServeStdio runs one MCP session over stdin/stdout for the
// life of ctx, for the single principal a stdio invocation always
// authenticates as a process launch argument rather than a bearer header.
func transportServeStdio(ctx context.Context, engine *mcpserver.Engine, principal auth.Principal) error {
	return transport.ServeStdio(ctx, engine, principal, os.Stdin, os.Stdout)
}
