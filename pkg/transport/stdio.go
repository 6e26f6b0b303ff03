package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
)

// ServeStdio runs one MCP session over stdin/stdout: newline-delimited
// JSON-RPC frames in, Response/Notification frames out, until stdin
// closes. ctx is passed to each HandleMessage call; cancelling it does
// not stop the read loop. A
// stdio process is inherently single-tenant — there is no per-request
// Authorization header to resolve — so the caller supplies the already
// authenticated principal once, up front (e.g. resolved from a
// long-lived service-account token at process start).
func ServeStdio(ctx context.Context, engine *mcpserver.Engine, principal auth.Principal, stdin io.Reader, stdout io.Writer) error {
	out := &newLineWriter{out: stdout}
	session := mcpserver.NewSession(principal, func(n *mcpserver.Notification) error {
		return out.writeJSON(n)
	})

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)

		resp := engine.HandleMessage(ctx, session, frame)
		if resp == nil {
			continue
		}
		if err := out.writeJSON(resp); err != nil {
			return fmt.Errorf("transport: write stdio response: %w", err)
		}
	}
	return scanner.Err()
}
