package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
)

// writeWait bounds how long a single frame write may block before the
// connection is considered dead.
const writeWait = 10 * time.Second

// WebSocketHandler upgrades /mcp/ws connections and runs one MCP
// session for the life of the socket. Unlike the
// HTTP+SSE transport, a WebSocket connection is a single full-duplex
// channel: the engine's replies and the session's own notifications
// share one underlying writer, serialized the same way stdio's does.
type WebSocketHandler struct {
	engine   *mcpserver.Engine
	upgrader websocket.Upgrader
}

// NewWebSocketHandler builds the WebSocket transport over engine.
// allowedOrigins mirrors pkg/auth.CORSMiddleware's allow-list; an empty
// list allows any origin, matching that middleware's development-mode
// default.
func NewWebSocketHandler(engine *mcpserver.Engine, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "no authenticated principal for this session")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeFrame := func(v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, raw)
	}

	session := mcpserver.NewSession(principal, func(n *mcpserver.Notification) error {
		return writeFrame(n)
	})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp := h.engine.HandleMessage(ctx, session, msg)
		if resp == nil {
			continue
		}
		if err := writeFrame(resp); err != nil {
			return
		}
	}
}
