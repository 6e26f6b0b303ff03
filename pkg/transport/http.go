package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/pierre-mcp/pierre/pkg/api"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/mcpserver"
)

var errNoFlush = errors.New("transport: response writer does not support flushing")

// channelRegistry maps a session id to the channel its notifications
// are queued on for the SSE handler to drain. Split out from Store
// (which callers outside this package also read) since nothing but the
// SSE loop itself needs to see these channels.
type channelRegistry struct {
	mu       sync.RWMutex
	channels map[string]chan *mcpserver.Notification
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string]chan *mcpserver.Notification)}
}

func (c *channelRegistry) put(id string, ch chan *mcpserver.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[id] = ch
}

func (c *channelRegistry) get(id string) (chan *mcpserver.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch, ok
}

func (c *channelRegistry) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, id)
}

// SessionIDHeader correlates a POST /mcp request with the SSE stream
// opened on GET /mcp that carries its session's server-initiated
// notifications. pkg/auth.CORSMiddleware already allow-lists it.
const SessionIDHeader = "Mcp-Session-Id"

// notifyBufferSize bounds how many notifications can queue for an SSE
// client that's momentarily not reading; past this, Notify drops the
// oldest rather than blocking the tool call that's producing them.
const notifyBufferSize = 64

// HTTPHandler implements the HTTP+SSE transport: POST /mcp carries one
// JSON-RPC request/notification per call and returns its Response (or
// 202 for a notification) directly; GET /mcp opens a Server-Sent Events
// stream that the same session's progress, logging, and sampling
// notifications are pushed onto. The caller's Principal
// must already be in the request context — pkg/auth.NewMiddleware runs
// ahead of this handler in the route chain.
type HTTPHandler struct {
	engine      *mcpserver.Engine
	store       *Store
	sseChannels *channelRegistry
}

// NewHTTPHandler builds the HTTP+SSE transport over engine, tracking
// live sessions in store.
func NewHTTPHandler(engine *mcpserver.Engine, store *Store) *HTTPHandler {
	return &HTTPHandler{engine: engine, store: store, sseChannels: newChannelRegistry()}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleSSE(w, r)
	default:
		api.WriteMethodNotAllowed(w)
	}
}

func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request) {
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "no authenticated principal for this session")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8*1024*1024))
	if err != nil {
		api.WriteBadRequest(w, "failed to read request body")
		return
	}

	session, sessionID := h.sessionFor(r, principal)

	resp := h.engine.HandleMessage(r.Context(), session, body)
	w.Header().Set(SessionIDHeader, sessionID)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// sessionFor resolves the session named by the request's Mcp-Session-Id
// header, or mints a new one (and stores it under its own ID) when the
// header is absent — the client's first request, typically initialize,
// arrives with no session id yet.
func (h *HTTPHandler) sessionFor(r *http.Request, principal auth.Principal) (*mcpserver.Session, string) {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		if session, ok := h.store.Get(id); ok {
			return session, id
		}
	}

	notifyCh := make(chan *mcpserver.Notification, notifyBufferSize)
	session := mcpserver.NewSession(principal, func(n *mcpserver.Notification) error {
		select {
		case notifyCh <- n:
		default:
			<-notifyCh
			notifyCh <- n
		}
		return nil
	})
	h.sseChannels.put(session.ID, notifyCh)
	h.store.Put(session)
	return session, session.ID
}

func (h *HTTPHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		api.WriteBadRequest(w, "Mcp-Session-Id header is required to open a notification stream")
		return
	}
	if _, ok := h.store.Get(id); !ok {
		api.WriteNotFound(w, "unknown session")
		return
	}
	notifyCh, ok := h.sseChannels.get(id)
	if !ok {
		api.WriteNotFound(w, "unknown session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.WriteInternal(w, errNoFlush)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	defer func() {
		h.sseChannels.delete(id)
		h.store.Delete(id)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case note := <-notifyCh:
			raw, err := json.Marshal(note)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(raw); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
