// Package transport is the Transport Manager: it feeds
// raw frames from stdio, HTTP+SSE, or WebSocket into a
// pkg/mcpserver.Engine and writes back whatever the engine returns or
// emits. Every transport shares the same Session/Engine abstraction, so
// a tool behaves identically regardless of which one carried the call.
package transport

import (
	"encoding/json"
	"sync"

	"github.com/pierre-mcp/pierre/pkg/mcpserver"
)

// Store tracks live sessions by id so the HTTP+SSE transport can
// correlate a POSTed JSON-RPC message with the SSE stream that carries
// its session's server-initiated notifications. stdio and WebSocket
// each own exactly one session for the life of the connection and have
// no need of a shared store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*mcpserver.Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*mcpserver.Session)}
}

// Put registers session under its own ID.
func (s *Store) Put(session *mcpserver.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

// Get looks up a session by id.
func (s *Store) Get(id string) (*mcpserver.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Delete removes a session, called when its SSE stream or WebSocket
// connection closes.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// newLineWriter serializes writes of newline-delimited JSON to w, used
// by the stdio transport to keep a Response and any interleaved
// Notifications from corrupting each other's frame on the wire.
type newLineWriter struct {
	mu  sync.Mutex
	out writer
}

type writer interface {
	Write(p []byte) (int, error)
}

func (w *newLineWriter) writeJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(raw); err != nil {
		return err
	}
	_, err = w.out.Write([]byte("\n"))
	return err
}
