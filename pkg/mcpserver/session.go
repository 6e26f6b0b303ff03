package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
)

// SupportedVersions is every protocol version this engine understands,
// ordered newest-first; the first entry is offered when negotiation
// can't find a match in the client's list.
var SupportedVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

func negotiateVersion(offered []string) string {
	for _, want := range SupportedVersions {
		for _, have := range offered {
			if have == want {
				return want
			}
		}
	}
	return SupportedVersions[0]
}

// Notifier writes a server-initiated message (progress, logging, or a
// sampling request) to the transport's outbound channel. pkg/transport
// supplies the concrete implementation per transport kind; stdio writes
// a line to stdout, HTTP+SSE writes an SSE event, WebSocket writes a
// frame.
type Notifier func(n *Notification) error

// Session is one client connection's state: its negotiated protocol
// version, authenticated principal, in-flight tool cancellation tokens,
// and pending sampling requests. One Session per stdio process, per
// HTTP+SSE session id, or per WebSocket connection.
type Session struct {
	ID           string
	Principal    auth.Principal
	Version      string
	LogLevel     string
	Cancellation *dispatch.CancellationRegistry
	notify       Notifier

	mu      sync.Mutex
	pending map[string]chan samplingResult
}

type samplingResult struct {
	result json.RawMessage
	err    error
}

// NewSession constructs a Session bound to a principal and a transport's
// Notifier. Version starts empty and is set by the first initialize call.
func NewSession(principal auth.Principal, notify Notifier) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Principal:    principal,
		Cancellation: dispatch.NewCancellationRegistry(),
		notify:       notify,
		pending:      make(map[string]chan samplingResult),
	}
}

// ErrSamplingTimeout is returned when a sampling request's peer doesn't
// respond within the timeout.
var ErrSamplingTimeout = errors.New("mcpserver: sampling request timed out")

// Sample issues a server-to-client "please run inference" request and
// blocks until the client's response arrives, the context is cancelled,
// or timeout elapses.
func (s *Session) Sample(ctx context.Context, params any, timeout time.Duration) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan samplingResult, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	envelope := map[string]any{"id": id, "params": params}
	if err := s.notify(newNotification("sampling/createMessage", envelope)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrSamplingTimeout
	}
}

// ResolveSampling completes a pending sampling request with the client's
// response. An unknown id is logged by the caller and dropped here
// — ResolveSampling simply reports whether it found one.
func (s *Session) ResolveSampling(id string, result json.RawMessage, err error) bool {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- samplingResult{result: result, err: err}
	return true
}

// Progress emits a notifications/progress message for an in-flight call.
func (s *Session) Progress(token string, pct float64, message string) {
	if s.notify == nil || token == "" {
		return
	}
	_ = s.notify(newNotification("notifications/progress", map[string]any{
		"progressToken": token,
		"progress":      pct,
		"message":       message,
	}))
}

// logLevels ranks RFC 5424 severities, least to most severe, matching
// the levels logging/setLevel accepts.
var logLevels = map[string]int{
	"debug": 0, "info": 1, "notice": 2, "warning": 3,
	"error": 4, "critical": 5, "alert": 6, "emergency": 7,
}

// LogMessage emits a notifications/message logging notification, unless
// it falls below the minimum level the client set via logging/setLevel.
func (s *Session) LogMessage(level, logger, data string) {
	if s.notify == nil {
		return
	}
	if min, ok := logLevels[s.LogLevel]; ok {
		if have, ok := logLevels[level]; ok && have < min {
			return
		}
	}
	_ = s.notify(newNotification("notifications/message", map[string]any{
		"level":  level,
		"logger": logger,
		"data":   data,
	}))
}
