package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pierre-mcp/pierre/pkg/authz"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
)

// Engine is the MCP Protocol Engine: JSON-RPC message framing plus the
// full method surface, dispatching tools/call through
// pkg/dispatch.Dispatcher, the same path pkg/a2a uses, so a tool
// behaves identically whether invoked by an MCP client or an agent.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	catalog    registry.Catalog
	serverName string
	serverVer  string
}

func New(dispatcher *dispatch.Dispatcher, catalog registry.Catalog, serverName, serverVersion string) *Engine {
	return &Engine{dispatcher: dispatcher, catalog: catalog, serverName: serverName, serverVer: serverVersion}
}

// HandleMessage parses and routes one JSON-RPC frame. It returns nil for
// a notification (no response is ever sent) and a *Response otherwise.
// The caller is responsible for serializing and writing non-nil results
// to the transport; HandleMessage never writes directly so it stays
// transport-agnostic.
func (e *Engine) HandleMessage(ctx context.Context, session *Session, raw []byte) (resp *Response) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, codeParseError, "parse error", nil)
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "invalid request", nil)
	}
	if req.IsNotification() {
		defer func() { resp = nil }()
	}

	switch req.Method {
	case "initialize":
		return e.handleInitialize(session, req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return e.handleToolsList(session, req)
	case "tools/call":
		return e.handleToolsCall(ctx, session, req)
	case "resources/list":
		return resultResponse(req.ID, resourcesListResult{Resources: []resourceDescriptor{}})
	case "resources/read":
		return e.handleResourcesRead(req)
	case "resources/templates/list":
		return resultResponse(req.ID, resourcesTemplatesListResult{ResourceTemplates: []resourceTemplate{}})
	case "completion/complete":
		return resultResponse(req.ID, completeResult{})
	case "logging/setLevel":
		return e.handleSetLevel(session, req)
	case "notifications/cancelled":
		e.handleCancelled(session, req)
		return nil
	default:
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (e *Engine) handleInitialize(session *Session, req Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, codeInvalidParams, "malformed initialize params", nil)
		}
	}
	session.Version = negotiateVersion([]string{params.ProtocolVersion})
	return resultResponse(req.ID, InitializeResult{
		ProtocolVersion: session.Version,
		Capabilities:    serverCapabilities(),
		ServerInfo:      ServerInfo{Name: e.serverName, Version: e.serverVer},
	})
}

func (e *Engine) handleToolsList(session *Session, req Request) *Response {
	entries := e.catalog.List(registry.Filter{Scopes: session.Principal.GetScopes()})
	tools := make([]ToolDescription, 0, len(entries))
	for _, entry := range entries {
		tools = append(tools, ToolDescription{
			Name:        entry.Descriptor.Name,
			Description: entry.Descriptor.Description,
			InputSchema: entry.Descriptor.InputSchema,
		})
	}
	return resultResponse(req.ID, toolsListResult{Tools: tools})
}

func (e *Engine) handleToolsCall(ctx context.Context, session *Session, req Request) *Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "malformed tools/call params", nil)
	}
	if params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "name is required", nil)
	}

	progressFn := func(pct float64, message string) { session.Progress(params.Meta.ProgressToken, pct, message) }
	result, err := e.dispatcher.Invoke(ctx, session.Principal, params.Name, params.Arguments, dispatch.Invocation{
		Cancellation:  session.Cancellation,
		ProgressToken: params.Meta.ProgressToken,
		Progress:      progressFn,
	})
	if err != nil {
		return toolCallError(req.ID, err)
	}
	return resultResponse(req.ID, toolsCallResult{Content: []contentBlock{{Type: "text", Text: string(result)}}})
}

func toolCallError(id json.RawMessage, err error) *Response {
	switch {
	case errors.Is(err, dispatch.ErrToolNotFound):
		return errorResponse(id, codeToolNotFound, err.Error(), nil)
	case errors.Is(err, authz.ErrForbidden):
		return errorResponse(id, codeForbidden, err.Error(), nil)
	case errors.Is(err, dispatch.ErrCancelled):
		return errorResponse(id, codeCancelled, err.Error(), nil)
	}
	var verr *tooling.ValidationError
	if errors.As(err, &verr) {
		return errorResponse(id, codeInvalidParams, verr.Error(), verr.Fields)
	}
	// A handler error is not a protocol failure: the call result still
	// carries isError so the model sees it as tool output, not a broken
	// connection (MCP convention for domain-level tool failures).
	return resultResponse(id, textResult(err.Error(), true))
}

func (e *Engine) handleResourcesRead(req Request) *Response {
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "malformed resources/read params", nil)
	}
	return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("resource %q not found", params.URI), nil)
}

func (e *Engine) handleSetLevel(session *Session, req Request) *Response {
	var params setLevelParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "malformed logging/setLevel params", nil)
	}
	session.LogLevel = params.Level
	return resultResponse(req.ID, map[string]any{})
}

func (e *Engine) handleCancelled(session *Session, req Request) {
	var params cancelledParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return
	}
	// An unknown progress token is a client-side race —
	// Cancel reports it but the caller has nothing useful to do with that.
	session.Cancellation.Cancel(params.ProgressToken)
}
