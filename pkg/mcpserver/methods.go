package mcpserver

import "encoding/json"

// InitializeParams is the client's handshake payload.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's handshake response, advertising the
// negotiated version and the method surface this engine implements.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func serverCapabilities() map[string]any {
	return map[string]any{
		"tools":      map[string]any{"listChanged": false},
		"resources":  map[string]any{"listChanged": false, "subscribe": false},
		"completion": map[string]any{},
		"logging":    map[string]any{},
	}
}

// ToolDescription is the wire shape of one registry entry in a
// tools/list response.
type ToolDescription struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []ToolDescription `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Meta      struct {
		ProgressToken string `json:"progressToken"`
	} `json:"_meta"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string, isError bool) toolsCallResult {
	return toolsCallResult{Content: []contentBlock{{Type: "text", Text: text}}, IsError: isError}
}

type cancelledParams struct {
	ProgressToken string `json:"progressToken"`
	Reason        string `json:"reason"`
}

type setLevelParams struct {
	Level string `json:"level"`
}

type resourcesListResult struct {
	Resources []resourceDescriptor `json:"resources"`
}

type resourceDescriptor struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesTemplatesListResult struct {
	ResourceTemplates []resourceTemplate `json:"resourceTemplates"`
}

type resourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
}

type completeParams struct {
	Ref      map[string]any `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
}

type completeResult struct {
	Completion struct {
		Values  []string `json:"values"`
		Total   int      `json:"total"`
		HasMore bool     `json:"hasMore"`
	} `json:"completion"`
}
