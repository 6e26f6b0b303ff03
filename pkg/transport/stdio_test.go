package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pierre-mcp/pierre/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStdio_RespondsToEachRequestOnItsOwnLine(t *testing.T) {
	engine := testEngine(t)
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"tools/list"}` + "\n",
	)
	var out bytes.Buffer

	err := transport.ServeStdio(context.Background(), engine, testPrincipal(), in, &out)
	require.NoError(t, err)

	lines := splitNonEmptyLines(out.String())
	require.Len(t, lines, 2)

	var first, second struct {
		ID json.RawMessage `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.JSONEq(t, `1`, string(first.ID))
	assert.JSONEq(t, `2`, string(second.ID))
}

func TestServeStdio_NotificationProducesNoOutputLine(t *testing.T) {
	engine := testEngine(t)
	in := strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"progressToken":"x"}}` + "\n")
	var out bytes.Buffer

	err := transport.ServeStdio(context.Background(), engine, testPrincipal(), in, &out)
	require.NoError(t, err)
	assert.Empty(t, splitNonEmptyLines(out.String()))
}

func TestServeStdio_BlankLinesAreSkipped(t *testing.T) {
	engine := testEngine(t)
	in := strings.NewReader("\n\n" + `{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n\n")
	var out bytes.Buffer

	err := transport.ServeStdio(context.Background(), engine, testPrincipal(), in, &out)
	require.NoError(t, err)
	assert.Len(t, splitNonEmptyLines(out.String()), 1)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}
