package mcp

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBridgeToolNaming(t *testing.T) {
	def := mcpgo.Tool{Name: "search", Description: "Search the index"}

	plain := NewBridgeTool("kb", def, nil, "", time.Minute, nil)
	assert.Equal(t, "search", plain.Name())
	assert.Equal(t, "search", plain.OriginalName())
	assert.Equal(t, "Search the index", plain.Description())

	prefixed := NewBridgeTool("kb", def, nil, "kb_", time.Minute, nil)
	assert.Equal(t, "kb_search", prefixed.Name())
	assert.Equal(t, "search", prefixed.OriginalName())
}

func TestNewBridgeToolDefaultDescription(t *testing.T) {
	def := mcpgo.Tool{Name: "ping"}
	b := NewBridgeTool("infra", def, nil, "", time.Minute, nil)
	assert.Contains(t, b.Description(), "ping")
	assert.Contains(t, b.Description(), "infra")
}

func TestExecuteDisconnected(t *testing.T) {
	var connected atomic.Bool
	b := NewBridgeTool("kb", mcpgo.Tool{Name: "search"}, nil, "", time.Minute, &connected)

	res := b.Execute(context.Background(), map[string]any{"q": "x"})
	require.NotNil(t, res)
	assert.True(t, res.IsError)
	assert.Contains(t, res.ForLLM, "disconnected")
}

func TestFlattenContent(t *testing.T) {
	tests := []struct {
		name    string
		content []mcpgo.Content
		want    string
	}{
		{"empty", nil, ""},
		{
			"single text",
			[]mcpgo.Content{mcpgo.TextContent{Type: "text", Text: "hello"}},
			"hello",
		},
		{
			"multiple parts joined",
			[]mcpgo.Content{
				mcpgo.TextContent{Type: "text", Text: "one"},
				mcpgo.TextContent{Type: "text", Text: "two"},
			},
			"one\ntwo",
		},
		{
			"image placeholder",
			[]mcpgo.Content{mcpgo.ImageContent{Type: "image"}},
			"[image content]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, flattenContent(tt.content))
		})
	}
}

func TestSchemaToParams(t *testing.T) {
	params := schemaToParams(mcpgo.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"query": map[string]any{"type": "string"},
		},
		Required: []string{"query"},
	})
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"query"}, params["required"])
	props, ok := params["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
}

func TestSchemaToParamsEmpty(t *testing.T) {
	params := schemaToParams(mcpgo.ToolInputSchema{})
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, map[string]any{}, params["properties"])
	_, hasRequired := params["required"]
	assert.False(t, hasRequired)
}
