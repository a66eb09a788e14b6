// Package mcp bridges remote MCP tool servers into the local tool
// registry, so the agent calls them like any native tool.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/osahq/osa/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the tools.Tool interface.
type BridgeTool struct {
	server    string
	original  string
	name      string
	desc      string
	params    map[string]any
	client    *mcpclient.Client
	timeout   time.Duration
	connected *atomic.Bool
}

func NewBridgeTool(server string, def mcpgo.Tool, client *mcpclient.Client, prefix string, timeout time.Duration, connected *atomic.Bool) *BridgeTool {
	name := def.Name
	if prefix != "" {
		name = prefix + def.Name
	}
	desc := def.Description
	if desc == "" {
		desc = fmt.Sprintf("remote tool %s on MCP server %s", def.Name, server)
	}
	return &BridgeTool{
		server:    server,
		original:  def.Name,
		name:      name,
		desc:      desc,
		params:    schemaToParams(def.InputSchema),
		client:    client,
		timeout:   timeout,
		connected: connected,
	}
}

func (b *BridgeTool) Name() string        { return b.name }
func (b *BridgeTool) Description() string { return b.desc }

// OriginalName returns the remote-side tool name without the prefix.
func (b *BridgeTool) OriginalName() string { return b.original }

func (b *BridgeTool) Parameters() map[string]any { return b.params }

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %s is disconnected", b.server))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original
	req.Params.Arguments = args

	res, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP call %s failed: %v", b.name, err)).WithError(err)
	}

	text := flattenContent(res.Content)
	if res.IsError {
		if text == "" {
			text = fmt.Sprintf("MCP tool %s reported an error", b.name)
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(no output)"
	}
	return tools.NewResult(text)
}

// flattenContent joins the text parts of an MCP result. Non-text parts
// are represented by their type tag.
func flattenContent(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			parts = append(parts, v.Text)
		case *mcpgo.TextContent:
			parts = append(parts, v.Text)
		case mcpgo.ImageContent:
			parts = append(parts, "[image content]")
		default:
			parts = append(parts, fmt.Sprintf("[%T content]", c))
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// schemaToParams converts the MCP input schema into the JSON-Schema map
// the provider layer sends as tool parameters.
func schemaToParams(schema mcpgo.ToolInputSchema) map[string]any {
	params := map[string]any{"type": "object"}
	if schema.Type != "" {
		params["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		params["properties"] = schema.Properties
	} else {
		params["properties"] = map[string]any{}
	}
	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	return params
}
