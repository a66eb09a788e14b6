package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	webFetchLimit   = 512 * 1024
	webFetchTimeout = 30 * time.Second
)

var tagStripper = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]*>`)

// WebFetchTool retrieves a URL and returns readable text.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		client: &http.Client{Timeout: webFetchTimeout},
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its text content" }

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The http or https URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	url, _ := args["url"].(string)
	if url == "" {
		return ErrorResult("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ErrorResult("only http and https URLs are supported")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid url: %v", err)).WithError(err)
	}
	req.Header.Set("User-Agent", "osa/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("fetch failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("fetch failed: %s returned %d", url, resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webFetchLimit))
	if err != nil {
		return ErrorResult(fmt.Sprintf("reading response: %v", err)).WithError(err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = htmlToText(text)
	}
	if strings.TrimSpace(text) == "" {
		return NewResult("(empty response)")
	}
	return NewResult(text)
}

// htmlToText is a crude readability pass: drop scripts, styles, and tags,
// then collapse whitespace.
func htmlToText(html string) string {
	text := tagStripper.ReplaceAllString(html, " ")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)

	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
