package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxFetchBytes = 512 * 1024

// FetchTool retrieves the body of an HTTP or HTTPS URL.
type FetchTool struct {
	client *http.Client
}

func NewFetchTool(timeout time.Duration) *FetchTool {
	return &FetchTool{client: &http.Client{Timeout: timeout}}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return "Fetch the content of an http(s) URL. Large responses are truncated."
}

func (t *FetchTool) Permission() Permission { return PermissionRead }

func (t *FetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch, http or https only",
			},
		},
		"required": []string{"url"},
	}
}

func (t *FetchTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Fail("invalid arguments: %v", err), nil
	}
	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Fail("invalid url %q: only http and https are supported", in.URL), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return Fail("cannot build request: %v", err), nil
	}
	req.Header.Set("User-Agent", "sidekick/1.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return Fail("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Fail("fetch failed: %s returned %s", in.URL, resp.Status), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return Fail("read response: %v", err), nil
	}
	truncated := len(body) > maxFetchBytes
	if truncated {
		body = body[:maxFetchBytes]
	}
	out := strings.ToValidUTF8(string(body), "")
	if truncated {
		out += "\n[truncated]"
	}
	return OK(out), nil
}

var _ Tool = (*FetchTool)(nil)
