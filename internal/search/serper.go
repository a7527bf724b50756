package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinels returned in place of results so the agent always has something
// speakable to fold into its reply.
const (
	NotConfigured = "Web search is not configured."
	NoResults     = "No search results found."
)

// Client queries the Serper Google-search API and summarizes the top organic
// hits into a short text block.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

func NewClient(apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		APIKey:     apiKey,
		BaseURL:    "https://google.serper.dev",
	}
}

type serperResult struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search returns up to three "title: snippet" lines for the query, or a
// sentinel string when search is unavailable or empty.
func (c *Client) Search(ctx context.Context, query string) string {
	if c.APIKey == "" {
		return NotConfigured
	}
	reqBody, _ := json.Marshal(map[string]string{"q": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/search", bytes.NewReader(reqBody))
	if err != nil {
		return NoResults
	}
	req.Header.Set("X-API-KEY", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NoResults
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return NoResults
	}
	var sr serperResult
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return NoResults
	}
	if len(sr.Organic) == 0 {
		return NoResults
	}

	var lines []string
	for i, hit := range sr.Organic {
		if i >= 3 {
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s", hit.Title, hit.Snippet))
	}
	return strings.Join(lines, "\n")
}
