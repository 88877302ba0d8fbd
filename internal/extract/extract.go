package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Document is the readable text pulled out of a source identifier.
type Document struct {
	Title     string `json:"title"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Extractor defines the interface for content extraction providers.
type Extractor interface {
	// Extract resolves an identifier (typically a URL) to its readable text.
	Extract(ctx context.Context, identifier string) (*Document, error)
}

// Client talks to a readability extraction service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds configuration for the extraction client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new extraction client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

// extractResponse is the service's wire format.
type extractResponse struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Extract fetches the readable content for an identifier.
func (c *Client) Extract(ctx context.Context, identifier string) (*Document, error) {
	if identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}

	reqURL := fmt.Sprintf("%s/extract?url=%s", c.baseURL, url.QueryEscape(identifier))
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extraction service error: %s - %s", resp.Status, string(respBody))
	}

	var er extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	text := strings.TrimSpace(er.Text)
	if text == "" {
		return nil, fmt.Errorf("no readable content at %s", identifier)
	}

	return &Document{
		Title:     strings.TrimSpace(er.Title),
		Text:      text,
		WordCount: len(strings.Fields(text)),
	}, nil
}
