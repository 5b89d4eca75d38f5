package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	httpClient *http.Client
}

type Response struct {
	StatusCode int
	Body       string
}

// StatusError is returned alongside the response for non-2xx statuses so
// callers can classify the failure by status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get performs a GET with the given headers.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "", headers)
}

// PostJSON posts a JSON body.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload []byte, headers map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, bytes.NewReader(payload), "application/json", headers)
}

// PostForm posts url-encoded form values (OAuth password grants).
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values, headers map[string]string) (*Response, error) {
	body := strings.NewReader(values.Encode())
	return c.do(ctx, http.MethodPost, rawURL, body, "application/x-www-form-urlencoded", headers)
}

// Put performs a PUT, optionally with a JSON body.
func (c *Client) Put(ctx context.Context, rawURL string, payload []byte, headers map[string]string) (*Response, error) {
	var body io.Reader
	contentType := ""
	if payload != nil {
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}
	return c.do(ctx, http.MethodPut, rawURL, body, contentType, headers)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, &StatusError{StatusCode: resp.StatusCode, Body: out.Body}
	}

	return out, nil
}
