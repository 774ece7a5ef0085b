// Package client is an HTTP client for the firmcheck REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rsclarke/firmcheck/internal/api"
	"github.com/rsclarke/firmcheck/internal/existence"
)

// DefaultTimeout covers a full existence check on the server.
const DefaultTimeout = 2 * time.Minute

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Check runs an existence check on the server.
func (c *Client) Check(ctx context.Context, req api.CheckRequest) (*existence.Report, error) {
	var report existence.Report
	if err := c.do(ctx, http.MethodPost, "/v1/existence", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ValidateDomains runs the domain validator on the server.
func (c *Client) ValidateDomains(ctx context.Context, domains []string) (*api.ValidateDomainsResponse, error) {
	var resp api.ValidateDomainsResponse
	if err := c.do(ctx, http.MethodPost, "/v1/domains/validate", api.ValidateDomainsRequest{Domains: domains}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCache clears one namespace, or every namespace when namespace is empty.
func (c *Client) ClearCache(ctx context.Context, namespace string) (*api.ClearCacheResponse, error) {
	path := "/v1/cache"
	if namespace != "" {
		path += "/" + url.PathEscape(namespace)
	}
	var resp api.ClearCacheResponse
	if err := c.do(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return fmt.Errorf("%s", errResp.Error)
}
