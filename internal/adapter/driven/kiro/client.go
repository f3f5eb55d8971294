// Package kiro implements the KiroClient port against the remote admin API.
package kiro

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

	"github.com/gregjones/httpcache"

	"github.com/z871327332/kiropanel/internal/domain/model"
	"github.com/z871327332/kiropanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.KiroClient = (*Client)(nil)

const requestTimeout = 30 * time.Second

// Client implements the driven.KiroClient port over the admin REST API of the
// upstream proxy. All requests carry the admin token in the X-Admin-Token
// header; GET responses are cached by ETag via httpcache.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
}

// NewClient creates a client for the admin API at baseURL. The transport
// stack is httpcache's in-memory ETag cache over the default transport.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", baseURL)
	}

	return &Client{
		baseURL: u,
		http: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   requestTimeout,
		},
		token: token,
	}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing upstream URL: %w", err)
	}

	return &Client{
		baseURL: u,
		http:    httpClient,
		token:   token,
	}, nil
}

// ListCredentials retrieves the full credential pool from upstream and maps
// wire records to domain model types.
func (c *Client) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	var resp credentialListJSON
	if err := c.do(ctx, http.MethodGet, "/admin/credentials", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}

	creds := make([]model.Credential, 0, len(resp.Credentials))
	for _, wc := range resp.Credentials {
		creds = append(creds, mapCredential(wc))
	}

	return creds, nil
}

// AddCredential creates a credential from raw token material and returns the
// record the upstream created for it.
func (c *Client) AddCredential(ctx context.Context, nc model.NewCredential) (*model.Credential, error) {
	req := addCredentialJSON{
		RefreshToken: nc.Token,
		Email:        nc.Email,
		Region:       nc.Region,
	}

	var resp credentialJSON
	if err := c.do(ctx, http.MethodPost, "/admin/credentials", req, &resp); err != nil {
		return nil, fmt.Errorf("adding credential: %w", err)
	}

	cred := mapCredential(resp)
	return &cred, nil
}

// DeleteCredential removes a credential by ID.
func (c *Client) DeleteCredential(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/admin/credentials/%d", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("deleting credential %d: %w", id, err)
	}
	return nil
}

// SetDisabled sets or clears the disabled flag on a credential.
func (c *Client) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	path := fmt.Sprintf("/admin/credentials/%d/disabled", id)
	if err := c.do(ctx, http.MethodPut, path, setDisabledJSON{Disabled: disabled}, nil); err != nil {
		return fmt.Errorf("setting disabled=%t on credential %d: %w", disabled, id, err)
	}
	return nil
}

// FetchBalance returns the current usage/limit pair for a credential.
func (c *Client) FetchBalance(ctx context.Context, id int64) (*model.Balance, error) {
	path := fmt.Sprintf("/admin/credentials/%d/balance", id)

	var resp balanceJSON
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching balance for credential %d: %w", id, err)
	}

	return &model.Balance{Usage: resp.Usage, Limit: resp.Limit}, nil
}

// LoadBalancingMode returns the pool's current balancing mode.
func (c *Client) LoadBalancingMode(ctx context.Context) (model.LoadBalancingMode, error) {
	var resp loadBalancingJSON
	if err := c.do(ctx, http.MethodGet, "/admin/load-balancing", nil, &resp); err != nil {
		return "", fmt.Errorf("fetching load-balancing mode: %w", err)
	}

	mode := model.LoadBalancingMode(resp.Mode)
	if !mode.Valid() {
		return "", fmt.Errorf("upstream reported unknown load-balancing mode %q", resp.Mode)
	}

	return mode, nil
}

// SetLoadBalancingMode switches the pool's balancing mode.
func (c *Client) SetLoadBalancingMode(ctx context.Context, mode model.LoadBalancingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid load-balancing mode %q", mode)
	}
	if err := c.do(ctx, http.MethodPut, "/admin/load-balancing", loadBalancingJSON{Mode: string(mode)}, nil); err != nil {
		return fmt.Errorf("setting load-balancing mode %q: %w", mode, err)
	}
	return nil
}

// do executes one admin API request. body is JSON-encoded when non-nil; the
// response body is decoded into out when out is non-nil and the status is 2xx.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Admin-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		// Drain so the transport can reuse the connection.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// statusError maps non-2xx responses to port sentinel errors where a sentinel
// applies, otherwise to a generic error carrying the upstream message.
func statusError(resp *http.Response) error {
	msg := readErrorMessage(resp.Body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", driven.ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return driven.ErrCredentialNotFound
	case http.StatusConflict:
		return driven.ErrDuplicateCredential
	}

	if msg != "" {
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("upstream returned status %d", resp.StatusCode)
}

// readErrorMessage extracts the "error" field from an upstream error body.
// Bodies are capped at 4KB; malformed bodies yield an empty message.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}

	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return ""
	}

	return e.Error
}
