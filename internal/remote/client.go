package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dropwatch/internal/domain"
)

// TokenSource resolves the session token of an identity.
type TokenSource interface {
	Token(id domain.Identity) (string, error)
}

// StatusError is a non-2xx answer from the remote API. Message carries the
// remote error code, which is what terminal-marker classification matches on.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote status %d", e.Status)
	}
	return fmt.Sprintf("remote status %d: %s", e.Status, e.Message)
}

// Client speaks a generic JSON API:
//
//	GET  {base}/catalog  -> {"items": [...]}
//	POST {base}/acquire  <- {"item_id", "destination", "anonymous", "request_id"}
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) FetchCatalog(ctx context.Context, reader domain.Identity) ([]domain.Item, error) {
	var body struct {
		Items []domain.Item `json:"items"`
	}
	if err := c.do(ctx, reader, http.MethodGet, "/catalog", nil, &body); err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	return body.Items, nil
}

func (c *Client) AcquireUnit(ctx context.Context, id domain.Identity, item domain.Item, req AcquireRequest) error {
	payload := struct {
		ItemID domain.ItemID `json:"item_id"`
		AcquireRequest
	}{ItemID: item.ID, AcquireRequest: req}
	return c.do(ctx, id, http.MethodPost, "/acquire", payload, nil)
}

func (c *Client) do(ctx context.Context, id domain.Identity, method, path string, in, out interface{}) error {
	token, err := c.tokens.Token(id)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
