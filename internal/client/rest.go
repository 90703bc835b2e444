// Package client talks to the generation service's REST endpoints.
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

	"github.com/pkg/errors"

	"github.com/synthea-ws/genclient/internal/protocol"
)

var (
	// ErrNotFound is returned for an unknown or terminated request.
	ErrNotFound = errors.New("request not found")
	// ErrPending is returned by Zip while the request is still generating.
	ErrPending = errors.New("request still generating")
)

// HTTPClient makes REST calls to the generation service.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client targeting the given base URL (e.g. "http://127.0.0.1:8080").
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate sends POST /generate and returns the new request's identifier.
// The service answers with either the bare identifier or {"uuid": ...}.
func (c *HTTPClient) Generate(ctx context.Context, cfg protocol.Configuration) (string, error) {
	if cfg == nil {
		cfg = protocol.PopulationConfig(protocol.DefaultPopulation)
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "encode configuration")
	}
	resp, err := c.do(ctx, http.MethodPost, "/generate", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "POST /generate"); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read /generate response")
	}
	return parseIdentifier(body)
}

// Results fetches GET /json/{id}: the entities generated so far.
func (c *HTTPClient) Results(ctx context.Context, id string) ([]json.RawMessage, error) {
	path := "/json/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "GET "+path); err != nil {
		return nil, err
	}
	var out []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return out, nil
}

// Zip downloads GET /zip/{id} into w. It returns ErrPending while the
// request is still running.
func (c *HTTPClient) Zip(ctx context.Context, id string, w io.Writer) error {
	path := "/zip/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusAccepted {
		return ErrPending
	}
	if err := checkStatus(resp, "GET "+path); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return errors.Wrapf(err, "download %s", path)
	}
	return nil
}

// WaitZip polls Zip every interval until the archive is ready or ctx ends.
func (c *HTTPClient) WaitZip(ctx context.Context, id string, w io.Writer, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := c.Zip(ctx, id, w)
		if !errors.Is(err, ErrPending) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Terminate sends DELETE /terminate/{id}.
func (c *HTTPClient) Terminate(ctx context.Context, id string) error {
	path := "/terminate/" + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, "DELETE "+path)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	return resp, nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode == http.StatusNotFound {
		return errors.Wrap(ErrNotFound, what)
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %d %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func parseIdentifier(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var v struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return "", errors.Wrap(err, "decode /generate response")
		}
		trimmed = []byte(v.UUID)
	} else if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			trimmed = []byte(s)
		}
	}
	if len(trimmed) == 0 {
		return "", errors.New("empty identifier in /generate response")
	}
	return string(trimmed), nil
}

// DeriveHTTPBase converts ws://host:port/path to http://host:port.
func DeriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
