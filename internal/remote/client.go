// Package remote talks to a running daycal server. Client implements
// claimstore.Backend so the sync engine can mirror a remote store exactly
// as it mirrors the embedded one.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"daycal/internal/calendar"
	"daycal/internal/claimstore"
	"daycal/internal/ics"
	"daycal/internal/identity"
	"daycal/internal/model"
	"daycal/internal/projection"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("remote: %d %s", e.Code, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	dialer *websocket.Dialer

	minBackoff time.Duration
	maxBackoff time.Duration
	readWait   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBackoff sets the reconnect delay bounds for subscriptions.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		c.minBackoff = initial
		c.maxBackoff = limit
	}
}

// New returns a client for the server at base (e.g. http://127.0.0.1:8080).
func New(base, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		base:       u,
		token:      token,
		http:       &http.Client{Timeout: 15 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		readWait:   90 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ claimstore.Backend = (*Client)(nil)

// Me returns the identity the server derives from the client's token.
func (c *Client) Me(ctx context.Context) (identity.Identity, error) {
	var id identity.Identity
	if err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &id); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnauthorized {
			return id, &identity.AuthError{Reason: "server rejected token", Err: err}
		}
		return id, err
	}
	return id, nil
}

// Put writes the caller's claim. The server takes the owner from the token,
// so c.OwnerID is informational.
func (c *Client) Put(ctx context.Context, claim model.Claim) (model.Claim, error) {
	body := map[string]string{
		"date":         claim.Date,
		"display_name": claim.DisplayName,
		"avatar_ref":   claim.AvatarRef,
	}
	var stored model.Claim
	if err := c.doJSON(ctx, http.MethodPut, "/api/claims/me", body, &stored); err != nil {
		return model.Claim{}, err
	}
	return stored, nil
}

// Delete clears the caller's claim.
func (c *Client) Delete(ctx context.Context, _ string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/claims/me", nil, nil)
}

// Get reads the caller's stored claim. The server answers 404 when there
// is none.
func (c *Client) Get(ctx context.Context, _ string) (model.Claim, bool, error) {
	var stored model.Claim
	err := c.doJSON(ctx, http.MethodGet, "/api/claims/me", nil, &stored)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return model.Claim{}, false, nil
	}
	if err != nil {
		return model.Claim{}, false, err
	}
	return stored, true, nil
}

// Roster returns every claim ordered by date.
func (c *Client) Roster(ctx context.Context) ([]model.Claim, error) {
	var resp struct {
		Roster []model.Claim `json:"roster"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/roster", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roster, nil
}

// Calendar returns the server-side month view for the caller.
func (c *Client) Calendar(ctx context.Context, m calendar.Month) (projection.View, error) {
	q := url.Values{}
	q.Set("year", strconv.Itoa(m.Year))
	q.Set("month", strconv.Itoa(int(m.Month)))

	var v projection.View
	err := c.doJSON(ctx, http.MethodGet, "/api/calendar?"+q.Encode(), nil, &v)
	return v, err
}

// Feed downloads /calendar.ics and parses it back into claims.
func (c *Client) Feed(ctx context.Context) ([]model.Claim, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/calendar.ics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return ics.Parse(body)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}

func (c *Client) wsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/subscribe"
	return u.String()
}
