// Package api is the HTTP client for the collaborator endpoints: identity
// (register/login), user search, conversation history and the roster
// aggregation.
//
// These endpoints are external collaborators; this package only defines
// their consumption. Failures are returned to the caller unchanged so the
// engine can surface them as transient notices without mutating local state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "chatlink/contracts/chat/v1"
	"chatlink/internal/roster"
	"chatlink/internal/session"
	"chatlink/internal/store"
)

const defaultRequestTimeout = 10 * time.Second

// UserSummary is one user-search result.
type UserSummary struct {
	Username string `json:"username"`
	UserID   string `json:"userId"`
}

// Client talks to the collaborator HTTP endpoints.
type Client struct {
	base    string
	httpc   *http.Client
	log     *slog.Logger
	timeout time.Duration
}

// New constructs a Client for the given base URL (e.g. "http://127.0.0.1:8080").
func New(log *slog.Logger, baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme: %s", u.Scheme)
	}

	return &Client{
		base:    baseURL,
		httpc:   &http.Client{},
		log:     log,
		timeout: defaultRequestTimeout,
	}, nil
}

// identityResponse is the shape returned by register and both login forms.
type identityResponse struct {
	Success bool             `json:"success"`
	User    session.Identity `json:"user"`
	Message string           `json:"message"`
	Error   string           `json:"error"`
}

// Register creates an account and returns the authenticated identity.
func (c *Client) Register(ctx context.Context, username, email, password string) (session.Identity, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" || password == "" {
		return session.Identity{}, errors.New("api: missing credentials")
	}

	body := map[string]string{"username": username, "email": email, "password": password}
	var resp identityResponse
	if err := c.postJSON(ctx, "/api/register", body, &resp); err != nil {
		return session.Identity{}, err
	}
	return identityOf(resp)
}

// LoginQuick authenticates with a bare user id.
func (c *Client) LoginQuick(ctx context.Context, userID string) (session.Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return session.Identity{}, errors.New("api: missing user id")
	}

	var resp identityResponse
	if err := c.postJSON(ctx, "/api/login", map[string]string{"userId": userID}, &resp); err != nil {
		return session.Identity{}, err
	}
	return identityOf(resp)
}

// LoginEmail authenticates with email and password.
func (c *Client) LoginEmail(ctx context.Context, email, password string) (session.Identity, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return session.Identity{}, errors.New("api: missing credentials")
	}

	body := map[string]string{"email": email, "password": password}
	var resp identityResponse
	if err := c.postJSON(ctx, "/api/login", body, &resp); err != nil {
		return session.Identity{}, err
	}
	return identityOf(resp)
}

func identityOf(resp identityResponse) (session.Identity, error) {
	if !resp.Success {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = "request rejected"
		}
		return session.Identity{}, fmt.Errorf("api: %s", msg)
	}
	if resp.User.Username == "" {
		return session.Identity{}, errors.New("api: response missing user")
	}
	return resp.User, nil
}

// FetchHistory loads the full message history of a conversation. The first
// fetch for a pair also creates the conversation server-side, matching the
// collaborator contract.
func (c *Client) FetchHistory(ctx context.Context, conversationID string) ([]store.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("api: missing conversation id")
	}

	// The endpoint historically returned either {"messages": [...]} or a
	// bare array; tolerate both.
	var wrapped struct {
		Messages []v1.WireMessage `json:"messages"`
	}
	raw, err := c.getJSON(ctx, "/api/messages/"+url.PathEscape(conversationID))
	if err != nil {
		return nil, err
	}

	var wire []v1.WireMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Messages != nil {
		wire = wrapped.Messages
	} else if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("api: history decode: %w", err)
	}

	out := make([]store.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, store.FromWire(w))
	}
	return out, nil
}

// SearchUsers finds users matching query, excluding currentUser.
func (c *Client) SearchUsers(ctx context.Context, query, currentUser string) ([]UserSummary, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("api: empty query")
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("currentUser", currentUser)

	raw, err := c.getJSON(ctx, "/api/users/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var out []UserSummary
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("api: search decode: %w", err)
	}
	return out, nil
}

// FetchRoster loads the aggregated conversation list for a user.
func (c *Client) FetchRoster(ctx context.Context, username string) ([]roster.Entry, error) {
	if strings.TrimSpace(username) == "" {
		return nil, errors.New("api: missing username")
	}

	raw, err := c.getJSON(ctx, "/api/chatlist/"+url.PathEscape(username))
	if err != nil {
		return nil, err
	}

	var wrapped struct {
		Chats []roster.Entry `json:"chats"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Chats != nil {
		return wrapped.Chats, nil
	}

	var out []roster.Entry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("api: roster decode: %w", err)
	}
	return out, nil
}

// ---- HTTP plumbing ----

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("api: encode: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("api: decode: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("api: read body: %w", err)
	}

	// 4xx responses may still carry a JSON error payload the caller decodes;
	// anything else non-2xx is a transport-level failure.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("api: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return raw, nil
}
