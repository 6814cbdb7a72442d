package syncagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-listsync/internal/types"
)

// ErrAuthFailed means the server rejected our credentials. It is never
// retried.
var ErrAuthFailed = errors.New("authentication rejected")

// Conn is an open realtime connection. ReadJSON may run concurrently with
// WriteJSON but neither with itself.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer opens an authenticated realtime connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// TokenSource returns a bearer token. It is consulted on every attempt so
// each reconnect re-runs authentication.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always returns tok.
func StaticToken(tok string) TokenSource {
	return func(context.Context) (string, error) { return tok, nil }
}

// WSDialer dials the server's /ws endpoint with gorilla/websocket.
type WSDialer struct {
	baseURL string
	token   TokenSource
	dialer  *websocket.Dialer
}

// NewWSDialer dials baseURL, an http(s) URL of the server.
func NewWSDialer(baseURL string, token TokenSource) *WSDialer {
	return &WSDialer{baseURL: baseURL, token: token, dialer: websocket.DefaultDialer}
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	return u.String(), nil
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	tok, err := d.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	target, err := wsURL(d.baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+tok)
	conn, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	return conn, nil
}

// RESTClient reads the pull side of the API: the user's lists and their
// unread counts.
type RESTClient struct {
	baseURL string
	token   TokenSource
	http    *http.Client
}

func NewRESTClient(baseURL string, token TokenSource, client *http.Client) *RESTClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RESTClient{baseURL: strings.TrimSuffix(baseURL, "/"), token: token, http: client}
}

type listUnread struct {
	ListId     int              `json:"listId"`
	MessageIds map[string][]int `json:"messageIds"`
}

func (c *RESTClient) unread(ctx context.Context) ([]listUnread, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/messages/unread", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get unread: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthFailed
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("get unread: unexpected status %s", resp.Status)
	}

	var out []listUnread
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}

	return out, nil
}

// ListIds returns every list the user participates in.
func (c *RESTClient) ListIds(ctx context.Context) ([]int, error) {
	lists, err := c.unread(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(lists))
	for i, l := range lists {
		ids[i] = l.ListId
	}

	return ids, nil
}

// UnreadIds returns the ids of the user's unread messages in every scope
// they can see, the baseline for UnreadTracker.Reset.
func (c *RESTClient) UnreadIds(ctx context.Context) (map[types.MessageScope][]int, error) {
	lists, err := c.unread(ctx)
	if err != nil {
		return nil, err
	}

	ids := make(map[types.MessageScope][]int)
	for _, l := range lists {
		for key, msgIds := range l.MessageIds {
			kind, id, _ := strings.Cut(key, ":")
			scope, err := types.ParseScope(kind, id)
			if err != nil {
				return nil, fmt.Errorf("decode unread: %w", err)
			}
			ids[scope] = msgIds
		}
	}

	return ids, nil
}
