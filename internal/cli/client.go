package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/scoreroom/internal/model"
)

// Client talks to a scoreroom server over HTTP and WebSocket
type Client struct {
	baseURL    string
	origin     string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient creates a new client. origin is sent on the WebSocket upgrade and
// must be in the server's allow-list.
func NewClient(baseURL, origin string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		origin:  origin,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
	}
}

// APIError represents an error response from the HTTP API
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an API error
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func (e *APIError) String() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// RemoteError is an app_error received over the WebSocket
type RemoteError struct {
	Kind    model.ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Get performs a GET request against the HTTP API
func (c *Client) Get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			return fmt.Errorf("%s", errResp.Error.String())
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// WebSocketURL derives the /ws endpoint from the server URL
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Connect opens a realtime session
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	wsURL, err := WebSocketURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connection refused (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Session is one WebSocket connection. It is not safe for concurrent use.
type Session struct {
	conn *websocket.Conn
}

// Send writes one command frame
func (s *Session) Send(event model.EventType, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", event, err)
	}
	return s.conn.WriteJSON(model.Envelope{Event: event, Data: body})
}

// Next reads the next frame. The context's deadline, if any, bounds the read.
func (s *Session) Next(ctx context.Context) (model.Envelope, error) {
	// Zero deadline when ctx has none
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return model.Envelope{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		// Unblocks ReadJSON on cancellation
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var env model.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		if ctx.Err() != nil {
			return env, ctx.Err()
		}
		return env, err
	}
	return env, nil
}

// Await reads frames until one of the wanted events arrives and decodes it
// into result. An app_error ends the wait with a *RemoteError.
func (s *Session) Await(ctx context.Context, result any, want ...model.EventType) (model.EventType, error) {
	for {
		env, err := s.Next(ctx)
		if err != nil {
			return "", err
		}

		if env.Event == model.EventAppError {
			var payload model.AppErrorPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil {
				return "", fmt.Errorf("failed to parse app_error: %w", err)
			}
			return env.Event, &RemoteError{Kind: payload.Kind, Message: payload.Message}
		}

		for _, w := range want {
			if env.Event != w {
				continue
			}
			if result != nil && len(env.Data) > 0 {
				if err := json.Unmarshal(env.Data, result); err != nil {
					return env.Event, fmt.Errorf("failed to parse %s: %w", env.Event, err)
				}
			}
			return env.Event, nil
		}
	}
}

// Close sends a close frame and closes the connection
func (s *Session) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
