package ctl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	api "github.com/GriffinCanCode/framelink/internal/api/http"
	"github.com/GriffinCanCode/framelink/internal/session"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Name    string `json:"name,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// OpenRequest describes the session to open.
type OpenRequest struct {
	URL     string            `json:"url,omitempty"`
	ID      string            `json:"id,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Sandbox bool              `json:"sandbox,omitempty"`
	Wait    bool              `json:"wait,omitempty"`
}

// Client talks to a framelink server.
type Client struct {
	base  string
	resty *resty.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		base: baseURL,
		resty: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "framelinkctl/1.0"),
	}
}

// Open opens a session.
func (c *Client) Open(ctx context.Context, req OpenRequest) (*session.Info, error) {
	var out struct {
		Session session.Info `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", req, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// List lists sessions.
func (c *Client) List(ctx context.Context) ([]session.Info, error) {
	var out struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Describe returns one session.
func (c *Client) Describe(ctx context.Context, sid string) (*session.Info, error) {
	var out struct {
		Session session.Info `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sid), nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// Ready waits for a session's handshake.
func (c *Client) Ready(ctx context.Context, sid string) (*session.Info, error) {
	var out struct {
		Session session.Info `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, sessionPath(sid)+"/ready", nil, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// Call invokes method. The value is sent only when args holds one.
func (c *Client) Call(ctx context.Context, sid, method string, args ...any) (any, error) {
	body := map[string]any{"method": method}
	if len(args) > 0 {
		body["value"] = args[0]
	}
	var out struct {
		Value any `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, sessionPath(sid)+"/call", body, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// Get reads a property.
func (c *Client) Get(ctx context.Context, sid, name string) (any, error) {
	var out struct {
		Value any `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(sid)+"/properties/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// Set writes a property. A nil value is sent as JSON null.
func (c *Client) Set(ctx context.Context, sid, name string, value any) error {
	return c.do(ctx, http.MethodPut, sessionPath(sid)+"/properties/"+url.PathEscape(name), map[string]any{"value": value}, nil)
}

// Destroy destroys a session.
func (c *Client) Destroy(ctx context.Context, sid string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(sid), nil, nil)
}

// Watch streams event frames to fn until ctx is done, the server closes the
// stream, or fn returns an error.
func (c *Client) Watch(ctx context.Context, sid, event string, fn func(api.EventFrame) error) error {
	u, err := url.Parse(c.base + sessionPath(sid) + "/events/" + url.PathEscape(event))
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, Message: "event stream refused"}
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		var frame api.EventFrame
		if err := sonic.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req := c.resty.R().SetContext(ctx)
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() >= 300 {
		apiErr := &APIError{Status: resp.StatusCode()}
		_ = sonic.Unmarshal(resp.Body(), apiErr)
		return apiErr
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sessionPath(sid string) string {
	return "/sessions/" + url.PathEscape(sid)
}
