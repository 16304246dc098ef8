package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	helpers "github.com/gofbot/gofbot-launcher/pkg/shared"
	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
)

// APIError is a non-2xx answer from the launcher.
type APIError struct {
	Status int
	Msg    string
	Kind   string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("launcher returned %d (%s): %s", e.Status, e.Kind, e.Msg)
	}
	return fmt.Sprintf("launcher returned %d: %s", e.Status, e.Msg)
}

// Client talks to the launcher's bridge.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

func NewClient(address, token string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(address, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse launcher address %q: %w", address, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("launcher address %q must be http or https", address)
	}
	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Start(ctx context.Context, opts defs.LaunchOptions) (defs.DisplayInfo, error) {
	var info defs.DisplayInfo
	err := c.do(ctx, http.MethodPost, opts, &info)
	return info, err
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, nil, nil)
}

func (c *Client) Status(ctx context.Context) (defs.BotStatus, error) {
	var status defs.BotStatus
	err := c.do(ctx, http.MethodGet, nil, &status)
	return status, err
}

func (c *Client) do(ctx context.Context, method string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath("bot").String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer helpers.CloseOrLog(resp.Body)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Msg  string `json:"msg"`
			Kind string `json:"kind"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&msg); err == nil {
			apiErr.Msg, apiErr.Kind = msg.Msg, msg.Kind
		} else {
			apiErr.Msg = resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Watch streams bridge events to fn until ctx ends, the connection drops or fn
// returns errStopWatching.
func (c *Client) Watch(ctx context.Context, fn func(defs.Envelope) error) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if c.token != "" {
		u.RawQuery = url.Values{"token": {c.token}}.Encode()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		defer helpers.CloseOrLog(resp.Body)
	}
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u.Host, err)
	}

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var env defs.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(env); err != nil {
			if errors.Is(err, errStopWatching) {
				return nil
			}
			return err
		}
	}
}
