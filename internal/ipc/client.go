package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is the admin client used by the CLI
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout sets the connection timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Status lists every tab the daemon tracks.
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.Send(ctx, &Request{Type: MessageTypeStatus})
}

// EndSession ends the demo session of tabID.
func (c *Client) EndSession(ctx context.Context, tabID string) (*Response, error) {
	return c.Send(ctx, &Request{Type: MessageTypeEndSession, TabID: tabID})
}

// Send sends req and waits for the response
func (c *Client) Send(ctx context.Context, req *Request) (*Response, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set connection deadline: %w", err)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.Type != MessageTypeResponse {
		return nil, fmt.Errorf("invalid response type: %s", resp.Type)
	}

	return &resp, nil
}
