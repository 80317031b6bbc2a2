package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/forgeline/trellis/internal/storage"
)

// DefaultDialTimeout bounds the initial socket connect.
const DefaultDialTimeout = 2 * time.Second

// Client talks to a running server over its unix socket. Safe for use from
// one goroutine at a time; calls are serialized by an internal mutex.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	agentID string
	timeout time.Duration
	mu      sync.Mutex
	seq     int64
}

// Dial connects to the server socket. agentID is attached to every request
// for audit attribution.
func Dial(socketPath, agentID string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	reader := bufio.NewReaderSize(conn, 64*1024)
	return &Client{conn: conn, reader: reader, agentID: agentID, timeout: 30 * time.Second}, nil
}

// SetTimeout overrides the per-call deadline.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends one operation and decodes the response data into out (which
// may be nil). Structured failures come back as *storage.Error.
func (c *Client) Call(operation string, args, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	req := Request{
		Operation: operation,
		AgentID:   c.agentID,
		RequestID: fmt.Sprintf("%s-%d", c.agentID, c.seq),
	}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to marshal args: %w", err)
		}
		req.Args = raw
	}

	payload, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	payload = append(payload, '\n')

	if c.timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !resp.Success {
		if resp.Error == nil {
			return fmt.Errorf("request failed with no error detail")
		}
		return &storage.Error{
			Kind:        resp.Error.Kind,
			Message:     resp.Error.Message,
			BlockingIDs: resp.Error.BlockingIDs,
		}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// Ping checks server liveness.
func (c *Client) Ping() error {
	return c.Call(OpPing, nil, nil)
}
