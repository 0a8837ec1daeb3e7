package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
	"github.com/dotside-studios/rfid-reader-agent/protocol"
)

const writeTimeout = 5 * time.Second

// sender issues a bridge command and returns its request id.
type sender interface {
	Send(command string) (string, error)
}

type sentMsg struct {
	ID      string
	Command string
	Err     error
}

type decodeErrMsg struct{ Err error }

type bridgeClosedMsg struct{ Err error }

// parseURL validates a bridge address, defaulting the path to /ws.
func parseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid bridge url %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid bridge url %q: missing host", raw)
	}
	if u.Path == "" {
		u.Path = "/ws"
	}
	return u, nil
}

// Client is a bridge connection. Incoming frames are decoded on a reader
// goroutine and delivered as tea messages.
type Client struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	incoming chan tea.Msg
}

// Dial connects to the bridge.
func Dial(ctx context.Context, rawURL, secret string, insecure bool) (*Client, error) {
	target, err := bridgeURL(rawURL, secret)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	if insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("User-Agent", buildinfo.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("bridge rejected the API secret")
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}

	c := &Client{conn: conn, incoming: make(chan tea.Msg, 64)}
	go c.readLoop()
	return c, nil
}

// Send implements sender.
func (c *Client) Send(command string) (string, error) {
	id := uuid.NewString()
	req := protocol.WebSocketRequest{ID: id, Type: command}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return "", err
	}
	return id, nil
}

// Incoming returns the channel of decoded messages. It is closed after a
// bridgeClosedMsg.
func (c *Client) Incoming() <-chan tea.Msg {
	return c.incoming
}

func (c *Client) readLoop() {
	defer close(c.incoming)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.incoming <- bridgeClosedMsg{Err: err}
			return
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			c.incoming <- decodeErrMsg{Err: err}
			continue
		}
		c.incoming <- msg
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func waitIncomingCmd(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

func sendCmd(s sender, command string) tea.Cmd {
	return func() tea.Msg {
		id, err := s.Send(command)
		return sentMsg{ID: id, Command: command, Err: err}
	}
}
