package server

import (
	"sync"
	"time"

	"github.com/dotside-studios/rfid-reader-agent/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one bridge WebSocket connection. Writes are serialized because
// responses and broadcasts come from different goroutines.
type Client struct {
	ID         string
	RemoteAddr string

	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		ID:         uuid.New().String(),
		RemoteAddr: remoteAddr,
		conn:       conn,
	}
}

// ShortID returns the first eight characters of the client id for logs.
func (c *Client) ShortID() string {
	if len(c.ID) < 8 {
		return c.ID
	}
	return c.ID[:8]
}

// WriteJSON sends v as a single text message.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// SendSuccessResponse answers req with a successful response.
func SendSuccessResponse(client *Client, req protocol.WebSocketRequest, payload any) error {
	return client.WriteJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    protocol.ResponseType(req.Type),
		Success: true,
		Payload: payload,
	})
}

// SendErrorResponse answers req with a failed response. An empty request
// type produces a generic "error" response, e.g. for unparseable frames.
func SendErrorResponse(client *Client, req protocol.WebSocketRequest, payload protocol.ErrorPayload, message string) error {
	responseType := protocol.WSTypeError
	if req.Type != "" {
		responseType = protocol.ResponseType(req.Type)
	}
	return client.WriteJSON(protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    responseType,
		Success: false,
		Payload: payload,
		Error:   message,
	})
}
