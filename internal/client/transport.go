package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/loxone/internal/protocol"
)

const (
	// DefaultHTTPTimeout bounds plain HTTP requests to the Miniserver.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultHandshakeTimeout bounds the websocket upgrade.
	DefaultHandshakeTimeout = 10 * time.Second

	maxHTTPBody = 1 << 20
)

// Conn is a websocket connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Transport opens connections and performs plain HTTP requests against a
// Miniserver at host (host:port).
type Transport interface {
	Dial(ctx context.Context, host string) (Conn, error)
	Get(ctx context.Context, host, path string) ([]byte, error)
}

// WebsocketTransport is the network Transport.
type WebsocketTransport struct {
	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

// NewWebsocketTransport returns a transport with default timeouts.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultHandshakeTimeout,
			Subprotocols:     []string{protocol.SubProtocol},
		},
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Dial opens ws://host/ws/rfc6455 with the remotecontrol sub-protocol.
func (t *WebsocketTransport) Dial(ctx context.Context, host string) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = NewWebsocketTransport().Dialer
	}
	url := "ws://" + host + protocol.SocketPath
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return conn, nil
}

// Get fetches http://host/path and returns the body of a 200 reply.
func (t *WebsocketTransport) Get(ctx context.Context, host, path string) ([]byte, error) {
	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status code %d", path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// closeCode extracts the websocket close code from a read error, or -1.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}
