package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Send while the socket is down.
var ErrNotConnected = errors.New("websocket not connected")

// Client is a reconnecting duplex message channel over a single logical
// endpoint. It owns retry/backoff and carries no business semantics:
// inbound frames are handed to a single OnMessage callback in arrival
// order, outbound values are JSON-encoded and written as text frames.
type Client struct {
	url    string
	logger zerolog.Logger

	onOpen    func()
	onMessage func(data []byte)
	onClose   func()

	conn          *websocket.Conn
	reconnectChan chan struct{}
	closeChan     chan struct{}
	closeOnce     sync.Once
	mutex         sync.RWMutex
	connected     bool
	closed        bool
}

type ClientConfig struct {
	URL    string
	Logger zerolog.Logger

	// OnOpen fires after every successful connect, including reconnects.
	OnOpen func()
	// OnMessage receives each inbound frame, synchronously from the read
	// loop so frames are never reordered.
	OnMessage func(data []byte)
	// OnClose fires when the underlying socket drops.
	OnClose func()
}

func NewClient(config ClientConfig) *Client {
	c := &Client{
		url:           config.URL,
		logger:        config.Logger,
		onOpen:        config.OnOpen,
		onMessage:     config.OnMessage,
		onClose:       config.OnClose,
		reconnectChan: make(chan struct{}, 1),
		closeChan:     make(chan struct{}),
	}
	go c.handleReconnect()
	return c
}

// Open establishes the socket if not already open. The reconnect loop
// keeps it alive until Close.
func (c *Client) Open() error {
	c.mutex.Lock()

	if c.closed {
		c.mutex.Unlock()
		return fmt.Errorf("websocket client already closed")
	}
	if c.connected {
		c.mutex.Unlock()
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
	}

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		c.mutex.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.mutex.Unlock()

	c.logger.Info().Str("url", c.url).Msg("Connected to WebSocket")

	go c.readMessages(conn)

	if c.onOpen != nil {
		c.onOpen()
	}
	return nil
}

// Close tears the socket down for good; no further reconnects happen.
func (c *Client) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	c.closeOnce.Do(func() { close(c.closeChan) })

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.connected = false
		c.logger.Info().Msg("Disconnected from WebSocket")
		return err
	}
	return nil
}

func (c *Client) IsOpen() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected
}

// Send marshals v to JSON and writes it as one text frame.
func (c *Client) Send(v any) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.logger.Debug().RawJSON("frame", data).Msg("Sending message")

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error().Err(err).Msg("Failed to send message")
		go c.triggerReconnect()
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		select {
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mutex.RLock()
			closed := c.closed
			c.mutex.RUnlock()
			if !closed {
				c.logger.Error().Err(err).Msg("Failed to read message")
				c.triggerReconnect()
			}
			if c.onClose != nil {
				c.onClose()
			}
			return
		}

		if c.onMessage != nil {
			c.onMessage(data)
		}
	}
}

func (c *Client) handleReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.closeChan:
			return
		case <-c.reconnectChan:
			c.logger.Info().Msg("Attempting to reconnect WebSocket")

			for {
				select {
				case <-c.closeChan:
					return
				default:
				}

				if err := c.Open(); err != nil {
					c.logger.Error().Err(err).
						Dur("backoff", backoff).
						Msg("Reconnection failed, retrying")

					select {
					case <-c.closeChan:
						return
					case <-time.After(backoff):
					}
					if backoff < maxBackoff {
						backoff *= 2
					}
					continue
				}

				c.logger.Info().Msg("Successfully reconnected WebSocket")
				backoff = time.Second
				break
			}
		}
	}
}

func (c *Client) triggerReconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed || !c.connected {
		return
	}
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	select {
	case c.reconnectChan <- struct{}{}:
	default:
	}
}
