package softphone

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/95ykf/PhoneBar/internal/domain"
	"github.com/95ykf/PhoneBar/internal/event"
)

// Bus topics. Every inbound frame is re-published under its action name;
// TopicLoginSuccess fires once the phone accepts the registration.
const (
	TopicPrefix       = "softphone:"
	TopicLoginSuccess = TopicPrefix + "loginSuccess"
)

// ErrNotConnected is returned by Send while no phone endpoint is up.
var ErrNotConnected = errors.New("softphone not connected")

// DefaultEndpoints are the loopback ports the locally installed phone
// listens on, tried in order.
var DefaultEndpoints = []string{"ws://127.0.0.1:57712", "ws://127.0.0.1:58823"}

const defaultPingInterval = 20 * time.Second

// frame is the softphone wire envelope. Data is a map on the way out and
// raw JSON on the way in.
type frame struct {
	Action string          `json:"action"`
	SID    string          `json:"sid,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Action string         `json:"action"`
	SID    string         `json:"sid,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

type loginData struct {
	User   string `json:"user"`
	Result int    `json:"result"`
	SID    string `json:"sid"`
}

// Client registers the agent's credentials with the locally installed
// softphone over its loopback websocket. The phone may listen on any of
// several candidate ports; a port that fails is disabled and the next one
// tried. A ping cycle detects a wedged phone and re-runs the bootstrap.
type Client struct {
	serverURL    string
	username     string
	password     string
	pingInterval time.Duration

	bus        *event.Bus
	logger     zerolog.Logger
	notifyUser domain.Notifier

	mutex     sync.Mutex
	endpoints []*endpoint
	conn      *websocket.Conn
	sessionID string
	pingCount int
	pingStop  chan struct{}
}

type endpoint struct {
	url     string
	enabled bool
}

type ClientConfig struct {
	// Endpoints lists candidate phone URLs; DefaultEndpoints when empty.
	Endpoints []string

	ServerURL string
	Username  string
	Password  string

	PingInterval time.Duration

	Bus    *event.Bus
	Logger zerolog.Logger
	Notify domain.Notifier
}

func NewClient(config ClientConfig) *Client {
	urls := config.Endpoints
	if len(urls) == 0 {
		urls = DefaultEndpoints
	}
	endpoints := make([]*endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &endpoint{url: u, enabled: true}
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}
	notifyUser := config.Notify
	if notifyUser == nil {
		notifyUser = func(msg string) {
			config.Logger.Warn().Msg(msg)
		}
	}
	return &Client{
		serverURL:    config.ServerURL,
		username:     config.Username,
		password:     config.Password,
		pingInterval: config.PingInterval,
		bus:          config.Bus,
		logger:       config.Logger,
		notifyUser:   notifyUser,
		endpoints:    endpoints,
	}
}

// Open connects to the first still-enabled endpoint and sends the login.
// A dial failure disables that endpoint and falls through to the next;
// when every candidate is exhausted the user is told to reinstall.
func (c *Client) Open() error {
	for {
		c.mutex.Lock()
		var ep *endpoint
		for _, e := range c.endpoints {
			if e.enabled {
				ep = e
				break
			}
		}
		c.mutex.Unlock()

		if ep == nil {
			c.notifyUser("The embedded softphone is unavailable, check that the local service is running or reinstall the softphone")
			return ErrNotConnected
		}

		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.Dial(ep.url, nil)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", ep.url).Msg("Softphone endpoint unreachable")
			c.mutex.Lock()
			ep.enabled = false
			c.mutex.Unlock()
			continue
		}

		c.mutex.Lock()
		c.conn = conn
		c.mutex.Unlock()

		c.logger.Info().Str("url", ep.url).Msg("Connected to softphone")

		go c.readMessages(conn)
		return c.login()
	}
}

// Close sends the close handshake and drops the connection.
func (c *Client) Close() error {
	c.stopPing()

	c.mutex.Lock()
	conn := c.conn
	sessionID := c.sessionID
	c.conn = nil
	c.mutex.Unlock()

	if conn == nil {
		return nil
	}
	c.writeFrame(conn, outFrame{
		Action: "close",
		SID:    sessionID,
		Data:   map[string]any{"user": c.username},
	})
	return conn.Close()
}

func (c *Client) IsOpen() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn != nil
}

func (c *Client) login() error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeFrame(conn, outFrame{
		Action: "login",
		Data: map[string]any{
			"addr":     c.serverURL,
			"user":     c.username,
			"password": c.password,
		},
	})
}

func (c *Client) writeFrame(conn *websocket.Conn, f outFrame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.logger.Debug().RawJSON("frame", data).Msg("Sending softphone frame")
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readMessages(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug().Err(err).Msg("Softphone connection closed")
			c.stopPing()
			c.mutex.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mutex.Unlock()
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.Error().Err(err).Str("data", string(data)).Msg("Failed to unmarshal softphone frame")
		return
	}

	switch f.Action {
	case "ping":
		c.mutex.Lock()
		c.pingCount = 0
		c.mutex.Unlock()

	case "login":
		var login loginData
		if err := json.Unmarshal(f.Data, &login); err != nil {
			c.logger.Error().Err(err).Msg("Failed to unmarshal softphone login result")
			return
		}
		if login.User == c.username && login.Result == 1 {
			c.mutex.Lock()
			c.sessionID = login.SID
			c.mutex.Unlock()
			c.startPing()
			if c.bus != nil {
				c.bus.Publish(TopicLoginSuccess, &f)
			}
		} else {
			c.notifyUser("Softphone registration failed")
		}

	case "close":
		var login loginData
		if err := json.Unmarshal(f.Data, &login); err == nil && login.User == c.username {
			c.stopPing()
			c.notifyUser("The softphone has exited")
		}
	}

	if c.bus != nil {
		c.bus.Publish(TopicPrefix+f.Action, &f)
	}
}

// sendPing pushes one keep-alive and counts unanswered pings; more than
// three in a row means the phone is wedged, so the bootstrap reruns.
func (c *Client) sendPing() {
	c.mutex.Lock()
	conn := c.conn
	sessionID := c.sessionID
	c.pingCount++
	wedged := c.pingCount > 3
	c.mutex.Unlock()

	if conn != nil {
		c.writeFrame(conn, outFrame{Action: "ping", SID: sessionID})
	}
	if wedged {
		c.stopPing()
		c.logger.Warn().Msg("Softphone stopped answering pings, reconnecting")
		c.mutex.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.mutex.Unlock()
		if err := c.Open(); err != nil {
			c.logger.Error().Err(err).Msg("Softphone reconnect failed")
		}
	}
}

func (c *Client) startPing() {
	c.mutex.Lock()
	if c.pingStop != nil {
		close(c.pingStop)
	}
	stop := make(chan struct{})
	c.pingStop = stop
	c.mutex.Unlock()

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		c.sendPing()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.sendPing()
			}
		}
	}()
}

func (c *Client) stopPing() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.pingCount = 0
}
