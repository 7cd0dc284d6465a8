package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoServer upgrades every request and echoes frames back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClientOpenSendReceive(t *testing.T) {
	srv := echoServer(t)

	var mu sync.Mutex
	var received [][]byte
	opened := make(chan struct{}, 1)

	client := NewClient(ClientConfig{
		URL:    wsURL(srv),
		Logger: zerolog.Nop(),
		OnOpen: func() { opened <- struct{}{} },
		OnMessage: func(data []byte) {
			mu.Lock()
			received = append(received, data)
			mu.Unlock()
		},
	})
	defer client.Close()

	require.NoError(t, client.Open())
	assert.True(t, client.IsOpen())

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen was not called")
	}

	require.NoError(t, client.Send(map[string]string{"type": "ping"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.JSONEq(t, `{"type":"ping"}`, string(received[0]))
	mu.Unlock()
}

func TestClientOpenTwiceIsNoOp(t *testing.T) {
	srv := echoServer(t)

	client := NewClient(ClientConfig{URL: wsURL(srv), Logger: zerolog.Nop()})
	defer client.Close()

	require.NoError(t, client.Open())
	require.NoError(t, client.Open())
}

func TestClientSendWhileClosed(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://127.0.0.1:1/ws", Logger: zerolog.Nop()})
	defer client.Close()

	err := client.Send("anything")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.IsOpen())
}

func TestClientCloseStopsClient(t *testing.T) {
	srv := echoServer(t)

	client := NewClient(ClientConfig{URL: wsURL(srv), Logger: zerolog.Nop()})
	require.NoError(t, client.Open())
	require.NoError(t, client.Close())

	assert.False(t, client.IsOpen())
	assert.Error(t, client.Open(), "a closed client must not reopen")
}

func TestClientReconnectsAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	connections := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		connections++
		first := connections == 1
		mu.Unlock()
		if first {
			// Drop the first connection immediately to force a reconnect.
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{URL: wsURL(srv), Logger: zerolog.Nop()})
	defer client.Close()
	require.NoError(t, client.Open())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connections >= 2 && client.IsOpen()
	}, 10*time.Second, 50*time.Millisecond)
}
