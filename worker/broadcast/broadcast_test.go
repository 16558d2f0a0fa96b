package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nadflip-web-worker/worker"
	"nadflip-web-worker/worker/store"
)

func newTestServer(t *testing.T, lookup SettlementLookup) (*Hub, *httptest.Server) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(NewHandler(ctx, hub, lookup).Routes())
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) map[string]interface{} {
	for i := 0; i < 10; i++ {
		msg := readMessage(t, conn)
		if msg["type"] == kind {
			return msg
		}
	}
	t.Fatalf("no %s message received", kind)
	return nil
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub, server := newTestServer(t, nil)

	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	welcome := readMessage(t, conn)
	assert.Equal(t, MessageTypeWelcome, welcome["type"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendAfterCloseIsRefused(t *testing.T) {
	c := NewClient("c1", nil, NewHub())
	assert.True(t, c.TrySend(ServerMessage{Type: MessageTypePong}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.TrySend(ServerMessage{Type: MessageTypePong})
			}
		}()
	}
	assert.NotPanics(t, func() {
		c.closeSend()
		c.closeSend()
	})
	wg.Wait()

	assert.False(t, c.TrySend(ServerMessage{Type: MessageTypePong}))
}

func TestHubSink_RevealReachesClients(t *testing.T) {
	hub, server := newTestServer(t, nil)
	conn := dial(t, server)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	sink := NewHubSink(hub)
	sink.RevealOutcome(true, decimal.RequireFromString("1.984"), true)

	msg := readUntil(t, conn, MessageTypeOutcome)
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, true, payload["won"])
	assert.Equal(t, "1.984", payload["amount"])
	assert.Equal(t, "high", payload["guess"])
}

func TestHub_ReplaysPanelsToLateClients(t *testing.T) {
	hub, server := newTestServer(t, nil)

	sink := NewHubSink(hub)
	sink.RenderPoolPanel(worker.PoolInfo{Jackpot: decimal.RequireFromString("12.5"), JackpotAvailable: true})

	conn := dial(t, server)
	msg := readUntil(t, conn, MessageTypePool)
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "12.5", payload["jackpot"])
	_, hasFee := payload["fee"]
	assert.False(t, hasFee)
}

func TestHandler_Health(t *testing.T) {
	_, server := newTestServer(t, nil)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandler_Settlement(t *testing.T) {
	journal := store.NewMemoryStore()
	require.NoError(t, journal.Set("w-1", &store.Settlement{WagerID: "w-1", Won: true, Amount: "1.984"}))

	_, server := newTestServer(t, journal.Get)

	resp, err := http.Get(server.URL + "/settlements/w-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got store.Settlement
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "w-1", got.WagerID)
	assert.True(t, got.Won)

	missing, err := http.Get(server.URL + "/settlements/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
