package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *metrics.Metrics, string) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, m, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 1 && testutil.ToFloat64(m.WebSocketClients) == 1
	}, time.Second, 5*time.Millisecond)

	hub.Broadcast("customers.state", map[string]string{"status": "loading"}, "customers")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "customers.state", msg.Type)
	assert.Equal(t, "customers", msg.Source)
	assert.Equal(t, map[string]interface{}{"status": "loading"}, msg.Data)
	assert.NotEmpty(t, msg.Timestamp)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, m, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0 && testutil.ToFloat64(m.WebSocketClients) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBroadcastWithoutClients(t *testing.T) {
	hub, _, _ := startHub(t)
	hub.Broadcast("customers.state", nil, "customers")
	assert.Equal(t, 0, hub.ClientCount())
}

func TestSettledStateSurvivesBurstAndReachesLateClient(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	hub := NewHub(nil, logger)

	for i := 0; i < 2*sendBuffer; i++ {
		hub.Broadcast("customers.state", map[string]string{"status": "loading"}, "customers")
	}
	hub.Broadcast("customers.state", map[string]string{"status": "success"}, "customers")
	hub.Broadcast("heartbeat", nil, "dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	received := map[string]Message{}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(received) < 2 {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		received[msg.Type] = msg
	}

	assert.Equal(t, map[string]interface{}{"status": "success"}, received["customers.state"].Data)
	assert.Contains(t, received, "heartbeat")
}

func TestBroadcastPreservesOrder(t *testing.T) {
	hub, _, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	statuses := []string{"loading", "success", "loading", "error"}
	for _, s := range statuses {
		hub.Broadcast("customers.state", map[string]string{"status": s}, "customers")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []string
	for len(got) < len(statuses) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var msg struct {
			Data map[string]string `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		got = append(got, msg.Data["status"])
	}
	assert.Equal(t, statuses, got)
}
