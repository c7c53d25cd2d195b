package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/sensorgate/frame"
	"github.com/temoto/sensorgate/internal/sink"
	"github.com/temoto/sensorgate/log2"
)

func dial(t testing.TB, srv *httptest.Server) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestPublish(t *testing.T) {
	t.Parallel()

	f := New("DHT11", log2.NewTest(t, log2.LDebug))
	srv := httptest.NewServer(f)
	defer srv.Close()

	conns := []*websocket.Conn{dial(t, srv), dial(t, srv)}
	require.Eventually(t, func() bool { return f.Clients() == 2 }, 5*time.Second, time.Millisecond)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.Publish(frame.Reading{Temperature: 23.5, Humidity: 61, ObservedAt: at})
	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		kind, b, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		var p sink.Payload
		require.NoError(t, json.Unmarshal(b, &p))
		assert.Equal(t, 23.5, p.Temperature)
		assert.Equal(t, 61.0, p.Humidity)
		assert.Equal(t, "2024-05-01T12:00:00Z", p.Timestamp)
		assert.Equal(t, "DHT11", p.Sensor)
	}

	require.NoError(t, conns[0].Close())
	assert.Eventually(t, func() bool { return f.Clients() == 1 }, 5*time.Second, time.Millisecond)
	f.Close()
	assert.Equal(t, 0, f.Clients())
	_ = conns[1].SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conns[1].ReadMessage()
	assert.Error(t, err)
}

func TestSlowClientDrops(t *testing.T) {
	t.Parallel()

	f := New("", nil)
	c := &client{send: make(chan []byte, ClientBuffer)}
	f.clients[c] = struct{}{}
	for i := 0; i < ClientBuffer+3; i++ {
		f.Publish(frame.Reading{Temperature: float64(i)})
	}
	assert.Equal(t, uint64(3), f.Dropped())
	assert.Len(t, c.send, ClientBuffer)
}

func TestPublishNoClients(t *testing.T) {
	t.Parallel()

	f := New("", nil)
	f.Publish(frame.Reading{})
	assert.Equal(t, uint64(0), f.Dropped())
	assert.Equal(t, 0, f.Clients())
}
