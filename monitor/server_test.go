package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial2mqtt/txmap"
)

func newTestServer(t *testing.T, connected bool) (*Server, *txmap.Map, *httptest.Server) {
	t.Helper()
	tx := txmap.New()
	s := New(tx, func() Status {
		return Status{Connected: connected, Lines: 3, Published: 2, Dropped: 1}
	}, zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, tx, ts
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestTransmitters(t *testing.T) {
	_, tx, ts := newTestServer(t, true)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tx.Seen("espnow/ESP1", "TX_NAME", at)
	tx.Seen("ESP0", "TX_NAME", at)

	var list []txmap.Entry
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/transmitters", &list))
	require.Len(t, list, 2)
	assert.Equal(t, "ESP0", list[0].Topic)

	var e txmap.Entry
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/transmitters/espnow/ESP1", &e))
	assert.Equal(t, uint64(1), e.Published)
	assert.True(t, at.Equal(e.LastSeen))

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/transmitters/nope", nil))
}

func TestStats(t *testing.T) {
	_, tx, ts := newTestServer(t, true)
	tx.Dropped("invalid_json")
	tx.Seen("ESP1", "TX_NAME", time.Now())

	var got map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/stats", &got))
	assert.Equal(t, true, got["connected"])
	assert.EqualValues(t, 2, got["published"])
	assert.EqualValues(t, 1, got["transmitters"])
	assert.Equal(t, map[string]any{"invalid_json": float64(1)}, got["drops"])
}

func TestHealth(t *testing.T) {
	_, _, up := newTestServer(t, true)
	assert.Equal(t, http.StatusOK, getJSON(t, up.URL+"/healthz", nil))

	_, _, down := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, down.URL+"/healthz", nil))
}

func TestWebsocketFeed(t *testing.T) {
	s, _, ts := newTestServer(t, true)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.count() == 1 }, time.Second, 10*time.Millisecond)

	s.Broadcast(Event{
		Time:      time.Now(),
		Topic:     "ESP1",
		Payload:   json.RawMessage(`{"t":20.1}`),
		Published: true,
	})
	s.Broadcast(Event{Time: time.Now(), Kind: "invalid_json", Error: "decoder: line is not a JSON object"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "ESP1", ev.Topic)
	assert.JSONEq(t, `{"t":20.1}`, string(ev.Payload))
	assert.True(t, ev.Published)

	require.NoError(t, conn.ReadJSON(&ev))
	assert.False(t, ev.Published)
	assert.Equal(t, "invalid_json", ev.Kind)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubSkipsSlowClients(t *testing.T) {
	h := newHub()
	h.register()
	for i := 0; i < clientBuffer; i++ {
		assert.Zero(t, h.broadcast([]byte("x")))
	}
	assert.Equal(t, 1, h.broadcast([]byte("x")))
}

func TestListenAndServeShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	s := New(txmap.New(), func() Status { return Status{} }, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/stats")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
