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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/logging"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub(logging.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub, cancel
}

func TestHubDeliversToClients(t *testing.T) {
	hub, _ := startHub(t)
	a := NewClient("a", hub, nil)
	b := NewClient("b", hub, nil)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	e := events.New(events.SyncCompleted, "teams")
	require.True(t, hub.Broadcast(e))

	for _, c := range []*Client{a, b} {
		select {
		case got := <-c.send:
			assert.Equal(t, e.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatalf("client %s got nothing", c.ID())
		}
	}
}

func TestHubDisconnectsSlowClient(t *testing.T) {
	hub, _ := startHub(t)
	slow := NewClient("slow", hub, nil)
	require.True(t, hub.Register(slow))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	for range clientBuffer + 1 {
		for !hub.Broadcast(events.New(events.SyncProgress, "teams")) {
			time.Sleep(time.Millisecond)
		}
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	n := 0
	for range slow.send {
		n++
	}
	assert.Equal(t, clientBuffer, n, "buffered events stay readable after the channel closes")
}

func TestHubStopClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	c := NewClient("c", hub, nil)
	require.True(t, hub.Register(c))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case _, ok := <-c.send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client channel not closed")
	}
	<-hub.done
	assert.False(t, hub.Register(NewClient("late", hub, nil)))
}

func TestClientPumpsOverRealConnection(t *testing.T) {
	hub, _ := startHub(t)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient("remote", hub, conn)
		if !hub.Register(c) {
			_ = conn.Close()
			return
		}
		go c.WritePump()
		go c.ReadPump()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	e := events.New(events.SyncError, "teams").WithError(assert.AnError)
	require.True(t, hub.Broadcast(e))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, events.SyncError, got.Type)
	assert.Equal(t, assert.AnError.Error(), got.Error)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
