package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/rallysync/pkg/events"
	"github.com/agentstation/rallysync/pkg/logging"
)

func open(ctx context.Context, t *testing.T, url string) *bufio.Scanner {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return bufio.NewScanner(resp.Body)
}

// next returns the next event's field lines.
func next(s *bufio.Scanner) []string {
	var fields []string
	for s.Scan() {
		line := s.Text()
		switch {
		case line == "" && len(fields) > 0:
			return fields
		case line == "" || strings.HasPrefix(line, ":"):
		default:
			fields = append(fields, line)
		}
	}
	return fields
}

func TestBroadcasterStreamsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroadcaster(logging.NewNopLogger())
	go b.Run(ctx)
	srv := httptest.NewServer(b)
	defer srv.Close()
	// Close waits for open streams, so hang up before it runs.
	reqCtx, reqCancel := context.WithCancel(ctx)
	defer reqCancel()

	all := open(reqCtx, t, srv.URL)
	players := open(reqCtx, t, srv.URL+"?collection=players")
	require.Eventually(t, func() bool { return b.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	teams := events.New(events.SyncStarted, "teams")
	pl := events.New(events.SyncCompleted, "players")
	require.True(t, b.Broadcast(teams))
	require.True(t, b.Broadcast(pl))

	got := next(all)
	require.Len(t, got, 3)
	assert.Equal(t, "id: "+teams.ID.String(), got[0])
	assert.Equal(t, "event: sync-started", got[1])
	assert.Contains(t, got[2], `"collection":"teams"`)

	got = next(players)
	require.Len(t, got, 3)
	assert.Equal(t, "event: sync-completed", got[1])
}

func TestBroadcasterDisconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBroadcaster(logging.NewNopLogger())
	go b.Run(ctx)
	srv := httptest.NewServer(b)
	defer srv.Close()

	reqCtx, reqCancel := context.WithCancel(context.Background())
	defer reqCancel()
	_ = open(reqCtx, t, srv.URL)
	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	reqCancel()
	require.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	<-b.done
	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
