// Package sse streams sync events as Server-Sent Events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/rallysync/pkg/events"
)

const clientBuffer = 64

// Broadcaster fans sync events out to connected SSE streams. A stream that
// cannot keep up misses events; it is not disconnected.
type Broadcaster struct {
	clients map[chan events.Event]struct{}
	join    chan chan events.Event
	leave   chan chan events.Event
	events  chan events.Event
	done    chan struct{}
	mu      sync.RWMutex
	logger  *zerolog.Logger
}

// NewBroadcaster creates a broadcaster. Call Run before serving streams.
func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan events.Event]struct{}),
		join:    make(chan chan events.Event, 16),
		leave:   make(chan chan events.Event, 16),
		events:  make(chan events.Event, 256),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run serves joins and broadcasts until ctx is done, then ends every open
// stream.
func (b *Broadcaster) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for c := range b.clients {
				close(c)
				delete(b.clients, c)
			}
			b.mu.Unlock()
			b.logger.Debug().Msg("SSE broadcaster stopped")
			return

		case c := <-b.join:
			b.mu.Lock()
			b.clients[c] = struct{}{}
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Info().Int("total_clients", total).Msg("SSE client connected")

		case c := <-b.leave:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c)
			}
			total := len(b.clients)
			b.mu.Unlock()
			b.logger.Info().Int("total_clients", total).Msg("SSE client disconnected")

		case e := <-b.events:
			b.mu.RLock()
			for c := range b.clients {
				select {
				case c <- e:
				default:
					b.logger.Warn().Str("collection", e.Collection).Msg("SSE client buffer full, event skipped")
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Broadcast queues e for every stream without blocking.
func (b *Broadcaster) Broadcast(e events.Event) bool {
	select {
	case b.events <- e:
		return true
	default:
		b.logger.Warn().Str("collection", e.Collection).Msg("SSE broadcast queue full, event dropped")
		return false
	}
}

// ClientCount returns the number of open streams.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP holds the connection open and writes one SSE message per sync
// event. The optional collection query parameter narrows the stream to
// one collection.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	only := r.URL.Query().Get("collection")

	c := make(chan events.Event, clientBuffer)
	select {
	case <-b.done:
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	default:
	}
	select {
	case b.join <- c:
	case <-b.done:
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		select {
		case b.leave <- c:
		case <-b.done:
		}
	}()

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case e, ok := <-c:
			if !ok {
				return
			}
			if only != "" && e.Collection != only {
				continue
			}
			if err := b.write(w, e); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (b *Broadcaster) write(w http.ResponseWriter, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to encode sync event")
		return nil
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
	return err
}
