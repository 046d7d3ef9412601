package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"lendmigrate/core/events"
	"lendmigrate/core/types"
	"lendmigrate/observability"
)

const wsWriteTimeout = 10 * time.Second

// Hub fans committed events out to websocket subscribers. Slow subscribers
// lose events rather than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan *types.Event
	next   int
	buffer int
}

// NewHub returns a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan *types.Event), buffer: buffer}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	h.Publish(rendered)
}

// Publish delivers an already rendered event.
func (h *Hub) Publish(evt *types.Event) {
	metrics := observability.Events()
	metrics.RecordPublished(evt.Type)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt.Clone():
		default:
			metrics.RecordDropped()
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called to release it.
func (h *Hub) Subscribe() (<-chan *types.Event, func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan *types.Event, h.buffer)
	h.subs[id] = ch
	h.mu.Unlock()
	observability.Events().AddSubscribers(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
			observability.Events().AddSubscribers(-1)
		})
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// The client never sends; CloseRead surfaces disconnects through ctx.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
