package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"markethours/internal/domain"
)

// Hub fans receipts out to streaming subscribers. It is registered as an
// engine observer; slow subscribers miss events rather than block calls.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Receipt
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan domain.Receipt)}
}

// ObserveReceipt broadcasts r to all subscribers.
func (h *Hub) ObserveReceipt(r *domain.Receipt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- *r:
		default:
			// Slow subscriber, drop event.
		}
	}
}

// Subscribe creates a subscription channel with the given buffer.
func (h *Hub) Subscribe(bufSize int) (id int, ch <-chan domain.Receipt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id = h.nextID
	h.nextID++
	c := make(chan domain.Receipt, bufSize)
	h.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEvents streams receipts as server-sent events until the client goes
// away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, ch := s.hub.Subscribe(64)
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.log.Info("event client subscribed", "subID", id)
	for {
		select {
		case <-r.Context().Done():
			s.log.Info("event client disconnected", "subID", id)
			return
		case rc, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rc)
			if err != nil {
				s.log.Error("encoding receipt event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: receipt\nid: %s\ndata: %s\n\n", rc.ID, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
