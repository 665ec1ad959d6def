package session

import (
	"sync"
	"time"

	"sealbox/go-core/pkg/models"
)

// Hub fans session state changes out to subscribers. Events are
// sequence-numbered and a bounded history is kept so reconnecting
// subscribers can replay what they missed. Subscribers that stop draining
// their channel are dropped rather than allowed to block publishers.
type Hub struct {
	mu      sync.Mutex
	nextSeq uint64
	limit   int
	history []models.SessionChange
	subs    map[int]chan models.SessionChange
	nextSub int
}

func NewHub(limit int) *Hub {
	if limit < 1 {
		limit = 1
	}
	return &Hub{
		limit: limit,
		subs:  make(map[int]chan models.SessionChange),
	}
}

func (h *Hub) Publish(state models.SessionPhase, username, reason string, at time.Time) models.SessionChange {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := models.SessionChange{
		Seq:      h.nextSeq,
		State:    state,
		Username: username,
		Reason:   reason,
		At:       at.UTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]models.SessionChange(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}

	return event
}

// Subscribe returns the buffered history newer than fromSeq, a live event
// channel, and a cancel func. Cancel is safe to call more than once.
func (h *Hub) Subscribe(fromSeq uint64) ([]models.SessionChange, <-chan models.SessionChange, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]models.SessionChange, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan models.SessionChange, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *Hub) Backlog() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
