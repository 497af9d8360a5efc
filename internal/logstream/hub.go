// Package logstream moves run output: durable rows in Postgres for replay,
// plus an in-process hub fanning live lines out to SSE subscribers.
package logstream

import (
	"sync"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

// subscriberBuffer bounds each subscriber's queue. A consumer that falls this
// far behind loses lines on the live stream; the durable rows still have them.
const subscriberBuffer = 256

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.LogLine]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.LogLine]struct{})}
}

// Subscribe returns a channel of live lines for the run and a cancel func the
// caller must invoke when done.
func (h *Hub) Subscribe(runID string) (<-chan domain.LogLine, func()) {
	ch := make(chan domain.LogLine, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan domain.LogLine]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[runID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers lines to every live subscriber without blocking: a full
// subscriber queue drops the line rather than stalling ingestion.
func (h *Hub) Publish(runID string, lines []domain.LogLine) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[runID]
	if !ok {
		return
	}
	for ch := range set {
		for _, line := range lines {
			select {
			case ch <- line:
			default:
			}
		}
	}
}

// SubscriberCount reports live subscribers for a run; used by metrics.
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[runID])
}
