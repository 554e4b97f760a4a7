package feed

import "sync"

type subscription struct {
	ch chan []byte
}

// hub fans frames out to websocket subscribers of one channel address.
// Broadcast never blocks: a subscriber with a full buffer misses frames,
// matching the feed's latest-value-wins contract.
type hub struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*subscription]struct{})}
}

func (h *hub) subscribe(buffer int) *subscription {
	sub := &subscription{ch: make(chan []byte, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- frame:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
