package api

import "sync"

// hub fans stream messages out to subscribers. Slow subscribers miss messages
// rather than blocking the engine.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan []byte
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan []byte)}
}

func (h *hub) subscribe() (int, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan []byte, 64)
	if h.closed {
		close(ch)
		return h.next, ch
	}
	h.subs[h.next] = ch
	return h.next, ch
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) publish(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// size returns the number of live subscribers.
func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
