package dispatch

import (
	"sync"

	"droneops-fleet/internal/command"
)

// history remembers the latest state of the most recent commands of one
// drone. Reads happen from outside the worker.
type history struct {
	mu    sync.Mutex
	limit int
	order []string
	byID  map[string]command.Command
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 256
	}
	return &history{limit: limit, byID: make(map[string]command.Command)}
}

func (h *history) record(c command.Command) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byID[c.ID]; !ok {
		h.order = append(h.order, c.ID)
		if len(h.order) > h.limit {
			delete(h.byID, h.order[0])
			h.order = h.order[1:]
		}
	}
	h.byID[c.ID] = c
}

func (h *history) get(id string) (command.Command, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.byID[id]
	return c, ok
}

func (h *history) list() []command.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]command.Command, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.byID[id])
	}
	return out
}
