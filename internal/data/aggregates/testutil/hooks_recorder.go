package testutil

import (
	"sync"
	"time"

	"github.com/MusicMeister52/hunter2-sub000/internal/data/aggregates"
)

// Hooks records aggregate signals per operation name.
type Hooks struct {
	mu        sync.Mutex
	statuses  map[string][]string
	conflicts map[string]int
	retries   map[string]int
}

var _ aggregates.Hooks = (*Hooks)(nil)

func NewHooks() *Hooks {
	return &Hooks{
		statuses:  map[string][]string{},
		conflicts: map[string]int{},
		retries:   map[string]int{},
	}
}

func (h *Hooks) ObserveOperation(name, status string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses[name] = append(h.statuses[name], status)
}

func (h *Hooks) IncConflict(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts[name]++
}

func (h *Hooks) IncRetry(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries[name]++
}

// Statuses lists the outcomes observed for op, in order.
func (h *Hooks) Statuses(op string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses[op]...)
}

func (h *Hooks) Conflicts(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conflicts[op]
}

func (h *Hooks) Retries(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retries[op]
}
