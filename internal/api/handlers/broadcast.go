package handlers

import (
	"sync"

	"minder/internal/models"
)

// Broadcaster fans fresh decision sets out to connected watchers so
// clients can replace their snapshot without polling.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan []models.RuleStatus]struct{}
}

// NewBroadcaster creates a Broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[chan []models.RuleStatus]struct{}),
	}
}

// Subscribe registers a watcher for a user. The returned cancel func must
// be called to release the subscription.
func (b *Broadcaster) Subscribe(userID string) (<-chan []models.RuleStatus, func()) {
	ch := make(chan []models.RuleStatus, 8)

	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan []models.RuleStatus]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(b.subs, userID)
			}
		}
	}
	return ch, cancel
}

// Notify pushes a decision set to every watcher of the user. Slow
// watchers are skipped rather than blocked on; they will catch up on
// their next refresh.
func (b *Broadcaster) Notify(userID string, statuses []models.RuleStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[userID] {
		select {
		case ch <- statuses:
		default:
		}
	}
}
