package settings

import "sync"

// Observer is called with the changes of one Update.
type Observer func(changes Changes)

type subscription struct {
	fn   Observer
	keys []string
}

// Notifier fans Update results out to observers. Delivery is synchronous,
// on the goroutine that called Update.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uint64]subscription)}
}

func (n *Notifier) subscribe(fn Observer, keys []string) func() {
	if fn == nil {
		return func() {}
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = subscription{fn: fn, keys: append([]string(nil), keys...)}
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *Notifier) notify(changes Changes) {
	n.mu.RLock()
	subs := make([]subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	for _, s := range subs {
		if len(s.keys) > 0 && !changes.Has(s.keys...) {
			continue
		}
		s.fn(changes)
	}
}
