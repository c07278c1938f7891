package app

import (
	"sort"
	"sync"

	"github.com/dshills/pluginstore/internal/logging"
	"github.com/dshills/pluginstore/internal/plugin"
)

// Board keeps the latest widget update per plugin and kind. It stands in
// for the widgets a desktop host would render.
type Board struct {
	mu     sync.RWMutex
	latest map[string]map[string]plugin.Update
	count  int
	log    *logging.Logger
}

// NewBoard creates an empty board.
func NewBoard(log *logging.Logger) *Board {
	return &Board{latest: make(map[string]map[string]plugin.Update), log: log}
}

// Publish stores u, replacing the previous update of the same kind.
func (b *Board) Publish(u plugin.Update) {
	b.mu.Lock()
	kinds, ok := b.latest[u.Plugin]
	if !ok {
		kinds = make(map[string]plugin.Update)
		b.latest[u.Plugin] = kinds
	}
	kinds[u.Kind] = u
	b.count++
	b.mu.Unlock()

	b.log.Debug("update %s/%s: %v", u.Plugin, u.Kind, u.Data)
}

// Latest returns the last update of kind from plugin id.
func (b *Board) Latest(id, kind string) (plugin.Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.latest[id][kind]
	return u, ok
}

// Snapshot returns the latest updates of every plugin, ordered by plugin
// then kind.
func (b *Board) Snapshot() []plugin.Update {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []plugin.Update
	for _, kinds := range b.latest {
		for _, u := range kinds {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Plugin != out[j].Plugin {
			return out[i].Plugin < out[j].Plugin
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Count returns how many updates were published.
func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}
