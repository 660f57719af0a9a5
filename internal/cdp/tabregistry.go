package cdp

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// Tab is a page target the worker has attached to.
type Tab struct {
	ID         target.ID
	URL        string
	AttachedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// TabRegistry maps CDP target IDs to attached tabs.
type TabRegistry struct {
	tabs map[target.ID]*Tab
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*Tab)}
}

// Add records tab, replacing and cancelling any previous attachment.
func (r *TabRegistry) Add(tab *Tab) {
	r.mu.Lock()
	prev := r.tabs[tab.ID]
	r.tabs[tab.ID] = tab
	r.mu.Unlock()
	if prev != nil && prev.cancel != nil {
		prev.cancel()
	}
}

func (r *TabRegistry) Get(id target.ID) (*Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	return tab, ok
}

func (r *TabRegistry) Has(id target.ID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *TabRegistry) Remove(id target.ID) {
	r.mu.Lock()
	tab := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()
	if tab != nil && tab.cancel != nil {
		tab.cancel()
	}
}

// Prune detaches every tab whose id is not in live and returns the ids
// removed.
func (r *TabRegistry) Prune(live []target.ID) []target.ID {
	keep := make(map[target.ID]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}

	r.mu.Lock()
	var gone []*Tab
	for id, tab := range r.tabs {
		if _, ok := keep[id]; !ok {
			delete(r.tabs, id)
			gone = append(gone, tab)
		}
	}
	r.mu.Unlock()

	ids := make([]target.ID, 0, len(gone))
	for _, tab := range gone {
		if tab.cancel != nil {
			tab.cancel()
		}
		ids = append(ids, tab.ID)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// Clear detaches every tab.
func (r *TabRegistry) Clear() {
	r.Prune(nil)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
