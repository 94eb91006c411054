package discovery

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"

	"QualityMarker/internal/domain"
)

// StatusTable is a side-table of per-card pipeline status keyed by element
// identity. Entries disappear once the element is garbage collected, so a
// re-rendered card is a fresh, unseen element.
type StatusTable struct {
	mu      sync.Mutex
	entries map[weak.Pointer[html.Node]]domain.CardStatus
	gen     uint64
}

// NewStatusTable creates an empty table.
func NewStatusTable() *StatusTable {
	return &StatusTable{entries: map[weak.Pointer[html.Node]]domain.CardStatus{}}
}

// Get returns the status of n; untracked nodes are unseen.
func (t *StatusTable) Get(n *html.Node) domain.CardStatus {
	if n == nil {
		return domain.StatusUnseen
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if status, ok := t.entries[weak.Make(n)]; ok {
		return status
	}
	return domain.StatusUnseen
}

// Set records status for n.
func (t *StatusTable) Set(n *html.Node, status domain.CardStatus) {
	if n == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(n, status)
}

// Advance moves n from one status to another and reports whether it did.
func (t *StatusTable) Advance(n *html.Node, from, to domain.CardStatus) bool {
	if n == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.entries[weak.Make(n)]
	if !ok {
		current = domain.StatusUnseen
	}
	if current != from {
		return false
	}
	t.set(n, to)
	return true
}

func (t *StatusTable) set(n *html.Node, status domain.CardStatus) {
	key := weak.Make(n)
	if _, ok := t.entries[key]; !ok {
		gen := t.gen
		runtime.AddCleanup(n, func(k weak.Pointer[html.Node]) {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.gen == gen {
				delete(t.entries, k)
			}
		}, key)
	}
	t.entries[key] = status
}

// Len returns the number of tracked nodes.
func (t *StatusTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset forgets every tracked node.
func (t *StatusTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = map[weak.Pointer[html.Node]]domain.CardStatus{}
	t.gen++
}
