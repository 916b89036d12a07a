package ofconn

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

type listenerChain struct {
	// registration order
	registered []MessageListener
	// dispatch order, after applying the configured ordering
	dispatch []MessageListener
}

// listenerTable maps message types to ordered listener chains. Readers load an
// immutable snapshot without locking; writers copy the affected chain and swap
// the snapshot under mu.
type listenerTable struct {
	mu       sync.Mutex
	ordering map[MessageType][]string
	snap     atomic.Pointer[map[MessageType]listenerChain]
}

func newListenerTable(ordering map[MessageType][]string) *listenerTable {
	t := &listenerTable{ordering: make(map[MessageType][]string)}
	for typ, names := range ordering {
		t.ordering[typ] = slices.Clone(names)
	}
	empty := make(map[MessageType]listenerChain)
	t.snap.Store(&empty)
	return t
}

// effective applies the configured ordering: when one exists for typ, only the
// named listeners are dispatched to, in the configured order.
func (t *listenerTable) effective(typ MessageType, registered []MessageListener) []MessageListener {
	order, ok := t.ordering[typ]
	if !ok {
		return registered
	}
	res := make([]MessageListener, 0, len(order))
	for _, name := range order {
		idx := slices.IndexFunc(registered, func(l MessageListener) bool {
			return l.Name() == name
		})
		if idx != -1 {
			res = append(res, registered[idx])
		}
	}
	return res
}

func (t *listenerTable) update(typ MessageType, fn func([]MessageListener) []MessageListener) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := *t.snap.Load()
	registered := fn(slices.Clone(cur[typ].registered))
	next := maps.Clone(cur)
	if len(registered) == 0 {
		delete(next, typ)
	} else {
		next[typ] = listenerChain{
			registered: registered,
			dispatch:   t.effective(typ, registered),
		}
	}
	t.snap.Store(&next)
}

func (t *listenerTable) add(typ MessageType, l MessageListener) {
	t.update(typ, func(ls []MessageListener) []MessageListener {
		if slices.Contains(ls, l) {
			return ls
		}
		return append(ls, l)
	})
}

func (t *listenerTable) remove(typ MessageType, l MessageListener) {
	t.update(typ, func(ls []MessageListener) []MessageListener {
		return slices.DeleteFunc(ls, func(x MessageListener) bool {
			return x == l
		})
	})
}

// get returns the dispatch chain for typ. The returned slice must not be modified.
func (t *listenerTable) get(typ MessageType) ([]MessageListener, bool) {
	chain, ok := (*t.snap.Load())[typ]
	return chain.dispatch, ok
}
