// Package routing computes shortest paths between switches over the
// discovered link graph and caches the resulting routes.
package routing

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/encodeous/nyflow/state"
	"github.com/jellydator/ttlcache/v3"
)

// Datapath is anything that carries a switch identity, such as a connected switch handle
type Datapath interface {
	Id() state.SwitchId
}

// Engine keeps the link graph, the next-hop tables derived from it and an
// LRU cache of assembled routes. All state is guarded by a single RW lock:
// graph updates take it exclusively, route queries share it.
type Engine struct {
	mu  sync.RWMutex
	log *slog.Logger

	maxPathWeight int
	// node -> local port -> outgoing link
	network map[state.SwitchId]map[uint32]state.Link
	// root -> node -> last link on the shortest path from root to node
	nextHopLinks map[state.SwitchId]map[state.SwitchId]state.Link
	// root -> node -> predecessor of node on that path
	nextHopNodes map[state.SwitchId]map[state.SwitchId]state.SwitchId

	// a nil value caches a negative result
	cache *ttlcache.Cache[state.RouteId, *state.Route]
}

type Option func(e *Engine)

// WithCacheSize bounds the number of cached routes
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cache = newRouteCache(n)
	}
}

func WithMaxPathWeight(w int) Option {
	return func(e *Engine) {
		e.maxPathWeight = w
	}
}

func newRouteCache(n int) *ttlcache.Cache[state.RouteId, *state.Route] {
	return ttlcache.New[state.RouteId, *state.Route](
		ttlcache.WithCapacity[state.RouteId, *state.Route](uint64(max(n, 1))),
		ttlcache.WithTTL[state.RouteId, *state.Route](ttlcache.NoTTL),
	)
}

func NewEngine(log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		log:           log,
		maxPathWeight: state.MaxPathWeight,
		network:       make(map[state.SwitchId]map[uint32]state.Link),
		nextHopLinks:  make(map[state.SwitchId]map[state.SwitchId]state.Link),
		nextHopNodes:  make(map[state.SwitchId]map[state.SwitchId]state.SwitchId),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = newRouteCache(state.PathCacheSize)
	}
	return e
}

// Update adds or removes the directed link src:srcPort -> dstPort:dst and
// recomputes every next-hop table if the graph changed.
func (e *Engine) Update(src state.SwitchId, srcPort uint32, dst state.SwitchId, dstPort uint32, added bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	for _, node := range []state.SwitchId{src, dst} {
		if _, ok := e.network[node]; !ok {
			e.network[node] = make(map[uint32]state.Link)
			changed = true
		}
	}
	ports := e.network[src]
	link := state.Link{Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort}

	if added {
		if old, inUse := ports[srcPort]; inUse && old != link {
			e.log.Debug("replacing link on port already in use", "old", old, "new", link)
		}
		if ports[srcPort] != link {
			changed = true
		}
		ports[srcPort] = link
	} else if old, inUse := ports[srcPort]; inUse && old.Dst == dst {
		delete(ports, srcPort)
		changed = true
	}

	if changed {
		e.recompute()
	}
}

// LinkUpdate is Update for switch handles
func (e *Engine) LinkUpdate(src, dst Datapath, srcPort, dstPort uint32, added bool) {
	e.Update(src.Id(), srcPort, dst.Id(), dstPort, added)
}

// recompute must be called with the write lock held
func (e *Engine) recompute() {
	e.cache.DeleteAll()
	clear(e.nextHopLinks)
	clear(e.nextHopNodes)

	for root := range e.network {
		links, nodes := e.dijkstra(root)
		e.nextHopLinks[root] = links
		e.nextHopNodes[root] = nodes
	}
}

// GetRoute returns the shortest route from src to dst. A route from a
// switch to itself is always found and has an empty path.
func (e *Engine) GetRoute(src, dst state.SwitchId) (*state.Route, bool) {
	id := state.RouteId{Src: src, Dst: dst}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if item := e.cache.Get(id); item != nil {
		r := item.Value()
		return r, r != nil
	}

	r := e.buildRoute(id)
	// writers hold the exclusive lock while clearing, so this insert can never outlive its graph
	e.cache.Set(id, r, ttlcache.NoTTL)
	return r, r != nil
}

// GetRouteBetween is GetRoute for switch handles
func (e *Engine) GetRouteBetween(src, dst Datapath) (*state.Route, bool) {
	return e.GetRoute(src.Id(), dst.Id())
}

// buildRoute walks the tables rooted at src backwards from dst
func (e *Engine) buildRoute(id state.RouteId) *state.Route {
	if id.Src == id.Dst {
		return &state.Route{Id: id, Path: []state.Link{}}
	}
	links, ok := e.nextHopLinks[id.Src]
	if !ok {
		return nil
	}
	if _, ok := links[id.Dst]; !ok {
		return nil
	}
	nodes := e.nextHopNodes[id.Src]

	path := make([]state.Link, 0)
	cur := id.Dst
	for cur != id.Src {
		link, ok := links[cur]
		if !ok {
			e.log.Error("next-hop table is missing an intermediate node", "route", id, "node", cur)
			return nil
		}
		path = append(path, link)
		cur = nodes[cur]
		if len(path) > len(links) {
			e.log.Error("next-hop table contains a loop", "route", id)
			return nil
		}
	}
	slices.Reverse(path)
	return &state.Route{Id: id, Path: path}
}

// RouteExists reports whether dst is reachable from src without assembling the route
func (e *Engine) RouteExists(src, dst state.SwitchId) bool {
	if src == dst {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	links, ok := e.nextHopLinks[src]
	if !ok {
		return false
	}
	_, ok = links[dst]
	return ok
}

// Clear drops the graph, every next-hop table and the route cache
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.network)
	clear(e.nextHopLinks)
	clear(e.nextHopNodes)
	e.cache.DeleteAll()
}

// Links returns every link in the graph, ordered by source switch and port
func (e *Engine) Links() []state.Link {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res := make([]state.Link, 0)
	for _, src := range slices.Sorted(maps.Keys(e.network)) {
		ports := e.network[src]
		for _, port := range slices.Sorted(maps.Keys(ports)) {
			res = append(res, ports[port])
		}
	}
	return res
}

// Nodes returns every switch known to the graph, including ones without links
func (e *Engine) Nodes() []state.SwitchId {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Sorted(maps.Keys(e.network))
}

func (e *Engine) CacheLen() int {
	return e.cache.Len()
}
