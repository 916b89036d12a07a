package routing

import (
	"container/heap"
	"maps"
	"slices"

	"github.com/encodeous/nyflow/state"
)

type nodeDist struct {
	node state.SwitchId
	dist int
}

// distQueue is a min-heap on distance, ties broken by switch id
type distQueue []nodeDist

func (q distQueue) Len() int { return len(q) }
func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node < q[j].node
}
func (q distQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *distQueue) Push(x any)   { *q = append(*q, x.(nodeDist)) }
func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// linkCost is the weight of a single link. All links currently cost the same.
func linkCost(state.Link) int {
	return 1
}

// dijkstra computes the shortest path tree rooted at root. For every reachable
// node it returns the last link on the path and the predecessor node.
// Must be called with the write lock held.
func (e *Engine) dijkstra(root state.SwitchId) (map[state.SwitchId]state.Link, map[state.SwitchId]state.SwitchId) {
	links := make(map[state.SwitchId]state.Link)
	nodes := make(map[state.SwitchId]state.SwitchId)
	dist := map[state.SwitchId]int{root: 0}
	seen := make(map[state.SwitchId]bool)

	q := &distQueue{{root, 0}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(nodeDist)
		if cur.dist >= e.maxPathWeight {
			break
		}
		if seen[cur.node] {
			continue
		}
		seen[cur.node] = true

		ports := e.network[cur.node]
		for _, port := range slices.Sorted(maps.Keys(ports)) {
			link := ports[port]
			ndist := cur.dist + linkCost(link)
			if ndist >= e.maxPathWeight {
				continue
			}
			if d, ok := dist[link.Dst]; ok && d <= ndist {
				continue
			}
			dist[link.Dst] = ndist
			links[link.Dst] = link
			nodes[link.Dst] = cur.node
			heap.Push(q, nodeDist{link.Dst, ndist})
		}
	}
	return links, nodes
}
