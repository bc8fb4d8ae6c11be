// Package routegraph computes minimum travel times across the rail network
// to a single fixed destination (the Melbourne Central reference point).
package routegraph

import (
	"container/heap"
	"math"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/melbdata/enrich-cli/internal/model"
)

// ErrNoRoute is returned when the graph has no path from the origin to the
// destination. The pipeline records the travel time as missing.
var ErrNoRoute = eris.New("routegraph: no route to destination")

// Graph is a directed, non-negative-weight travel-time graph. Edges are
// fixed after Freeze; per-origin results are memoized since the destination
// never changes.
type Graph struct {
	adj  map[string][]model.EdgeTo
	dest string

	mu   sync.RWMutex
	memo map[string]float64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		adj:  make(map[string][]model.EdgeTo),
		memo: make(map[string]float64),
	}
}

// AddStation adds a station and its outgoing neighbor edges.
func (g *Graph) AddStation(st model.Station) {
	if _, ok := g.adj[st.ID]; !ok {
		g.adj[st.ID] = nil
	}
	for _, e := range st.Neighbors {
		g.AddEdge(st.ID, e.StationID, e.Minutes)
	}
}

// AddEdge adds a one-way edge. Negative weights are clamped to zero;
// travel minutes cannot be negative.
func (g *Graph) AddEdge(from, to string, minutes float64) {
	if minutes < 0 {
		minutes = 0
	}
	g.adj[from] = append(g.adj[from], model.EdgeTo{StationID: to, Minutes: minutes})
	if _, ok := g.adj[to]; !ok {
		g.adj[to] = nil
	}
}

// SetDestination pins the fixed destination node. Access edges from its
// neighboring stations must already be present (or added afterwards with
// AddEdge). Changing the destination clears the memo table.
func (g *Graph) SetDestination(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dest = id
	g.memo = make(map[string]float64)
}

// MinutesTo returns the minimum travel time in whole minutes from the
// origin station to the fixed destination. Results are cached per origin;
// concurrent first calls may both compute, and the first write wins.
func (g *Graph) MinutesTo(origin string) (int, error) {
	g.mu.RLock()
	dest := g.dest
	cached, ok := g.memo[origin]
	g.mu.RUnlock()

	if dest == "" {
		return 0, eris.New("routegraph: destination not set")
	}
	if ok {
		if math.IsInf(cached, 1) {
			return 0, eris.Wrapf(ErrNoRoute, "routegraph: origin %s", origin)
		}
		return int(math.Round(cached)), nil
	}

	if _, known := g.adj[origin]; !known {
		return 0, eris.Wrapf(ErrNoRoute, "routegraph: unknown origin %s", origin)
	}

	minutes := g.dijkstra(origin, dest)

	g.mu.Lock()
	if _, exists := g.memo[origin]; !exists {
		g.memo[origin] = minutes
	}
	g.mu.Unlock()

	if math.IsInf(minutes, 1) {
		return 0, eris.Wrapf(ErrNoRoute, "routegraph: origin %s", origin)
	}
	return int(math.Round(minutes)), nil
}

// dijkstra runs a single-source shortest path from origin, stopping as soon
// as the destination is settled. Returns +Inf when unreachable.
func (g *Graph) dijkstra(origin, dest string) float64 {
	dist := map[string]float64{origin: 0}
	settled := make(map[string]bool)

	pq := &minQueue{{id: origin, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*queueItem)
		if settled[cur.id] {
			continue
		}
		settled[cur.id] = true

		if cur.id == dest {
			return cur.dist
		}

		for _, e := range g.adj[cur.id] {
			next := cur.dist + e.Minutes
			if prev, seen := dist[e.StationID]; !seen || next < prev {
				dist[e.StationID] = next
				heap.Push(pq, &queueItem{id: e.StationID, dist: next})
			}
		}
	}

	return math.Inf(1)
}

type queueItem struct {
	id   string
	dist float64
}

type minQueue []*queueItem

func (q minQueue) Len() int           { return len(q) }
func (q minQueue) Less(i, j int) bool { return q[i].dist < q[j].dist }
func (q minQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minQueue) Push(x any)        { *q = append(*q, x.(*queueItem)) }
func (q *minQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
