package wayfinding

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
)

// WalkingSpeed is the assumed walking pace in meters per minute
const WalkingSpeed = 80.0

// ErrInvalidLocation indicates a location code that is not in the graph
var ErrInvalidLocation = errors.New("invalid location")

// Route is the result of a path query. An unreachable destination is a
// valid result with Reachable false, an empty path and zero distance.
type Route struct {
	Distance      float64
	Path          []string
	Reachable     bool
	EstimatedTime int
}

// FindPath returns the minimum-distance route between two locations
func FindPath(g *Graph, start, end string) (*Route, error) {
	if !g.Has(start) {
		return nil, fmt.Errorf("%w: start %q", ErrInvalidLocation, start)
	}
	if !g.Has(end) {
		return nil, fmt.Errorf("%w: end %q", ErrInvalidLocation, end)
	}
	if start == end {
		return &Route{Path: []string{start}, Reachable: true}, nil
	}

	dist, prev := shortestPaths(g, start, end)
	if _, ok := prev[end]; !ok {
		return &Route{Path: []string{}}, nil
	}

	var path []string
	for cur := end; ; cur = prev[cur] {
		path = append(path, cur)
		if cur == start {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	d := dist[end]
	return &Route{
		Distance:      d,
		Path:          path,
		Reachable:     true,
		EstimatedTime: EstimateMinutes(d),
	}, nil
}

// EstimateMinutes converts a walking distance to whole minutes, never less
// than one. Half minutes round to even, so 200 m is 2 minutes.
func EstimateMinutes(distance float64) int {
	return max(1, int(math.RoundToEven(distance/WalkingSpeed)))
}

// shortestPaths runs Dijkstra from start and stops once end is settled.
// prev holds the predecessor of every improved vertex.
func shortestPaths(g *Graph, start, end string) (map[string]float64, map[string]string) {
	dist := make(map[string]float64, g.Len())
	for code := range g.locations {
		dist[code] = math.Inf(1)
	}
	dist[start] = 0
	prev := make(map[string]string)

	frontier := &frontierQueue{}
	var seq uint64
	heap.Push(frontier, frontierItem{code: start, dist: 0, seq: seq})

	for frontier.Len() > 0 {
		cur := heap.Pop(frontier).(frontierItem)
		if cur.dist > dist[cur.code] {
			continue // stale
		}
		if cur.code == end {
			break
		}
		for _, a := range g.adjacency[cur.code] {
			if !usable(a.weight) {
				continue
			}
			next := cur.dist + a.weight
			if next < dist[a.to] {
				dist[a.to] = next
				prev[a.to] = cur.code
				seq++
				heap.Push(frontier, frontierItem{code: a.to, dist: next, seq: seq})
			}
		}
	}
	return dist, prev
}

type frontierItem struct {
	code string
	dist float64
	seq  uint64
}

// frontierQueue is a min-heap by tentative distance, ties by insertion order
type frontierQueue []frontierItem

func (q frontierQueue) Len() int { return len(q) }

func (q frontierQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].seq < q[j].seq
}

func (q frontierQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *frontierQueue) Push(x any) { *q = append(*q, x.(frontierItem)) }

func (q *frontierQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
