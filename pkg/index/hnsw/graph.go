package hnsw

import (
	"math"
	"math/rand"

	"github.com/fletchdb/fletch/pkg/vectortypes"
)

// node is a single graph member. Nodes live in an append-only arena and are
// referenced by their uint32 handle; a nil slot marks a deleted node.
type node struct {
	id     string
	vector vectortypes.F32
	// neighbors[l] is the adjacency list at layer l, 0 <= l <= level.
	neighbors [][]uint32
	level     int
}

// graph holds the layered proximity structure. It is not safe for
// concurrent use; the owning Index serializes access.
type graph struct {
	nodes      []*node
	entryPoint int // arena handle, -1 when empty
	maxLevel   int
	count      int
	cfg        Config
	distFunc   vectortypes.DistanceFunc
	rng        *rand.Rand
}

func newGraph(distType vectortypes.DistanceType, cfg Config, seed int64) *graph {
	return &graph{
		entryPoint: -1,
		cfg:        cfg,
		distFunc:   vectortypes.GetDistanceFuncByType(distType),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// randomLevel draws a layer from the geometric distribution with parameter
// 1/ln(m), clamped to maxLayers-1.
func (g *graph) randomLevel() int {
	u := 1 - g.rng.Float64() // (0, 1]
	level := int(math.Floor(-math.Log(u) * g.cfg.ml))
	if level > g.cfg.MaxLayers-1 {
		level = g.cfg.MaxLayers - 1
	}
	return level
}

func (g *graph) distanceTo(query vectortypes.F32, handle uint32) float32 {
	return g.distFunc(query, g.nodes[handle].vector)
}

// searchLayer runs the layer-local best-first search (Algorithm 2). It
// maintains a min-heap frontier of candidates to explore and a max-heap of
// the ef nearest found, and stops when the closest unexplored candidate is
// farther than the worst kept result.
func (g *graph) searchLayer(query vectortypes.F32, entry uint32, ef, layer int) []neighbor {
	visited := map[uint32]struct{}{entry: {}}
	candidates := newMinQueue()
	results := newMaxQueue()

	dist := g.distanceTo(query, entry)
	candidates.Push(neighbor{handle: entry, distance: dist})
	results.Push(neighbor{handle: entry, distance: dist})

	for candidates.Len() > 0 {
		c, _ := candidates.Pop()

		worst, _ := results.Top()
		if c.distance > worst.distance {
			break
		}

		n := g.nodes[c.handle]
		if n == nil || layer >= len(n.neighbors) {
			continue
		}

		for _, nh := range n.neighbors[layer] {
			if _, seen := visited[nh]; seen {
				continue
			}
			visited[nh] = struct{}{}

			if g.nodes[nh] == nil {
				continue
			}

			d := g.distanceTo(query, nh)
			worst, _ := results.Top()
			if d < worst.distance || results.Len() < ef {
				candidates.Push(neighbor{handle: nh, distance: d})
				results.PushBounded(neighbor{handle: nh, distance: d}, ef)
			}
		}
	}

	return results.Sorted()
}

// greedyDescend walks layers top..bottom+1 with ef=1, moving to whichever
// neighbor improves the distance until none does.
func (g *graph) greedyDescend(query vectortypes.F32, entry uint32, top, bottom int) uint32 {
	current := entry
	for layer := top; layer > bottom; layer-- {
		if nearest := g.searchLayer(query, current, 1, layer); len(nearest) > 0 {
			current = nearest[0].handle
		}
	}
	return current
}

// selectNeighbors applies the heuristic pruning pass: candidates are taken
// best-first and kept only when they are closer to the base vector than to
// any neighbor already kept. The diversity this buys is what preserves
// long-range shortcuts in the graph.
func (g *graph) selectNeighbors(base vectortypes.F32, candidates []neighbor, m int) []uint32 {
	selected := make([]uint32, 0, m)

	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		if g.nodes[c.handle] == nil {
			continue
		}

		keep := true
		for _, s := range selected {
			if g.distFunc(g.nodes[c.handle].vector, g.nodes[s].vector) < c.distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c.handle)
		}
	}

	return selected
}

// pruneNeighbors re-runs the heuristic over an overflowing adjacency list
// and trims it to m entries.
func (g *graph) pruneNeighbors(handle uint32, layer, m int) {
	n := g.nodes[handle]
	if n == nil || layer >= len(n.neighbors) {
		return
	}

	scored := newMinQueue()
	for _, nh := range n.neighbors[layer] {
		if g.nodes[nh] == nil {
			continue
		}
		scored.Push(neighbor{handle: nh, distance: g.distFunc(n.vector, g.nodes[nh].vector)})
	}

	n.neighbors[layer] = g.selectNeighbors(n.vector, scored.Sorted(), m)
}

// insert adds a vector under a fresh handle (Algorithm 1) and returns it.
func (g *graph) insert(id string, vector vectortypes.F32) uint32 {
	level := g.randomLevel()

	handle := uint32(len(g.nodes))
	n := &node{
		id:        id,
		vector:    vector,
		neighbors: make([][]uint32, level+1),
		level:     level,
	}
	g.nodes = append(g.nodes, n)
	g.count++

	if g.entryPoint < 0 {
		g.entryPoint = int(handle)
		g.maxLevel = level
		return handle
	}

	currentMax := g.maxLevel
	ep := uint32(g.entryPoint)

	// Phase 1: route down to the insertion level.
	if currentMax > level {
		ep = g.greedyDescend(vector, ep, currentMax, level)
	}

	// Phase 2: connect on layers min(level, currentMax)..0.
	insertFrom := level
	if currentMax < insertFrom {
		insertFrom = currentMax
	}
	for layer := insertFrom; layer >= 0; layer-- {
		m := g.cfg.M
		if layer == 0 {
			m = g.cfg.MMax0
		}

		nearest := g.searchLayer(vector, ep, g.cfg.EfConstruction, layer)
		neighbors := g.selectNeighbors(vector, nearest, m)
		n.neighbors[layer] = neighbors

		for _, nh := range neighbors {
			nn := g.nodes[nh]
			if nn == nil || layer >= len(nn.neighbors) {
				continue
			}
			nn.neighbors[layer] = append(nn.neighbors[layer], handle)
			if len(nn.neighbors[layer]) > m {
				g.pruneNeighbors(nh, layer, m)
			}
		}

		if len(nearest) > 0 {
			ep = nearest[0].handle
		}
	}

	if level > g.maxLevel {
		g.entryPoint = int(handle)
		g.maxLevel = level
	}

	return handle
}

// remove unlinks the node from its neighbors and clears the arena slot.
// No global repair is attempted; search skips dead slots.
func (g *graph) remove(handle uint32) {
	if int(handle) >= len(g.nodes) || g.nodes[handle] == nil {
		return
	}

	n := g.nodes[handle]
	g.nodes[handle] = nil
	g.count--

	for layer, neighbors := range n.neighbors {
		for _, nh := range neighbors {
			nn := g.nodes[nh]
			if nn == nil || layer >= len(nn.neighbors) {
				continue
			}
			list := nn.neighbors[layer]
			for i := 0; i < len(list); {
				if list[i] == handle {
					list = append(list[:i], list[i+1:]...)
				} else {
					i++
				}
			}
			nn.neighbors[layer] = list
		}
	}

	if g.entryPoint == int(handle) {
		g.promoteEntryPoint()
	}
}

// promoteEntryPoint picks the highest-layer surviving node as the new entry
// point, lowest handle first so the choice is deterministic.
func (g *graph) promoteEntryPoint() {
	g.entryPoint = -1
	g.maxLevel = 0

	best := -1
	bestLevel := -1
	for h, n := range g.nodes {
		if n != nil && n.level > bestLevel {
			best = h
			bestLevel = n.level
		}
	}

	if best >= 0 {
		g.entryPoint = best
		g.maxLevel = bestLevel
	}
}

// searchKNN returns the k best neighbors using a layer-0 width of
// max(ef, k) (Algorithm 5).
func (g *graph) searchKNN(query vectortypes.F32, k, ef int) []neighbor {
	if g.entryPoint < 0 {
		return nil
	}

	if ef < k {
		ef = k
	}

	ep := g.greedyDescend(query, uint32(g.entryPoint), g.maxLevel, 0)
	results := g.searchLayer(query, ep, ef, 0)

	if len(results) > k {
		results = results[:k]
	}
	return results
}
