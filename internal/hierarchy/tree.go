// Package hierarchy computes ordering, placement and diagnostics over a flat
// element list. Nothing here mutates its input or returns an error for bad
// data: anomalies are reported through Stats and Validation.
package hierarchy

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"pagebuilder/internal/domain"
)

const (
	// Fingerprints of larger lists are hashed instead of kept verbatim.
	hashThreshold    = 100
	defaultCacheSize = 256
)

// Node is an element placed in the tree.
type Node struct {
	Element  domain.Element `json:"element"`
	Depth    int            `json:"depth"`
	Children []*Node        `json:"children"`
}

// Tree is the result of BuildElementTree. Treat it as read-only.
type Tree struct {
	Roots      []*Node          `json:"roots"`
	ElementMap map[string]*Node `json:"-"` // may contain cycles on malformed input
	FlatList   []domain.Element `json:"flatList"`
}

// skeleton is the cached, props-free shape of a tree.
type skeleton struct {
	roots    []string
	children map[string][]string
	depth    map[string]int
}

// Manager memoizes tree construction by structural fingerprint.
type Manager struct {
	trees *lru.Cache[string, *skeleton]
}

// New creates a Manager with an empty cache.
func New() *Manager {
	c, _ := lru.New[string, *skeleton](defaultCacheSize)
	return &Manager{trees: c}
}

// ClearCache drops every memoized tree shape.
func (m *Manager) ClearCache() {
	m.trees.Purge()
}

// BuildElementTree groups elements under their parents, sorts every sibling
// list by order_num and attaches depths. The shape is cached under a sorted
// id:parent_id:order_num fingerprint, so any structural change produces a new
// key; props are always bound from the input.
func (m *Manager) BuildElementTree(elements []domain.Element) *Tree {
	key := fingerprint(elements)
	sk, ok := m.trees.Get(key)
	if !ok {
		sk = buildSkeleton(elements)
		m.trees.Add(key, sk)
	}
	return materialize(sk, elements)
}

func fingerprint(elements []domain.Element) string {
	parts := make([]string, len(elements))
	for i, e := range elements {
		parts[i] = fmt.Sprintf("%s:%s:%d", e.ID, e.ParentID, e.OrderNum)
	}
	sort.Strings(parts)
	key := strings.Join(parts, "|")
	if len(elements) > hashThreshold {
		h := fnv.New64a()
		h.Write([]byte(key))
		return fmt.Sprintf("h%d:%x", len(elements), h.Sum64())
	}
	return key
}

func buildSkeleton(elements []domain.Element) *skeleton {
	sk := &skeleton{
		children: make(map[string][]string),
		depth:    make(map[string]int, len(elements)),
	}
	exists := make(map[string]bool, len(elements))
	order := make(map[string]int, len(elements))
	for _, e := range elements {
		exists[e.ID] = true
		order[e.ID] = e.OrderNum
	}

	for _, e := range elements {
		if e.IsRoot() {
			sk.roots = append(sk.roots, e.ID)
			continue
		}
		pid := string(e.ParentID)
		if exists[pid] {
			sk.children[pid] = append(sk.children[pid], e.ID)
		}
	}

	byOrder := func(ids []string) {
		sort.SliceStable(ids, func(i, j int) bool { return order[ids[i]] < order[ids[j]] })
	}
	byOrder(sk.roots)
	for pid := range sk.children {
		byOrder(sk.children[pid])
	}

	// Breadth-first from the roots; the visited set keeps cyclic input finite.
	visited := make(map[string]bool, len(elements))
	queue := append([]string(nil), sk.roots...)
	for _, id := range sk.roots {
		visited[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range sk.children[id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			sk.depth[child] = sk.depth[id] + 1
			queue = append(queue, child)
		}
	}
	return sk
}

func materialize(sk *skeleton, elements []domain.Element) *Tree {
	nodes := make(map[string]*Node, len(elements))
	for _, e := range elements {
		nodes[e.ID] = &Node{Element: e, Depth: sk.depth[e.ID]}
	}
	for pid, ids := range sk.children {
		parent := nodes[pid]
		if parent == nil {
			continue
		}
		parent.Children = make([]*Node, 0, len(ids))
		for _, id := range ids {
			if n := nodes[id]; n != nil {
				parent.Children = append(parent.Children, n)
			}
		}
	}
	tree := &Tree{ElementMap: nodes, FlatList: elements}
	for _, id := range sk.roots {
		if n := nodes[id]; n != nil {
			tree.Roots = append(tree.Roots, n)
		}
	}
	return tree
}

// ── Stats ──────────────────────────────────────────────────

// Stats summarizes a hierarchy.
type Stats struct {
	TotalElements    int              `json:"totalElements"`
	MaxDepth         int              `json:"maxDepth"`
	AverageDepth     float64          `json:"averageDepth"`
	OrphanedElements []domain.Element `json:"orphanedElements"`
}

// GetHierarchyStats counts elements and measures depth over the nodes
// reachable from the roots.
func (m *Manager) GetHierarchyStats(elements []domain.Element) Stats {
	tree := m.BuildElementTree(elements)
	stats := Stats{TotalElements: len(elements), OrphanedElements: findOrphans(elements)}

	var sum, count int
	visited := make(map[*Node]bool)
	stack := append([]*Node(nil), tree.Roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[n] {
			continue
		}
		visited[n] = true
		sum += n.Depth
		count++
		if n.Depth > stats.MaxDepth {
			stats.MaxDepth = n.Depth
		}
		stack = append(stack, n.Children...)
	}
	if count > 0 {
		stats.AverageDepth = math.Round(float64(sum)/float64(count)*100) / 100
	}
	return stats
}

func findOrphans(elements []domain.Element) []domain.Element {
	exists := make(map[string]bool, len(elements))
	for _, e := range elements {
		exists[e.ID] = true
	}
	var orphans []domain.Element
	for _, e := range elements {
		if !e.IsRoot() && !exists[string(e.ParentID)] {
			orphans = append(orphans, e)
		}
	}
	return orphans
}
