package hierarchy

import (
	"fmt"
	"sort"

	"pagebuilder/internal/domain"
)

// Validation separates invariant violations (Errors) from tolerated
// anomalies (Warnings).
type Validation struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateHierarchy reports duplicate ids and cycles as errors, orphans and
// duplicate sibling order numbers as warnings.
func ValidateHierarchy(elements []domain.Element) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}

	parent := make(map[string]string, len(elements))
	seen := make(map[string]int, len(elements))
	for _, e := range elements {
		seen[e.ID]++
		if seen[e.ID] == 2 {
			v.Errors = append(v.Errors, fmt.Sprintf("Duplicate element id found: %s", e.ID))
		}
		if _, ok := parent[e.ID]; !ok {
			parent[e.ID] = string(e.ParentID)
		}
	}

	v.Errors = append(v.Errors, detectCycles(elements, parent)...)

	for _, o := range findOrphans(elements) {
		v.Warnings = append(v.Warnings, fmt.Sprintf("Orphaned element found: %s (parent: %s not found)", o.ID, o.ParentID))
	}

	v.Warnings = append(v.Warnings, duplicateOrders(elements)...)

	v.IsValid = len(v.Errors) == 0
	return v
}

// detectCycles walks child→parent edges depth-first with a visited set and
// a recursion stack. Every node has at most one outgoing edge, so the walk is
// a loop, not recursion, and terminates on self-references.
func detectCycles(elements []domain.Element, parent map[string]string) []string {
	var errs []string
	visited := make(map[string]bool, len(elements))
	onStack := make(map[string]bool)

	for _, e := range elements {
		if visited[e.ID] {
			continue
		}
		var path []string
		cur := e.ID
		for cur != "" {
			if onStack[cur] {
				errs = append(errs, fmt.Sprintf("Circular reference detected involving element: %s", cur))
				break
			}
			if visited[cur] {
				break
			}
			pid, exists := parent[cur]
			if !exists {
				break
			}
			visited[cur] = true
			onStack[cur] = true
			path = append(path, cur)
			cur = pid
		}
		for _, id := range path {
			delete(onStack, id)
		}
	}
	return errs
}

func duplicateOrders(elements []domain.Element) []string {
	type slot struct {
		parent string
		order  int
	}
	counts := make(map[slot]int)
	var slots []slot
	for _, e := range elements {
		p := string(e.ParentID)
		if p == "" {
			p = "root"
		}
		s := slot{parent: p, order: e.OrderNum}
		counts[s]++
		if counts[s] == 2 {
			slots = append(slots, s)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].parent != slots[j].parent {
			return slots[i].parent < slots[j].parent
		}
		return slots[i].order < slots[j].order
	})
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, fmt.Sprintf("Duplicate order_num found: %d for parent %s", s.order, s.parent))
	}
	return out
}
