package hierarchy

import (
	"sort"

	"pagebuilder/internal/domain"
)

// GetOrderedChildren returns the children of parentID ("" for roots) sorted
// by order_num. Ties keep input order.
func GetOrderedChildren(parentID string, elements []domain.Element) []domain.Element {
	var children []domain.Element
	for _, e := range elements {
		if string(e.ParentID) == parentID {
			children = append(children, e)
		}
	}
	sort.SliceStable(children, func(i, j int) bool { return children[i].OrderNum < children[j].OrderNum })
	return children
}

// CalculateNextOrderNum returns max(sibling order_num)+1, or 1 when the parent
// has no children yet. Order numbers start at 1 for stored data compatibility.
func CalculateNextOrderNum(parentID string, elements []domain.Element) int {
	next := 1
	found := false
	for _, e := range elements {
		if string(e.ParentID) != parentID {
			continue
		}
		if !found || e.OrderNum+1 > next {
			next = e.OrderNum + 1
			found = true
		}
	}
	return next
}

// CalculateOrderNumsForInsertion shifts every sibling at or after insertIndex
// up by one and returns the new order numbers keyed by element id.
func CalculateOrderNumsForInsertion(parentID string, insertIndex int, elements []domain.Element) map[string]int {
	updates := make(map[string]int)
	if insertIndex < 0 {
		insertIndex = 0
	}
	for i, sib := range GetOrderedChildren(parentID, elements) {
		if i >= insertIndex {
			updates[sib.ID] = sib.OrderNum + 1
		}
	}
	return updates
}

// CalculateMoveOrderNums computes the order changes for moving elementID to
// position newIndex under newParentID: the old parent's tail closes the gap
// (-1), the new parent's siblings from newIndex open a slot (+1), and the
// moved element takes newIndex+1. Only changed entries are returned; the
// caller applies the map in one step.
func CalculateMoveOrderNums(elementID, newParentID string, newIndex int, elements []domain.Element) map[string]int {
	updates := make(map[string]int)

	var moved *domain.Element
	for i := range elements {
		if elements[i].ID == elementID {
			moved = &elements[i]
			break
		}
	}
	if moved == nil {
		return updates
	}
	if newIndex < 0 {
		newIndex = 0
	}

	current := make(map[string]int, len(elements))
	delta := make(map[string]int)
	for _, e := range elements {
		current[e.ID] = e.OrderNum
	}

	oldSiblings := GetOrderedChildren(string(moved.ParentID), elements)
	oldIndex := -1
	for i, sib := range oldSiblings {
		if sib.ID == elementID {
			oldIndex = i
			break
		}
	}
	for i := oldIndex + 1; oldIndex >= 0 && i < len(oldSiblings); i++ {
		delta[oldSiblings[i].ID]--
	}

	var newSiblings []domain.Element
	for _, sib := range GetOrderedChildren(newParentID, elements) {
		if sib.ID != elementID {
			newSiblings = append(newSiblings, sib)
		}
	}
	for i := newIndex; i < len(newSiblings); i++ {
		delta[newSiblings[i].ID]++
	}

	for id, d := range delta {
		if d != 0 {
			updates[id] = current[id] + d
		}
	}
	updates[elementID] = newIndex + 1
	return updates
}
