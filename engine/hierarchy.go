package engine

// node is one row of the contour hierarchy: next sibling, previous sibling,
// first child, parent. -1 means none.
type node [4]int

const (
	hNext = iota
	hPrev
	hChild
	hParent
)

// walkHierarchy visits the contour tree top-down starting from the first root
// and its siblings. A contour for which accept returns true is collected and
// its children are not visited; otherwise the walk descends into its first
// child. Siblings are always visited.
//
// maxVisit and maxAccept bound the work (0 = unbounded). truncated reports
// whether the walk stopped early because of them.
func walkHierarchy(tree []node, accept func(i int) bool, maxVisit, maxAccept int) (accepted []int, truncated bool) {
	root := -1
	for i := range tree {
		if tree[i][hParent] < 0 {
			root = i
			break
		}
	}
	if root < 0 {
		return nil, false
	}

	valid := func(i int) bool { return i >= 0 && i < len(tree) }
	stack := []int{root}
	visited := 0
	for len(stack) > 0 {
		if maxVisit > 0 && visited >= maxVisit {
			return accepted, true
		}
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visited++

		if next := tree[i][hNext]; valid(next) {
			stack = append(stack, next)
		}
		if accept(i) {
			accepted = append(accepted, i)
			if maxAccept > 0 && len(accepted) >= maxAccept {
				return accepted, len(stack) > 0
			}
			continue
		}
		if child := tree[i][hChild]; valid(child) {
			stack = append(stack, child)
		}
	}
	return accepted, false
}
