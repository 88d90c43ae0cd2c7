// Package kdtree implements spec component C: a binary tree of
// axis-aligned splitting planes over the set of currently live hyperrectangles,
// supporting insert, delete, and overlap queries.
package kdtree

import "ecgraph/internal/rect"

type node struct {
	rect       *rect.HyperRectangle
	axis       int
	splitValue uint64
	left, right *node

	// bboxLo/bboxHi bound every rectangle in this node's subtree
	// (including itself); Intersect uses them to prune whole subtrees
	// without visiting their rectangles individually.
	bboxLo, bboxHi []uint64
}

// Tree is a KD-tree over k-dimensional hyperrectangles.
type Tree struct {
	root *node
	dims int
}

// New creates an empty tree over the given number of axes.
func New(dims int) *Tree {
	return &Tree{dims: dims}
}

// Insert adds r to the tree. The splitting axis cycles through 0..dims-1
// with tree depth; a newly created node's split value is the midpoint of
// r's bounds on that axis.
func (t *Tree) Insert(r *rect.HyperRectangle) {
	t.root = insertNode(t.root, r, 0, t.dims)
}

// Delete removes the node whose rectangle equals r (by bounds). It is a
// no-op if no such rectangle is present.
func (t *Tree) Delete(r *rect.HyperRectangle) {
	t.root = deleteNode(t.root, r, t.dims)
}

// Intersect returns every live rectangle overlapping q.
func (t *Tree) Intersect(q *rect.HyperRectangle) []*rect.HyperRectangle {
	var out []*rect.HyperRectangle
	collect(t.root, q, &out)
	return out
}

func insertNode(n *node, r *rect.HyperRectangle, axis, k int) *node {
	if n == nil {
		nn := &node{rect: r, axis: axis, splitValue: midpoint(r, axis)}
		updateBBox(nn)
		return nn
	}
	childAxis := (n.axis + 1) % k
	if r.Lo[n.axis] < n.splitValue {
		n.left = insertNode(n.left, r, childAxis, k)
	} else {
		n.right = insertNode(n.right, r, childAxis, k)
	}
	updateBBox(n)
	return n
}

func deleteNode(n *node, target *rect.HyperRectangle, k int) *node {
	if n == nil {
		return nil
	}
	if n.rect.Equal(target) {
		switch {
		case n.right != nil:
			m := findMin(n.right, n.axis)
			n.rect = m.rect
			n.right = deleteNode(n.right, m.rect, k)
		case n.left != nil:
			m := findMin(n.left, n.axis)
			n.rect = m.rect
			n.right = deleteNode(n.left, m.rect, k)
			n.left = nil
		default:
			return nil
		}
		n.splitValue = midpoint(n.rect, n.axis)
		updateBBox(n)
		return n
	}
	if target.Lo[n.axis] < n.splitValue {
		n.left = deleteNode(n.left, target, k)
	} else {
		n.right = deleteNode(n.right, target, k)
	}
	updateBBox(n)
	return n
}

// findMin returns the node with the smallest Lo[axis] in n's subtree.
// When the subtree's own split axis matches axis, only the left child can
// hold a smaller value (classic KD-tree deletion replacement rule).
func findMin(n *node, axis int) *node {
	if n == nil {
		return nil
	}
	if n.axis == axis {
		if n.left == nil {
			return n
		}
		return findMin(n.left, axis)
	}
	best := n
	if l := findMin(n.left, axis); l != nil && l.rect.Lo[axis] < best.rect.Lo[axis] {
		best = l
	}
	if r := findMin(n.right, axis); r != nil && r.rect.Lo[axis] < best.rect.Lo[axis] {
		best = r
	}
	return best
}

func collect(n *node, q *rect.HyperRectangle, out *[]*rect.HyperRectangle) {
	if n == nil || !bboxOverlaps(n.bboxLo, n.bboxHi, q) {
		return
	}
	if _, ok := rect.Overlap(n.rect, q); ok {
		*out = append(*out, n.rect)
	}
	collect(n.left, q, out)
	collect(n.right, q, out)
}

func bboxOverlaps(lo, hi []uint64, q *rect.HyperRectangle) bool {
	for i := range lo {
		if q.Lo[i] >= hi[i] || q.Hi[i] <= lo[i] {
			return false
		}
	}
	return true
}

func updateBBox(n *node) {
	lo := append([]uint64{}, n.rect.Lo...)
	hi := append([]uint64{}, n.rect.Hi...)
	merge := func(c *node) {
		if c == nil {
			return
		}
		for i := range lo {
			if c.bboxLo[i] < lo[i] {
				lo[i] = c.bboxLo[i]
			}
			if c.bboxHi[i] > hi[i] {
				hi[i] = c.bboxHi[i]
			}
		}
	}
	merge(n.left)
	merge(n.right)
	n.bboxLo, n.bboxHi = lo, hi
}

func midpoint(r *rect.HyperRectangle, axis int) uint64 {
	return r.Lo[axis] + (r.Hi[axis]-r.Lo[axis])/2
}
