package kdtree

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecgraph/internal/rect"
)

func box(lo, hi []uint64) *rect.HyperRectangle {
	return rect.New(lo, hi)
}

func TestIntersectFindsOverlappingRectangles(t *testing.T) {
	tr := New(2)
	a := box([]uint64{0, 0}, []uint64{10, 10})
	b := box([]uint64{20, 20}, []uint64{30, 30})
	c := box([]uint64{5, 5}, []uint64{15, 15})
	tr.Insert(a)
	tr.Insert(b)
	tr.Insert(c)

	got := tr.Intersect(box([]uint64{8, 8}, []uint64{9, 9}))
	require.Len(t, got, 2)
}

func TestIntersectExcludesDisjointRectangles(t *testing.T) {
	tr := New(2)
	a := box([]uint64{0, 0}, []uint64{10, 10})
	tr.Insert(a)

	got := tr.Intersect(box([]uint64{100, 100}, []uint64{200, 200}))
	assert.Empty(t, got)
}

func TestDeleteRemovesExactMatch(t *testing.T) {
	tr := New(2)
	a := box([]uint64{0, 0}, []uint64{10, 10})
	b := box([]uint64{5, 5}, []uint64{15, 15})
	tr.Insert(a)
	tr.Insert(b)

	tr.Delete(a)
	got := tr.Intersect(box([]uint64{0, 0}, []uint64{20, 20}))
	require.Len(t, got, 1)
	assert.True(t, got[0].Equal(b))
}

func TestDeleteThenReinsertKeepsTreeConsistent(t *testing.T) {
	tr := New(1)
	rects := []*rect.HyperRectangle{
		box([]uint64{0}, []uint64{5}),
		box([]uint64{5}, []uint64{10}),
		box([]uint64{10}, []uint64{15}),
		box([]uint64{15}, []uint64{20}),
	}
	for _, r := range rects {
		tr.Insert(r)
	}
	tr.Delete(rects[1])
	tr.Delete(rects[2])
	tr.Insert(box([]uint64{5}, []uint64{15}))

	got := tr.Intersect(box([]uint64{0}, []uint64{20}))
	assert.Len(t, got, 3)
}

// TestIntersectAgreesWithLinearScan checks the tree's query result against a
// brute-force scan over the same rectangle set, for random axis-aligned
// boxes — the KD-tree fidelity property (spec P4).
func TestIntersectAgreesWithLinearScan(t *testing.T) {
	gen := func(n uint8) []*rect.HyperRectangle {
		var out []*rect.HyperRectangle
		seed := uint64(n)
		for i := 0; i < int(n%20); i++ {
			lo0 := (seed * 37) % 100
			lo1 := (seed * 53) % 100
			out = append(out, box([]uint64{lo0, lo1}, []uint64{lo0 + 10, lo1 + 10}))
			seed = seed*1103515245 + 12345
		}
		return out
	}

	check := func(n uint8, qlo0, qlo1 uint8) bool {
		rects := gen(n)
		tr := New(2)
		for _, r := range rects {
			tr.Insert(r)
		}
		q := box([]uint64{uint64(qlo0 % 100), uint64(qlo1 % 100)}, []uint64{uint64(qlo0%100) + 10, uint64(qlo1%100) + 10})

		var want []*rect.HyperRectangle
		for _, r := range rects {
			if _, ok := rect.Overlap(r, q); ok {
				want = append(want, r)
			}
		}
		got := tr.Intersect(q)
		return len(got) == len(want)
	}
	if err := quick.Check(check, nil); err != nil {
		t.Fatal(err)
	}
}
