package rect

import (
	"math/big"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverlapDisjointAxes(t *testing.T) {
	a := New([]uint64{0, 0}, []uint64{10, 10})
	b := New([]uint64{10, 0}, []uint64{20, 10})
	_, ok := Overlap(a, b)
	assert.False(t, ok, "touching half-open intervals must not overlap")
}

func TestOverlapPartial(t *testing.T) {
	a := New([]uint64{0, 0}, []uint64{10, 10})
	b := New([]uint64{5, 5}, []uint64{15, 15})
	o, ok := Overlap(a, b)
	require.True(t, ok)
	assert.Equal(t, New([]uint64{5, 5}, []uint64{10, 10}), o)
}

func TestSubtractEqualReturnsNil(t *testing.T) {
	a := New([]uint64{0, 0}, []uint64{10, 10})
	assert.Nil(t, Subtract(a, a.Clone()))
}

func TestSubtractPartitionsVolumeExactly(t *testing.T) {
	a := New([]uint64{0, 0}, []uint64{10, 10})
	o := New([]uint64{3, 4}, []uint64{6, 7})
	parts := Subtract(a, o)
	require.NotEmpty(t, parts)

	total := new(big.Int).Set(o.Volume())
	for _, p := range parts {
		total.Add(total, p.Volume())
		overlap, ok := Overlap(p, o)
		assert.False(t, ok, "subtracted part %v must not overlap o", p)
		_ = overlap
	}
	assert.Equal(t, a.Volume(), total, "parts + overlap must reconstitute a's volume")
}

func TestSubtractPartsArePairwiseDisjoint(t *testing.T) {
	a := New([]uint64{0, 0, 0}, []uint64{10, 10, 10})
	o := New([]uint64{2, 2, 2}, []uint64{7, 7, 7})
	parts := Subtract(a, o)
	for i := range parts {
		for j := range parts {
			if i == j {
				continue
			}
			_, ok := Overlap(parts[i], parts[j])
			assert.False(t, ok, "parts %d and %d overlap", i, j)
		}
	}
}

// TestSubtractVolumeConservationProperty is a quick-check style property
// test (P5 in spec.md §8): for random axis-aligned a/o with o contained in
// a, the subtracted parts plus o's volume always reconstitute a's volume.
func TestSubtractVolumeConservationProperty(t *testing.T) {
	f := func(seed uint16) bool {
		lo := seed % 50
		hi := lo + 1 + (seed/50)%50
		a := New([]uint64{uint64(lo)}, []uint64{uint64(hi)})
		mid := lo + (hi-lo)/2
		if mid >= hi {
			mid = hi - 1
		}
		o := New([]uint64{uint64(lo)}, []uint64{uint64(mid + 1)})
		parts := Subtract(a, o)
		total := new(big.Int).Set(o.Volume())
		for _, p := range parts {
			total.Add(total, p.Volume())
		}
		return total.Cmp(a.Volume()) == 0
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestVolumeOfEmptyRectangleIsZero(t *testing.T) {
	r := New([]uint64{5}, []uint64{5})
	assert.Equal(t, big.NewInt(0), r.Volume())
}
