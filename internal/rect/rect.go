// Package rect implements the hyperrectangle algebra over packet header
// space: half-open integer products, their overlap, and their
// disjoint-partition subtraction.
package rect

import "math/big"

// HyperRectangle is a half-open product [lo0,hi0) x ... x [lo_{k-1},hi_{k-1})
// over a fixed, ordered set of axes, tagged with the equivalence-class
// index it belongs to.
type HyperRectangle struct {
	Lo, Hi     []uint64
	AlphaIndex int
}

// New builds a rectangle from parallel lo/hi slices. The slices are copied
// so the caller may mutate them afterwards.
func New(lo, hi []uint64) *HyperRectangle {
	r := &HyperRectangle{Lo: make([]uint64, len(lo)), Hi: make([]uint64, len(hi))}
	copy(r.Lo, lo)
	copy(r.Hi, hi)
	return r
}

// Dims reports the number of axes.
func (r *HyperRectangle) Dims() int { return len(r.Lo) }

// Clone returns a deep copy, preserving AlphaIndex.
func (r *HyperRectangle) Clone() *HyperRectangle {
	c := New(r.Lo, r.Hi)
	c.AlphaIndex = r.AlphaIndex
	return c
}

// SetBounds overwrites Lo/Hi in place, leaving AlphaIndex untouched. Used
// when an EC's slot is reused for the first part of a split (see
// internal/engine's classic addRule).
func (r *HyperRectangle) SetBounds(lo, hi []uint64) {
	copy(r.Lo, lo)
	copy(r.Hi, hi)
}

// Equal reports whether all bounds are equal. AlphaIndex is not compared:
// equality is a geometric property.
func (r *HyperRectangle) Equal(o *HyperRectangle) bool {
	if o == nil || len(r.Lo) != len(o.Lo) {
		return false
	}
	for i := range r.Lo {
		if r.Lo[i] != o.Lo[i] || r.Hi[i] != o.Hi[i] {
			return false
		}
	}
	return true
}

// Empty reports whether the rectangle encloses no headers on some axis.
func (r *HyperRectangle) Empty() bool {
	for i := range r.Lo {
		if r.Lo[i] >= r.Hi[i] {
			return true
		}
	}
	return false
}

// Volume is the product of per-axis side lengths, computed with
// arbitrary-precision arithmetic so that a rectangle spanning many
// high-cardinality axes (e.g. full IP x full port x full protocol) cannot
// overflow a machine word.
func (r *HyperRectangle) Volume() *big.Int {
	v := big.NewInt(1)
	side := new(big.Int)
	for i := range r.Lo {
		if r.Hi[i] <= r.Lo[i] {
			return big.NewInt(0)
		}
		side.SetUint64(r.Hi[i] - r.Lo[i])
		v.Mul(v, side)
	}
	return v
}

// Overlap returns the componentwise intersection of a and b, or (nil,
// false) if any axis yields an empty interval.
func Overlap(a, b *HyperRectangle) (*HyperRectangle, bool) {
	if a.Dims() != b.Dims() {
		panic("rect: overlap of rectangles with different dimensionality")
	}
	lo := make([]uint64, a.Dims())
	hi := make([]uint64, a.Dims())
	for i := range a.Lo {
		lo[i] = max64(a.Lo[i], b.Lo[i])
		hi[i] = min64(a.Hi[i], b.Hi[i])
		if lo[i] >= hi[i] {
			return nil, false
		}
	}
	return New(lo, hi), true
}

// Subtract partitions a \ o into up to 2*Dims() disjoint rectangles, where
// o must be a subset of a. It proceeds axis by axis in a fixed order: for
// each axis it peels off the slab below o's lower bound, then the slab
// above o's upper bound, then clips the remaining region to o's bounds on
// that axis before moving to the next axis. The result is deterministic
// given a's and o's bounds. Subtract returns nil when o equals a — the
// caller is expected to treat a itself as the overlap in that case.
func Subtract(a, o *HyperRectangle) []*HyperRectangle {
	if a.Equal(o) {
		return nil
	}
	var parts []*HyperRectangle
	lo := append([]uint64{}, a.Lo...)
	hi := append([]uint64{}, a.Hi...)
	for i := range lo {
		if o.Lo[i] > lo[i] {
			partHi := append([]uint64{}, hi...)
			partHi[i] = o.Lo[i]
			parts = append(parts, New(lo, partHi))
		}
		if o.Hi[i] < hi[i] {
			partLo := append([]uint64{}, lo...)
			partLo[i] = o.Hi[i]
			parts = append(parts, New(partLo, hi))
		}
		lo[i] = max64(lo[i], o.Lo[i])
		hi[i] = min64(hi[i], o.Hi[i])
	}
	return parts
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
