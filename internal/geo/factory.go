package geo

import (
	"net/netip"

	"ecgraph/internal/rect"
)

// GeometricSpace is an ordered sequence of hyperrectangles representing a
// union: a header is in the space iff it falls in at least one of the
// rectangles.
type GeometricSpace struct {
	Rectangles []*rect.HyperRectangle
}

// Factory produces hyperrectangles over a fixed, ordered subset of
// Fields — the fields actually referenced by some ACL in the network,
// plus DestIP, which is always active.
type Factory struct {
	order []Field
	index map[Field]int
}

// NewFactory builds a factory over the given active field set. DestIP is
// always enabled regardless of what the caller passed in, per spec.md
// §4.B. Field order follows AllFields so construction is deterministic
// across runs with the same active set.
func NewFactory(active map[Field]bool) *Factory {
	if active == nil {
		active = map[Field]bool{}
	}
	active[DestIP] = true

	f := &Factory{index: make(map[Field]int)}
	for _, fld := range AllFields {
		if active[fld] {
			f.index[fld] = len(f.order)
			f.order = append(f.order, fld)
		}
	}
	return f
}

// NumFields reports the dimensionality k of rectangles this factory
// produces.
func (f *Factory) NumFields() int { return len(f.order) }

// FieldOrder returns the axis ordering, index i corresponds to axis i of
// every rectangle this factory builds.
func (f *Factory) FieldOrder() []Field { return append([]Field{}, f.order...) }

// FullSpace returns a fresh rectangle spanning the full domain on every
// active axis.
func (f *Factory) FullSpace() *rect.HyperRectangle {
	lo := make([]uint64, len(f.order))
	hi := make([]uint64, len(f.order))
	for i, fld := range f.order {
		d := domain(fld)
		lo[i], hi[i] = d.Lo, d.Hi
	}
	return rect.New(lo, hi)
}

// FromHeaderSpace expands a HeaderSpace into a GeometricSpace: fields with
// multiple disjoint ranges fan out via cross product into multiple
// rectangles (spec.md §4.B).
func (f *Factory) FromHeaderSpace(h HeaderSpace) *GeometricSpace {
	rects := []*rect.HyperRectangle{f.FullSpace()}
	for i, fld := range f.order {
		ranges := h.rangesFor(fld)
		if len(ranges) == 1 {
			r := ranges[0]
			for _, cur := range rects {
				cur.Lo[i], cur.Hi[i] = r.Lo, r.Hi
			}
			continue
		}
		var expanded []*rect.HyperRectangle
		for _, cur := range rects {
			for _, r := range ranges {
				clone := cur.Clone()
				clone.Lo[i], clone.Hi[i] = r.Lo, r.Hi
				expanded = append(expanded, clone)
			}
		}
		rects = expanded
	}
	return &GeometricSpace{Rectangles: rects}
}

// FromPrefix builds the rectangle for a FIB row: full space on every
// axis except DestIP, which is restricted to the prefix with an
// exclusive upper bound (spec.md §3).
func (f *Factory) FromPrefix(p netip.Prefix) *rect.HyperRectangle {
	r := f.FullSpace()
	i := f.index[DestIP]
	lo, hi := prefixBounds(p)
	r.Lo[i], r.Hi[i] = lo, hi
	return r
}

// PrefixRange returns the half-open [Lo, Hi) bounds an IPv4 prefix
// occupies on an IP axis, for callers building a HeaderSpace restriction
// directly rather than going through FromPrefix.
func PrefixRange(p netip.Prefix) Range {
	lo, hi := prefixBounds(p)
	return Range{Lo: lo, Hi: hi}
}

// Example returns one concrete header inside r: the lower bound on every
// axis, per spec.md §4.B.
func (f *Factory) Example(r *rect.HyperRectangle) Header {
	h := Header{}
	for i, fld := range f.order {
		v := r.Lo[i]
		switch fld {
		case DestIP:
			h.DestIP = uint32ToAddr(uint32(v))
		case SrcIP:
			h.SrcIP = uint32ToAddr(uint32(v))
		case DestPort:
			h.DestPort = uint16(v)
		case SrcPort:
			h.SrcPort = uint16(v)
		case IPProto:
			h.IPProto = uint8(v)
		case ICMPType:
			h.ICMPType = uint8(v)
		case ICMPCode:
			h.ICMPCode = uint8(v)
		case TCPAck:
			h.TCPAck = v != 0
		case TCPCwr:
			h.TCPCwr = v != 0
		case TCPEce:
			h.TCPEce = v != 0
		case TCPFin:
			h.TCPFin = v != 0
		case TCPPsh:
			h.TCPPsh = v != 0
		case TCPRst:
			h.TCPRst = v != 0
		case TCPSyn:
			h.TCPSyn = v != 0
		case TCPUrg:
			h.TCPUrg = v != 0
		}
	}
	return h
}

// Header is a concrete decoded packet header, used as a query witness.
type Header struct {
	DestIP, SrcIP                               netip.Addr
	DestPort, SrcPort                           uint16
	IPProto, ICMPType, ICMPCode                 uint8
	TCPAck, TCPCwr, TCPEce, TCPFin, TCPPsh, TCPRst, TCPSyn, TCPUrg bool
}

func prefixBounds(p netip.Prefix) (lo, hi uint64) {
	addr := p.Masked().Addr()
	if !addr.Is4() {
		panic("geo: only IPv4 prefixes are supported")
	}
	b := addr.As4()
	lo = uint64(b[0])<<24 | uint64(b[1])<<16 | uint64(b[2])<<8 | uint64(b[3])
	size := uint64(1) << (32 - p.Bits())
	hi = lo + size
	return lo, hi
}

func uint32ToAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
