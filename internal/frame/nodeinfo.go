package frame

// NodeInfo binds a tile id to its reference frame and answers validity
// and geometry questions for it.
type NodeInfo struct {
	rf *ReferenceFrame
	id TileID
}

// NewNodeInfo constructs the node for id within rf. The node may be
// invalid; callers check Valid before using its geometry.
func NewNodeInfo(rf *ReferenceFrame, id TileID) NodeInfo {
	return NodeInfo{rf: rf, id: id}
}

func (n NodeInfo) Frame() *ReferenceFrame { return n.rf }
func (n NodeInfo) ID() TileID             { return n.id }

// Valid reports whether the tile lies inside the frame's valid subtree.
// Tiles above the valid lod range are valid when they contain any valid
// descendant.
func (n NodeInfo) Valid() bool {
	if !n.id.InPyramid() || n.id.Lod > n.rf.ValidLodRange.Max {
		return false
	}
	if n.id.Lod >= n.rf.ValidLodRange.Min {
		r := ShiftRange(n.rf.ValidTileRange, n.rf.ValidLodRange.Min, n.id.Lod)
		return r.Contains(n.id.X, n.id.Y)
	}
	// coarser than the valid range: valid iff some descendant at
	// ValidLodRange.Min falls under this node
	r := n.rf.ValidTileRange
	sub := ShiftRange(TileRange{LL: [2]int{n.id.X, n.id.Y}, UR: [2]int{n.id.X, n.id.Y}},
		n.id.Lod, n.rf.ValidLodRange.Min)
	return !intersect(r, sub).Empty()
}

// Productive reports whether tile data can be produced at this node,
// i.e. the node is valid and at or below the frame's minimum data lod.
func (n NodeInfo) Productive() bool {
	return n.Valid() && n.id.Lod >= n.rf.ValidLodRange.Min
}

// Extents returns the tile's coverage in the division SRS.
func (n NodeInfo) Extents() Extents {
	root := n.rf.RootExtents
	scale := float64(int64(1) << uint(n.id.Lod))
	w := root.Width() / scale
	h := root.Height() / scale
	// y grows south: tile row 0 is at the top of the root extents
	llx := root.LL[0] + float64(n.id.X)*w
	ury := root.UR[1] - float64(n.id.Y)*h
	return Extents{
		LL: [2]float64{llx, ury - h},
		UR: [2]float64{llx + w, ury},
	}
}

// SRS returns the SRS the extents are expressed in.
func (n NodeInfo) SRS() string { return n.rf.DivisionSRS }

// ChildMask returns a bitmask of valid children (bit i set when
// n.ID().Child(i) is valid). Used when assembling metatile nodes.
func (n NodeInfo) ChildMask() uint8 {
	var mask uint8
	for i := 0; i < 4; i++ {
		if NewNodeInfo(n.rf, n.id.Child(i)).Valid() {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func intersect(a, b TileRange) TileRange {
	return TileRange{
		LL: [2]int{maxInt(a.LL[0], b.LL[0]), maxInt(a.LL[1], b.LL[1])},
		UR: [2]int{minInt(a.UR[0], b.UR[0]), minInt(a.UR[1], b.UR[1])},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
