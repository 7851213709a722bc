package frame

import "fmt"

// TileID addresses one tile in a reference-frame tile pyramid. Lod 0 is the
// root; x grows east, y grows south.
type TileID struct {
	Lod int
	X   int
	Y   int
}

func (t TileID) String() string {
	return fmt.Sprintf("%d-%d-%d", t.Lod, t.X, t.Y)
}

// Parent returns the tile one level up that contains t.
func (t TileID) Parent() TileID {
	if t.Lod == 0 {
		return t
	}
	return TileID{Lod: t.Lod - 1, X: t.X >> 1, Y: t.Y >> 1}
}

// Child returns one of the four children of t; index bit 0 selects east,
// bit 1 selects south.
func (t TileID) Child(index int) TileID {
	return TileID{
		Lod: t.Lod + 1,
		X:   t.X<<1 | (index & 1),
		Y:   t.Y<<1 | (index >> 1 & 1),
	}
}

// InPyramid reports whether the coordinates are inside the pyramid at
// their lod.
func (t TileID) InPyramid() bool {
	if t.Lod < 0 || t.X < 0 || t.Y < 0 {
		return false
	}
	n := 1 << uint(t.Lod)
	return t.X < n && t.Y < n
}

// AncestorAt returns the ancestor of t at the given (shallower) lod.
func (t TileID) AncestorAt(lod int) TileID {
	if lod >= t.Lod {
		return t
	}
	shift := uint(t.Lod - lod)
	return TileID{Lod: lod, X: t.X >> shift, Y: t.Y >> shift}
}
