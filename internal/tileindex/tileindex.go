// Package tileindex implements the delivery tile index: an immutable
// quad-tree of per-tile flags, written once during preparation and then
// memory-mapped by every request.
package tileindex

import (
	"encoding/binary"
	"fmt"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// Flags is the per-tile flag byte stored in the index.
type Flags uint8

const (
	// Mesh marks a tile with real geometry. A tile is "real" iff Mesh
	// is set.
	Mesh Flags = 1 << iota
	// Watertight marks a tile whose coverage mask is full.
	Watertight
	// Navtile marks a tile carrying a navigation height raster.
	Navtile
	// Atlas marks a tile with a texture atlas.
	Atlas
)

func (f Flags) Real() bool       { return f&Mesh != 0 }
func (f Flags) Watertight() bool { return f&Watertight != 0 }

const (
	magic      = "CTIX"
	version    = 1
	headerSize = 16
	// node layout: flags byte + four little-endian u32 child offsets
	nodeSize = 1 + 4*4
)

// childIndex picks the quad-tree child covering tile t when descending
// from depth level+1 to level. Bit 0 selects east, bit 1 south.
func childIndex(t frame.TileID, level int) int {
	return int(t.X>>uint(level)&1) | int(t.Y>>uint(level)&1)<<1
}

func headerBytes(nodeCount uint32) []byte {
	h := make([]byte, headerSize)
	copy(h, magic)
	binary.LittleEndian.PutUint32(h[4:], version)
	binary.LittleEndian.PutUint32(h[8:], nodeCount)
	return h
}

func checkHeader(data []byte) error {
	if len(data) < headerSize+nodeSize {
		return fmt.Errorf("tileindex: file too short (%d bytes)", len(data))
	}
	if string(data[:4]) != magic {
		return fmt.Errorf("tileindex: bad magic %q", data[:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != version {
		return fmt.Errorf("tileindex: unsupported version %d", v)
	}
	return nil
}
