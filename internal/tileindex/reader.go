package tileindex

import (
	"encoding/binary"
	"os"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// Index is a read-only view of a serialised tile index. The backing file
// is memory-mapped; all queries are pure and safe for unlimited
// concurrent readers. The mapping stays valid even when the file is
// replaced under it; callers open a fresh Index to observe a new
// revision.
type Index struct {
	data   []byte
	mapped bool
}

// Open maps the index at path.
func Open(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "tileindex: open %s", path)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "tileindex: stat %s", path)
	}

	data, mapped, err := mapFile(f, int(st.Size()))
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "tileindex: map %s", path)
	}
	if err := checkHeader(data); err != nil {
		if mapped {
			unmapFile(data)
		}
		return nil, errs.Wrap(errs.FormatError, err, "tileindex: %s", path)
	}
	return &Index{data: data, mapped: mapped}, nil
}

// Close releases the mapping. No queries may run concurrently with or
// after Close.
func (ix *Index) Close() error {
	if ix.mapped {
		err := unmapFile(ix.data)
		ix.data = nil
		ix.mapped = false
		return err
	}
	ix.data = nil
	return nil
}

func (ix *Index) node(off uint32) (Flags, [4]uint32, bool) {
	if int(off)+nodeSize > len(ix.data) {
		return 0, [4]uint32{}, false
	}
	rec := ix.data[off : off+nodeSize]
	var children [4]uint32
	for i := 0; i < 4; i++ {
		children[i] = binary.LittleEndian.Uint32(rec[1+i*4:])
	}
	return Flags(rec[0]), children, true
}

// Get returns the flags stored for tile t, or 0 when the tile has no
// entry. Cost is O(t.Lod).
func (ix *Index) Get(t frame.TileID) Flags {
	if !t.InPyramid() {
		return 0
	}
	off := uint32(headerSize)
	for level := t.Lod - 1; level >= 0; level-- {
		_, children, ok := ix.node(off)
		if !ok {
			return 0
		}
		off = children[childIndex(t, level)]
		if off == 0 {
			return 0
		}
	}
	flags, _, ok := ix.node(off)
	if !ok {
		return 0
	}
	return flags
}

// Real reports whether tile t carries real geometry.
func (ix *Index) Real(t frame.TileID) bool { return ix.Get(t).Real() }

// Exists reports whether any entry exists at or under tile t.
func (ix *Index) Exists(t frame.TileID) bool {
	if !t.InPyramid() {
		return false
	}
	off := uint32(headerSize)
	for level := t.Lod - 1; level >= 0; level-- {
		_, children, ok := ix.node(off)
		if !ok {
			return false
		}
		off = children[childIndex(t, level)]
		if off == 0 {
			return false
		}
	}
	return true
}

// Rasterize stamps the subtree depth levels under tile t into a
// (1<<depth) x (1<<depth) bitmap using the supplied reduction from flags
// to a byte. Pixels with no index entry stay 0. The output is in row
// order, row 0 at the north edge (matching tile y).
func (ix *Index) Rasterize(t frame.TileID, depth int, reduce func(Flags) uint8) []uint8 {
	size := 1 << uint(depth)
	out := make([]uint8, size*size)

	off := uint32(headerSize)
	for level := t.Lod - 1; level >= 0; level-- {
		_, children, ok := ix.node(off)
		if !ok {
			return out
		}
		off = children[childIndex(t, level)]
		if off == 0 {
			return out
		}
	}
	ix.stamp(off, 0, 0, depth, size, reduce, out)
	return out
}

func (ix *Index) stamp(off uint32, x, y, depth, size int, reduce func(Flags) uint8, out []uint8) {
	flags, children, ok := ix.node(off)
	if !ok {
		return
	}
	if depth == 0 {
		out[y*size+x] = reduce(flags)
		return
	}
	half := 1 << uint(depth-1)
	for i, c := range children {
		if c == 0 {
			continue
		}
		cx := x + (i&1)*half
		cy := y + (i>>1&1)*half
		ix.stamp(c, cx, cy, depth-1, size, reduce, out)
	}
}
