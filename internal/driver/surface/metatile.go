package surface

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"math"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/tileindex"
)

// metaBlockOrder is log2 of the binary metatile block edge: one
// metatile describes an 8x8 block of tiles.
const metaBlockOrder = 3

// metaRasterOrder is the binary order of the 2D metatile raster:
// 256x256 tiles stamp into one grayscale image.
const metaRasterOrder = 8

// metaNode is one tile record inside a binary metatile.
type metaNode struct {
	Geometry bool
	Navtile  bool
	// HeightRange is [floor(min), ceil(max)] from the navtile
	// convertor.
	HeightRange [2]int
	// TexelSize is the mesh area divided by the textured area.
	TexelSize float64
	// Surrogate is the average sampled height.
	Surrogate float64
	// Children is the frame's partial-node bitmask.
	Children uint8
}

// Sampler yields the heightfield of one tile; metatile assembly uses
// it for height ranges and surrogates.
type Sampler func(ctx context.Context, tile frame.TileID) (*Heightfield, error)

// BuildMetatile assembles the binary metatile rooted at origin (whose
// x/y are aligned to the block edge). The sink is checked between
// subblocks so a disconnected client aborts mid-assembly.
func BuildMetatile(ctx context.Context, rf *frame.ReferenceFrame, ix *tileindex.Index,
	origin frame.TileID, samples int, sample Sampler) ([]byte, error) {

	edge := 1 << metaBlockOrder
	nodes := make([]metaNode, edge*edge)

	for row := 0; row < edge; row++ {
		// one row of tiles is a subblock; abort between them
		if err := ctx.Err(); err != nil {
			return nil, errs.Wrap(errs.Cancelled, err, "metatile %s aborted", origin)
		}
		for col := 0; col < edge; col++ {
			tile := frame.TileID{Lod: origin.Lod, X: origin.X + col, Y: origin.Y + row}
			node := &nodes[row*edge+col]

			flags := ix.Get(tile)
			node.Geometry = flags.Real()
			node.Navtile = flags&tileindex.Navtile != 0
			node.Children = frame.NewNodeInfo(rf, tile).ChildMask()
			if !node.Geometry {
				continue
			}

			hf, err := sample(ctx, tile)
			if err != nil {
				return nil, err
			}
			lo, hi := hf.Range()
			node.HeightRange = [2]int{int(math.Floor(lo)), int(math.Ceil(hi))}
			node.Surrogate = hf.Average()
			node.TexelSize = TexelSize(frame.NewNodeInfo(rf, tile), samples)
		}
	}

	return encodeMetatile(origin, nodes)
}

func encodeMetatile(origin frame.TileID, nodes []metaNode) ([]byte, error) {
	var raw bytes.Buffer
	w := func(v any) { binary.Write(&raw, binary.LittleEndian, v) }

	raw.WriteString("CTE1")
	w(uint8(metaBlockOrder))
	w(uint32(origin.Lod))
	w(uint32(origin.X))
	w(uint32(origin.Y))

	for _, n := range nodes {
		var flags uint8
		if n.Geometry {
			flags |= 1
		}
		if n.Navtile {
			flags |= 2
		}
		w(flags)
		w(n.Children)
		w(int32(n.HeightRange[0]))
		w(int32(n.HeightRange[1]))
		w(float32(n.TexelSize))
		w(float32(n.Surrogate))
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "metatile: gzip")
	}
	if err := gz.Close(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "metatile: gzip")
	}
	return out.Bytes(), nil
}

// Rasterize2D stamps the 256x256 2D metatile: 0x80 where the child
// tile has a mesh, plus 0x40 where it is watertight.
func Rasterize2D(ix *tileindex.Index, origin frame.TileID) []uint8 {
	return ix.Rasterize(origin, metaRasterOrder, func(f tileindex.Flags) uint8 {
		var v uint8
		if f.Real() {
			v = 0x80
			if f.Watertight() {
				v |= 0x40
			}
		}
		return v
	})
}
