package surface

import (
	"context"
	"image"
	"path/filepath"
	"sync/atomic"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/tileindex"
)

// common carries the serving machinery shared by the surface drivers:
// the delivery index, the gates and the artifact dispatch. The embedding
// driver supplies preparation and the heightfield sampler.
type common struct {
	generator.Base
	rf  *frame.ReferenceFrame
	dir string

	samples      int
	textureLayer int

	ix atomic.Pointer[tileindex.Index]
}

func newSurfaceCommon(env generator.Env, res *resource.Resource, samples, textureLayer int) (common, error) {
	rf, ok := frame.Get(res.ID.ReferenceFrame)
	if !ok {
		return common{}, errs.New(errs.FormatError, "unknown reference frame %q", res.ID.ReferenceFrame)
	}
	return common{
		Base:         generator.NewBase(env, res, 1),
		rf:           rf,
		dir:          env.ResourceDir(res.ID, resource.KindSurface),
		samples:      samples,
		textureLayer: textureLayer,
	}, nil
}

// index returns the delivery index; nil before ready.
func (c *common) index() *tileindex.Index { return c.ix.Load() }

// openIndex maps the freshly written delivery index. The previous
// mapping, if any, stays valid for requests already holding it.
func (c *common) openIndex() error {
	ix, err := tileindex.Open(filepath.Join(c.dir, deliveryIndexName))
	if err != nil {
		return err
	}
	c.ix.Store(ix)
	return nil
}

// node gates a surface request: validity, productivity against the
// delivery index, configured ranges.
func (c *common) node(ctx context.Context, req *generator.Request) (frame.NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return frame.NodeInfo{}, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	node := frame.NewNodeInfo(c.rf, req.Tile)
	if !node.Valid() {
		return node, errs.New(errs.NotFound, "tile %s outside the valid tree", req.Tile)
	}
	res := c.Resource()
	if !res.LodRange.Contains(req.Tile.Lod) {
		return node, errs.New(errs.NotFound, "lod %d outside configured range", req.Tile.Lod)
	}
	r := frame.ShiftRange(res.TileRange, res.LodRange.Min, req.Tile.Lod)
	if !r.Contains(req.Tile.X, req.Tile.Y) {
		return node, errs.New(errs.NotFound, "tile %s outside configured range", req.Tile)
	}
	if !node.Productive() || !c.index().Real(req.Tile) {
		return node, errs.New(errs.NotFound, "no geometry for %s", req.Tile)
	}
	return node, nil
}

// generate dispatches one surface request; sample supplies the
// heightfield for mesh-bearing artifacts.
func (c *common) generate(ctx context.Context, req *generator.Request, sample Sampler) (*generator.Tile, error) {
	switch req.File {
	case generator.TileMesh:
		node, err := c.node(ctx, req)
		if err != nil {
			return nil, err
		}
		hf, err := sample(ctx, req.Tile)
		if err != nil {
			return nil, err
		}
		if !hf.Covered() {
			return nil, errs.New(errs.NotFound, "no coverage for %s", req.Tile)
		}
		mesh := BuildMesh(hf, c.textureLayer)
		data, err := mesh.Encode(node)
		if err != nil {
			return nil, err
		}
		return &generator.Tile{
			Bytes:       data,
			ContentType: "application/vnd.quantized-mesh",
			FileClass:   resource.ClassData,
		}, nil

	case generator.TileNavtile:
		if _, err := c.node(ctx, req); err != nil {
			return nil, err
		}
		hf, err := sample(ctx, req.Tile)
		if err != nil {
			return nil, err
		}
		data, err := BuildNavtile(hf).Encode()
		if err != nil {
			return nil, err
		}
		return &generator.Tile{
			Bytes:       data,
			ContentType: "application/octet-stream",
			FileClass:   resource.ClassData,
		}, nil

	case generator.TileMeta:
		return c.generateMeta(ctx, req, sample)

	case generator.TileMask:
		if _, err := c.node(ctx, req); err != nil {
			return nil, err
		}
		hf, err := sample(ctx, req.Tile)
		if err != nil {
			return nil, err
		}
		return maskTile(hf)
	}
	return nil, errs.New(errs.NotFound, "surface: no %s artifact", req.File)
}

// generateMeta serves both metatile flavours: the 2D raster when
// requested, the binary 8x8 block otherwise. Metatile coordinates are
// aligned down to the block edge.
func (c *common) generateMeta(ctx context.Context, req *generator.Request, sample Sampler) (*generator.Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}
	node := frame.NewNodeInfo(c.rf, req.Tile)
	if !node.Valid() {
		return nil, errs.New(errs.NotFound, "tile %s outside the valid tree", req.Tile)
	}

	if req.Flavor == "2d" {
		bitmap := Rasterize2D(c.index(), req.Tile)
		size := 1 << metaRasterOrder
		img := image.NewGray(image.Rect(0, 0, size, size))
		copy(img.Pix, bitmap)
		data, err := imaging.Encode(img, "png")
		if err != nil {
			return nil, err
		}
		return &generator.Tile{
			Bytes:       data,
			ContentType: "image/png",
			FileClass:   resource.ClassData,
		}, nil
	}

	origin := frame.TileID{
		Lod: req.Tile.Lod,
		X:   req.Tile.X &^ (1<<metaBlockOrder - 1),
		Y:   req.Tile.Y &^ (1<<metaBlockOrder - 1),
	}
	data, err := BuildMetatile(ctx, c.rf, c.index(), origin, c.samples, sample)
	if err != nil {
		return nil, err
	}
	return &generator.Tile{
		Bytes:       data,
		ContentType: "application/octet-stream",
		FileClass:   resource.ClassData,
	}, nil
}

func maskTile(hf *Heightfield) (*generator.Tile, error) {
	n := hf.Samples + 1
	mask := make([]byte, n*n)
	for i, m := range hf.Mask {
		if m {
			mask[i] = 255
		}
	}
	data, err := imaging.Encode(imaging.MaskImage(mask, n, n), "png")
	if err != nil {
		return nil, err
	}
	return &generator.Tile{
		Bytes:       data,
		ContentType: "image/png",
		FileClass:   resource.ClassData,
	}, nil
}

// buildIndex derives the delivery index from geometric coverage: a
// tile is real when it intersects the data extents, watertight when it
// lies fully inside, and carries a navtile up to navtileMaxLod.
// Ancestor flags aggregate bottom-up.
func buildIndex(rf *frame.ReferenceFrame, lodRange frame.LodRange, tileRange frame.TileRange,
	data frame.Extents) *tileindex.Builder {

	b := tileindex.NewBuilder()
	for lod := lodRange.Min; lod <= lodRange.Max; lod++ {
		r := frame.ShiftRange(tileRange, lodRange.Min, lod)
		for y := r.LL[1]; y <= r.UR[1]; y++ {
			for x := r.LL[0]; x <= r.UR[0]; x++ {
				id := frame.TileID{Lod: lod, X: x, Y: y}
				node := frame.NewNodeInfo(rf, id)
				if !node.Productive() {
					continue
				}
				ext := node.Extents()
				if !overlaps(ext, data) {
					continue
				}
				flags := tileindex.Mesh
				if contains(data, ext) {
					flags |= tileindex.Watertight
				}
				if lod <= navtileMaxLod {
					flags |= tileindex.Navtile
				}
				b.Set(id, flags)
			}
		}
	}
	return b
}

// navtileMaxLod bounds navtile presence; finer levels carry geometry
// only.
const navtileMaxLod = 10

func overlaps(a, b frame.Extents) bool {
	return a.LL[0] < b.UR[0] && a.UR[0] > b.LL[0] &&
		a.LL[1] < b.UR[1] && a.UR[1] > b.LL[1]
}

func contains(outer, inner frame.Extents) bool {
	return inner.LL[0] >= outer.LL[0] && inner.UR[0] <= outer.UR[0] &&
		inner.LL[1] >= outer.LL[1] && inner.UR[1] <= outer.UR[1]
}
