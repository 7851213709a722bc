// Package tms implements the bound-layer producers: plain raster,
// gdaldem-processed, normal-map and specular-map tiles on the TMS grid.
package tms

import (
	"context"
	"errors"
	"image"
	"image/color"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// tileSize is the edge of every bound-layer tile.
const tileSize = 256

// Common carries the behaviour shared by the tms drivers; each driver
// embeds it by value.
type Common struct {
	generator.Base
	rf *frame.ReferenceFrame
}

func newCommon(env generator.Env, res *resource.Resource, genRevision uint32) (Common, error) {
	rf, ok := frame.Get(res.ID.ReferenceFrame)
	if !ok {
		return Common{}, errs.New(errs.FormatError, "unknown reference frame %q", res.ID.ReferenceFrame)
	}
	return Common{Base: generator.NewBase(env, res, genRevision), rf: rf}, nil
}

// node gates a request: abort check, node validity, productivity and
// the configured lod/tile range. A nil error means the tile can be
// produced.
func (c *Common) node(ctx context.Context, req *generator.Request) (frame.NodeInfo, error) {
	if err := ctx.Err(); err != nil {
		return frame.NodeInfo{}, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	node := frame.NewNodeInfo(c.rf, req.Tile)
	if !node.Valid() {
		return node, errs.New(errs.NotFound, "tile %s outside the valid tree", req.Tile)
	}
	if !node.Productive() {
		return node, c.emptyPolicy(req)
	}

	res := c.Resource()
	if !res.LodRange.Contains(req.Tile.Lod) {
		return node, errs.New(errs.NotFound, "lod %d outside configured range", req.Tile.Lod)
	}
	r := frame.ShiftRange(res.TileRange, res.LodRange.Min, req.Tile.Lod)
	if !r.Contains(req.Tile.X, req.Tile.Y) {
		return node, errs.New(errs.NotFound, "tile %s outside configured range", req.Tile)
	}
	return node, nil
}

// errServeBlack short-circuits the productivity gate when the caller
// disabled the empty-tile optimisation: the producer answers with a
// black tile instead of warping or a 404.
var errServeBlack = errs.New(errs.EmptyImage, "unproductive tile, serving black")

// emptyPolicy maps "nothing here" onto the caller's preference: a
// black tile when optimisation is disabled, an empty-image 404
// otherwise.
func (c *Common) emptyPolicy(req *generator.Request) error {
	if req.Raw {
		return errServeBlack
	}
	if req.File == generator.TileMask {
		return errs.New(errs.EmptyDebugMask, "no data for %s", req.Tile)
	}
	return errs.New(errs.EmptyImage, "no data for %s", req.Tile)
}

// blackTile renders the non-optimised fallback.
func blackTile(format string) (*generator.Tile, error) {
	img := imaging.SolidTile(tileSize, color.NRGBA{A: 255})
	return encodeTile(img, format)
}

func encodeTile(img image.Image, format string) (*generator.Tile, error) {
	data, err := imaging.Encode(img, format)
	if err != nil {
		return nil, err
	}
	ct, err := imaging.ContentType(format)
	if err != nil {
		return nil, err
	}
	return &generator.Tile{Bytes: data, ContentType: ct, FileClass: resource.ClassData}, nil
}

// warpSpec builds the warp request grid for one tile.
func (c *Common) warpSpec(node frame.NodeInfo, resampling string) gdal.WarpSpec {
	if resampling == "" {
		resampling = "cubic"
	}
	return gdal.WarpSpec{
		Extents:    node.Extents(),
		Width:      tileSize,
		Height:     tileSize,
		SRS:        node.SRS(),
		Resampling: resampling,
	}
}

// warpImage runs one image warp through the farm.
func (c *Common) warpImage(ctx context.Context, dataset string, spec gdal.WarpSpec) (*gdal.Raster, error) {
	return c.Env.Farm.WarpImage(ctx, warper.Request{
		Kind:    warper.Image,
		Dataset: dataset,
		Warp:    spec,
	})
}

// warpMask warps the dataset coverage mask, applying the documented
// one-pixel erosion when erode is set.
func (c *Common) warpMask(ctx context.Context, dataset string, spec gdal.WarpSpec, erode bool) ([]byte, error) {
	raster, err := c.Env.Farm.WarpImage(ctx, warper.Request{
		Kind:    warper.Mask,
		Dataset: dataset,
		Warp:    spec,
	})
	if err != nil {
		return nil, err
	}
	mask := raster.Mask
	if mask == nil {
		mask = raster.Bytes
	}
	if erode {
		mask = imaging.ErodeMask(mask, raster.Width, raster.Height)
	}
	return mask, nil
}

// serveMask is the shared mask artifact path.
func (c *Common) serveMask(ctx context.Context, dataset string, req *generator.Request, erode bool) (*generator.Tile, error) {
	node, err := c.node(ctx, req)
	if err != nil {
		if errors.Is(err, errServeBlack) {
			return encodeTile(imaging.MaskImage(make([]byte, tileSize*tileSize), tileSize, tileSize), "png")
		}
		return nil, err
	}
	mask, err := c.warpMask(ctx, dataset, c.warpSpec(node, "near"), erode)
	if err != nil {
		return nil, err
	}
	empty := true
	for _, v := range mask {
		if v != 0 {
			empty = false
			break
		}
	}
	if empty && !req.Raw {
		return nil, errs.New(errs.EmptyDebugMask, "empty mask for %s", req.Tile)
	}
	return encodeTile(imaging.MaskImage(mask, tileSize, tileSize), "png")
}

// probeDataset verifies a dataset during preparation.
func probeDataset(path string) error {
	ds, err := gdal.Open(path)
	if err != nil {
		return err
	}
	defer ds.Close()
	if _, err := ds.Extents(); err != nil {
		return err
	}
	return nil
}
