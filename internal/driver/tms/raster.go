package tms

import (
	"context"
	"errors"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// RasterDefinition configures the plain tms-raster driver.
type RasterDefinition struct {
	// Dataset is the source raster path.
	Dataset string `json:"dataset"`
	// Mask optionally overrides the coverage mask dataset.
	Mask string `json:"mask,omitempty"`
	// Format is the default serve format (jpg unless transparency is
	// needed).
	Format string `json:"format,omitempty"`
	// Resampling overrides the warp kernel.
	Resampling string `json:"resampling,omitempty"`
}

func (d *RasterDefinition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "tms-raster: dataset is mandatory")
	}
	switch d.Format {
	case "", "jpg", "png", "webp":
	default:
		return errs.New(errs.FormatError, "tms-raster: unknown format %q", d.Format)
	}
	return nil
}

func (d *RasterDefinition) NeedsRanges() bool   { return true }
func (d *RasterDefinition) FrozenCredits() bool { return false }

func (d *RasterDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*RasterDefinition)
	if !ok || d.Dataset != o.Dataset || d.Mask != o.Mask {
		return resource.ChangeIncompatible
	}
	if d.Format != o.Format || d.Resampling != o.Resampling {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

// rasterGenerator is the tms-raster producer.
type rasterGenerator struct {
	Common
	def *RasterDefinition
}

func newRaster(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	common, err := newCommon(env, res, 1)
	if err != nil {
		return nil, err
	}
	return &rasterGenerator{Common: common, def: res.Definition.(*RasterDefinition)}, nil
}

func (g *rasterGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		if err := probeDataset(g.def.Dataset); err != nil {
			return err
		}
		if g.def.Mask != "" {
			return probeDataset(g.def.Mask)
		}
		return nil
	})
}

func (g *rasterGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}

	switch req.File {
	case generator.TileMask:
		return g.serveMask(ctx, g.maskDataset(), req, false)
	case generator.TileImage:
	default:
		return nil, errs.New(errs.NotFound, "tms-raster: no %s artifact", req.File)
	}

	node, err := g.node(ctx, req)
	if err != nil {
		if errors.Is(err, errServeBlack) {
			return blackTile(g.format(req))
		}
		return nil, err
	}

	spec := g.warpSpec(node, g.def.Resampling)
	spec.WithMask = true
	raster, err := g.warpImage(ctx, g.def.Dataset, spec)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	img := imaging.FromRaster(raster)
	if g.def.Mask != "" {
		mask, err := g.warpMask(ctx, g.def.Mask, g.warpSpec(node, "near"), false)
		if err != nil {
			return nil, err
		}
		img = imaging.ApplyMask(img, mask)
	} else if raster.Mask != nil {
		img = imaging.ApplyMask(img, raster.Mask)
	}
	return encodeTile(img, g.format(req))
}

func (g *rasterGenerator) maskDataset() string {
	if g.def.Mask != "" {
		return g.def.Mask
	}
	return g.def.Dataset
}

func (g *rasterGenerator) format(req *generator.Request) string {
	if req.Format != "" {
		return req.Format
	}
	if g.def.Format != "" {
		return g.def.Format
	}
	return "jpg"
}
