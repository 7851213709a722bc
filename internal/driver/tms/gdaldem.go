package tms

import (
	"context"
	"errors"
	"slices"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// GdaldemDefinition configures the tms-gdaldem driver.
type GdaldemDefinition struct {
	// Dataset is the DEM path.
	Dataset string `json:"dataset"`
	// Processing selects the gdaldem algorithm.
	Processing string `json:"processing"`
	// Options are raw gdaldem switches.
	Options []string `json:"options,omitempty"`
	// ColorFile backs color-relief processing.
	ColorFile string `json:"colorFile,omitempty"`
	// Resampling overrides the warp kernel.
	Resampling string `json:"resampling,omitempty"`
}

func (d *GdaldemDefinition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "tms-gdaldem: dataset is mandatory")
	}
	if !gdal.ValidDemAlgorithm(d.Processing) {
		return errs.New(errs.FormatError, "tms-gdaldem: unknown processing %q", d.Processing)
	}
	if d.Processing == string(gdal.DemColorRelief) && d.ColorFile == "" {
		return errs.New(errs.FormatError, "tms-gdaldem: color-relief needs a colorFile")
	}
	return nil
}

func (d *GdaldemDefinition) NeedsRanges() bool   { return true }
func (d *GdaldemDefinition) FrozenCredits() bool { return false }

func (d *GdaldemDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*GdaldemDefinition)
	if !ok || d.Dataset != o.Dataset {
		return resource.ChangeIncompatible
	}
	if d.Processing != o.Processing || !slices.Equal(d.Options, o.Options) ||
		d.ColorFile != o.ColorFile || d.Resampling != o.Resampling {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

type gdaldemGenerator struct {
	Common
	def *GdaldemDefinition
}

func newGdaldem(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	common, err := newCommon(env, res, 1)
	if err != nil {
		return nil, err
	}
	return &gdaldemGenerator{Common: common, def: res.Definition.(*GdaldemDefinition)}, nil
}

func (g *gdaldemGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		return probeDataset(g.def.Dataset)
	})
}

func (g *gdaldemGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}

	switch req.File {
	case generator.TileMask:
		// the mask path warps the mask band; the processed image is
		// not consulted
		return g.serveMask(ctx, g.def.Dataset, req, true)
	case generator.TileImage:
	default:
		return nil, errs.New(errs.NotFound, "tms-gdaldem: no %s artifact", req.File)
	}

	node, err := g.node(ctx, req)
	if err != nil {
		if errors.Is(err, errServeBlack) {
			return blackTile(g.format(req))
		}
		return nil, err
	}

	raster, err := g.Env.Farm.WarpImage(ctx, warper.Request{
		Kind:    warper.Dem,
		Dataset: g.def.Dataset,
		Warp:    g.warpSpec(node, g.def.Resampling),
		Dem: &warper.DemOptions{
			Algorithm: g.def.Processing,
			ColorFile: g.def.ColorFile,
			Options:   g.def.Options,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	img := imaging.FromRaster(raster)
	mask, err := g.warpMask(ctx, g.def.Dataset, g.warpSpec(node, "near"), true)
	if err != nil {
		return nil, err
	}
	img = imaging.ApplyMask(img, mask)
	return encodeTile(img, g.format(req))
}

func (g *gdaldemGenerator) format(req *generator.Request) string {
	if req.Format != "" {
		return req.Format
	}
	return "png"
}
