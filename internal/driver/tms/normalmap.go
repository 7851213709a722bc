package tms

import (
	"context"
	"errors"
	"slices"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// NormalMapDefinition configures the tms-normal-map driver.
type NormalMapDefinition struct {
	// Dataset is the DEM path.
	Dataset string `json:"dataset"`
	// Landcover optionally classifies flat pixels.
	Landcover string                   `json:"landcover,omitempty"`
	Classes   []imaging.LandcoverClass `json:"classes,omitempty"`
	// ZFactor scales heights before slope derivation.
	ZFactor float64 `json:"zFactor,omitempty"`
	// InvertRelief flips the horizontal components.
	InvertRelief bool `json:"invertRelief,omitempty"`
}

func (d *NormalMapDefinition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "tms-normal-map: dataset is mandatory")
	}
	if d.Landcover == "" && len(d.Classes) > 0 {
		return errs.New(errs.FormatError, "tms-normal-map: classes need a landcover dataset")
	}
	return nil
}

func (d *NormalMapDefinition) NeedsRanges() bool   { return true }
func (d *NormalMapDefinition) FrozenCredits() bool { return false }

func (d *NormalMapDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*NormalMapDefinition)
	if !ok || d.Dataset != o.Dataset || d.Landcover != o.Landcover {
		return resource.ChangeIncompatible
	}
	if d.ZFactor != o.ZFactor || d.InvertRelief != o.InvertRelief ||
		!slices.Equal(d.Classes, o.Classes) {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

type normalMapGenerator struct {
	Common
	def *NormalMapDefinition
}

func newNormalMap(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	common, err := newCommon(env, res, 1)
	if err != nil {
		return nil, err
	}
	return &normalMapGenerator{Common: common, def: res.Definition.(*NormalMapDefinition)}, nil
}

func (g *normalMapGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		if err := probeDataset(g.def.Dataset); err != nil {
			return err
		}
		if g.def.Landcover != "" {
			return probeDataset(g.def.Landcover)
		}
		return nil
	})
}

func (g *normalMapGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}

	switch req.File {
	case generator.TileMask:
		return g.serveMask(ctx, g.def.Dataset, req, false)
	case generator.TileImage:
	default:
		return nil, errs.New(errs.NotFound, "tms-normal-map: no %s artifact", req.File)
	}

	node, err := g.node(ctx, req)
	if err != nil {
		if errors.Is(err, errServeBlack) {
			return blackTile("webp")
		}
		return nil, err
	}

	spec := g.warpSpec(node, "cubic")
	spec.Float = true
	dem, err := g.Env.Farm.WarpImage(ctx, warper.Request{
		Kind:    warper.Image,
		Dataset: g.def.Dataset,
		Warp:    spec,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	var flat []bool
	if g.def.Landcover != "" {
		// nearest resampling keeps class values intact
		lc, err := g.warpImage(ctx, g.def.Landcover, g.warpSpec(node, "near"))
		if err != nil {
			return nil, err
		}
		flat = imaging.FlatMask(lc, g.def.Classes)
	}

	img := imaging.NormalMap(dem, node, imaging.NormalConfig{
		ZFactor:      g.def.ZFactor,
		InvertRelief: g.def.InvertRelief,
	}, flat)

	// normals must survive byte-exact: lossless WebP only
	return encodeTile(img, "webp")
}
