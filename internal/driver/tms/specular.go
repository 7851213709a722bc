package tms

import (
	"context"
	"errors"
	"slices"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/imaging"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// SpecularDefinition configures the tms-specular-map driver.
type SpecularDefinition struct {
	// Dataset is the orthophoto path.
	Dataset string `json:"dataset"`
	// Landcover classifies reflectance per class.
	Landcover string                   `json:"landcover"`
	Classes   []imaging.LandcoverClass `json:"classes"`
	// ShininessBits quantises the output reflectance.
	ShininessBits int `json:"shininessBits,omitempty"`
}

func (d *SpecularDefinition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "tms-specular-map: dataset is mandatory")
	}
	if d.Landcover == "" {
		return errs.New(errs.FormatError, "tms-specular-map: landcover is mandatory")
	}
	if d.ShininessBits < 0 || d.ShininessBits > 8 {
		return errs.New(errs.FormatError, "tms-specular-map: shininessBits must be 1..8")
	}
	return nil
}

func (d *SpecularDefinition) NeedsRanges() bool   { return true }
func (d *SpecularDefinition) FrozenCredits() bool { return false }

func (d *SpecularDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*SpecularDefinition)
	if !ok || d.Dataset != o.Dataset || d.Landcover != o.Landcover {
		return resource.ChangeIncompatible
	}
	if d.ShininessBits != o.ShininessBits || !slices.Equal(d.Classes, o.Classes) {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

type specularGenerator struct {
	Common
	def *SpecularDefinition
}

func newSpecular(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	common, err := newCommon(env, res, 1)
	if err != nil {
		return nil, err
	}
	return &specularGenerator{Common: common, def: res.Definition.(*SpecularDefinition)}, nil
}

func (g *specularGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		if err := probeDataset(g.def.Dataset); err != nil {
			return err
		}
		return probeDataset(g.def.Landcover)
	})
}

func (g *specularGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}

	switch req.File {
	case generator.TileMask:
		return g.serveMask(ctx, g.def.Dataset, req, false)
	case generator.TileImage:
	default:
		return nil, errs.New(errs.NotFound, "tms-specular-map: no %s artifact", req.File)
	}

	node, err := g.node(ctx, req)
	if err != nil {
		if errors.Is(err, errServeBlack) {
			return blackTile("png")
		}
		return nil, err
	}

	ortho, err := g.warpImage(ctx, g.def.Dataset, g.warpSpec(node, "cubic"))
	if err != nil {
		return nil, err
	}
	lc, err := g.warpImage(ctx, g.def.Landcover, g.warpSpec(node, "near"))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	img := imaging.SpecularMap(ortho, lc, g.def.Classes, g.def.ShininessBits)
	return encodeTile(img, "png")
}
