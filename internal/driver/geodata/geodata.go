// Package geodata implements the vector producer: a GeoJSON dataset is
// heightcoded against a DEM stack in the warper farm and served as one
// monolithic artifact.
package geodata

import (
	"context"
	"encoding/json"
	"os"
	"slices"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// Definition configures the geodata driver.
type Definition struct {
	// Dataset is the GeoJSON vector input.
	Dataset string `json:"dataset"`
	// DemDatasets is the heightcoding DEM stack, best first; empty
	// serves the vector as-is.
	DemDatasets []string `json:"demDatasets,omitempty"`
	// GeoidGrid shifts sampled heights from ellipsoid to geoid.
	GeoidGrid string `json:"geoidGrid,omitempty"`
	// OpenOptions are driver open options for the vector dataset.
	OpenOptions []string `json:"openOptions,omitempty"`
	// Styles is an external style document URL advertised to clients.
	Styles string `json:"styles,omitempty"`
}

func (d *Definition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "geodata: dataset is mandatory")
	}
	return nil
}

func (d *Definition) NeedsRanges() bool   { return false }
func (d *Definition) FrozenCredits() bool { return false }

func (d *Definition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*Definition)
	if !ok || d.Dataset != o.Dataset {
		return resource.ChangeIncompatible
	}
	if !slices.Equal(d.DemDatasets, o.DemDatasets) || d.GeoidGrid != o.GeoidGrid ||
		!slices.Equal(d.OpenOptions, o.OpenOptions) {
		return resource.ChangeRevisionBump
	}
	if d.Styles != o.Styles {
		return resource.ChangeSafe
	}
	return resource.ChangeNone
}

type geodataGenerator struct {
	generator.Base
	def *Definition
}

func newGeodata(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	return &geodataGenerator{
		Base: generator.NewBase(env, res, 1),
		def:  res.Definition.(*Definition),
	}, nil
}

func (g *geodataGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(context.Context) error {
		if _, err := os.Stat(g.def.Dataset); err != nil {
			return errs.Wrap(errs.IOError, err, "geodata: dataset %s", g.def.Dataset)
		}
		return nil
	})
}

// Generate serves the monolithic heightcoded vector. Tile coordinates
// are ignored; the artifact is one file per resource.
func (g *geodataGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}
	if req.File != generator.TileImage {
		return nil, errs.New(errs.NotFound, "geodata: no %s artifact", req.File)
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.Cancelled, err, "request aborted")
	}

	var body []byte
	if len(g.def.DemDatasets) == 0 {
		data, err := os.ReadFile(g.def.Dataset)
		if err != nil {
			return nil, errs.Wrap(errs.IOError, err, "geodata: read %s", g.def.Dataset)
		}
		body = data
	} else {
		data, err := g.Env.Farm.HeightcodeVector(ctx, warper.Request{
			Kind:    warper.Heightcode,
			Dataset: g.def.Dataset,
			Heightcode: &warper.HeightcodeOptions{
				VectorDataset:  g.def.Dataset,
				RasterDatasets: g.def.DemDatasets,
				OpenOptions:    g.def.OpenOptions,
				GeoidGrid:      g.def.GeoidGrid,
			},
		})
		if err != nil {
			return nil, err
		}
		body = data
	}

	return &generator.Tile{
		Bytes:       body,
		ContentType: "application/json; charset=utf-8",
		FileClass:   resource.ClassData,
	}, nil
}

// Register wires the geodata driver into the registries.
func Register() {
	kind := resource.GeneratorKind{Kind: resource.KindGeodata, Driver: "geodata"}
	resource.RegisterDefinition(kind, func(raw json.RawMessage) (resource.Definition, error) {
		d := &Definition{}
		if err := json.Unmarshal(raw, d); err != nil {
			return nil, err
		}
		return d, nil
	})
	generator.RegisterFactory(kind, newGeodata)
}
