package surface

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// spheroidGenerator serves a constant-zero surface. Preparation does
// not warp anything: it only materialises the tileset index with
// mesh|watertight everywhere within the productive subtree.
type spheroidGenerator struct {
	common
	def *SpheroidDefinition
}

func newSpheroid(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	def := res.Definition.(*SpheroidDefinition)
	c, err := newSurfaceCommon(env, res, def.samples(), def.TextureLayer)
	if err != nil {
		return nil, err
	}
	return &spheroidGenerator{common: c, def: def}, nil
}

func (g *spheroidGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(ctx context.Context) error {
		conf, err := ReadTilesetConf(g.dir)
		if err == nil && conf != nil && conf.Revision >= g.Resource().Revision {
			if err := g.openIndex(); err == nil {
				return nil
			}
		}

		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			return errs.Wrap(errs.IOError, err, "surface-spheroid: mkdir %s", g.dir)
		}

		res := g.Resource()
		// the whole frame is data: every productive tile is real and
		// watertight
		ix := buildIndex(g.rf, res.LodRange, res.TileRange, g.rf.RootExtents)
		if err := ix.Save(filepath.Join(g.dir, deliveryIndexName)); err != nil {
			return err
		}
		conf = &TilesetConf{
			ID:               res.ID.FullID(),
			ReferenceFrame:   res.ID.ReferenceFrame,
			LodRange:         res.LodRange,
			TileRange:        res.TileRange,
			Revision:         res.Revision,
			Credits:          res.Credits,
			NominalTexelSize: TexelSize(frame.NewNodeInfo(g.rf, frame.TileID{Lod: res.LodRange.Max}), g.samples),
			MergeBottomLod:   res.LodRange.Max,
		}
		if err := WriteTilesetConf(g.dir, conf); err != nil {
			return err
		}
		return g.openIndex()
	})
}

// sample yields the constant-zero heightfield, fully covered.
func (g *spheroidGenerator) sample(context.Context, frame.TileID) (*Heightfield, error) {
	hf := NewHeightfield(g.samples)
	for i := range hf.Mask {
		hf.Mask[i] = true
	}
	return hf, nil
}

func (g *spheroidGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}
	return g.generate(ctx, req, g.sample)
}
