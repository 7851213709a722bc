package surface

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
	"github.com/cartolinadev/cartolina-tileserver/internal/vrt"
	"github.com/cartolinadev/cartolina-tileserver/internal/warper"
)

// demGenerator is the surface-dem producer: a VRT overview pyramid is
// prepared on first use, then every artifact samples it through the
// warper farm.
type demGenerator struct {
	common
	def *DemDefinition
}

func newDem(env generator.Env, res *resource.Resource) (generator.Generator, error) {
	def := res.Definition.(*DemDefinition)
	c, err := newSurfaceCommon(env, res, def.samples(), def.TextureLayer)
	if err != nil {
		return nil, err
	}
	return &demGenerator{common: c, def: def}, nil
}

// datasetVRT is the pyramid entry point all warps go through.
func (g *demGenerator) datasetVRT() string {
	return filepath.Join(g.dir, "dataset.vrt")
}

func (g *demGenerator) Prepare(ctx context.Context) error {
	return g.RunPrepare(ctx, func(ctx context.Context) error {
		// adopt a prepared artifact surviving from an earlier run
		conf, err := ReadTilesetConf(g.dir)
		if err == nil && conf != nil && conf.Revision >= g.Resource().Revision {
			if err := g.openIndex(); err == nil {
				g.adoptRevision(conf.Revision)
				return nil
			}
		}
		return g.build(ctx)
	})
}

func (g *demGenerator) adoptRevision(rev uint32) {
	res := g.Resource()
	if rev > res.Revision {
		clone := *res
		clone.Revision = rev
		g.Update(&clone)
	}
}

func (g *demGenerator) build(ctx context.Context) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return errs.Wrap(errs.IOError, err, "surface-dem: mkdir %s", g.dir)
	}

	src, err := g.sourcePath()
	if err != nil {
		return err
	}

	builder := vrt.NewBuilder(vrt.Config{
		WrapX:      g.def.WrapX,
		Resampling: g.def.Resampling,
	}, g.Env.Log)
	if _, err := builder.Build(ctx, src, g.dir); err != nil {
		return err
	}

	ds, err := gdal.Open(g.datasetVRT())
	if err != nil {
		return err
	}
	dataExtents, err := ds.Extents()
	ds.Close()
	if err != nil {
		return err
	}

	res := g.Resource()
	ix := buildIndex(g.rf, res.LodRange, res.TileRange, dataExtents)
	if err := ix.Save(filepath.Join(g.dir, deliveryIndexName)); err != nil {
		return err
	}

	conf := &TilesetConf{
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
}

// sourcePath realises the configured path mode for the original
// dataset.
func (g *demGenerator) sourcePath() (string, error) {
	switch g.def.PathToOriginalDataset {
	case "", PathSymlink:
		abs, err := filepath.Abs(g.def.Dataset)
		if err != nil {
			return "", errs.Wrap(errs.IOError, err, "surface-dem: resolve %s", g.def.Dataset)
		}
		link := filepath.Join(g.dir, "original"+filepath.Ext(abs))
		os.Remove(link)
		if err := os.Symlink(abs, link); err != nil {
			return "", errs.Wrap(errs.IOError, err, "surface-dem: symlink %s", abs)
		}
		return link, nil
	case PathAbsolute:
		return filepath.Abs(g.def.Dataset)
	case PathCopy:
		return "", errs.New(errs.Internal, "copy not implemented")
	}
	return "", errs.New(errs.Internal, "surface-dem: bad path mode %q", g.def.PathToOriginalDataset)
}

// sample warps the pyramid into one tile's heightfield grid.
func (g *demGenerator) sample(ctx context.Context, tile frame.TileID) (*Heightfield, error) {
	node := frame.NewNodeInfo(g.rf, tile)
	n := g.samples + 1
	raster, err := g.Env.Farm.WarpImage(ctx, warper.Request{
		Kind:    warper.Image,
		Dataset: g.datasetVRT(),
		Warp: gdal.WarpSpec{
			Extents:    node.Extents(),
			Width:      n,
			Height:     n,
			SRS:        node.SRS(),
			Resampling: "lanczos",
			Float:      true,
			WithMask:   true,
		},
	})
	if err != nil {
		return nil, err
	}

	hf := NewHeightfield(g.samples)
	for i := range hf.Heights {
		hf.Heights[i] = float64(raster.Floats[i])
		hf.Mask[i] = raster.Mask == nil || raster.Mask[i] != 0
	}
	return hf, nil
}

func (g *demGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Tile, error) {
	if err := g.CheckReady(); err != nil {
		return nil, err
	}
	return g.generate(ctx, req, g.sample)
}
