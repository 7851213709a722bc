package vrt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// Config drives one pyramid build.
type Config struct {
	// MinOvrSize stops the pyramid: levels are generated until both
	// dimensions drop below it.
	MinOvrSize int
	// TileSize is the edge of the per-level GeoTIFF tiles.
	TileSize int
	// WrapX enables the antimeridian halo; Overlap adds extra pixels on
	// top of the 3-px kernel footprint.
	WrapX   bool
	Overlap int
	// Background, when set, defines the empty-tile colour and a solid
	// backdrop for gaps. One byte per band.
	Background []byte
	// Resampling is the warp kernel for overview generation.
	Resampling string
	// NoData overrides the source nodata value.
	NoData *float64
	// Parallelism bounds the per-level tile workers.
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.MinOvrSize <= 0 {
		c.MinOvrSize = 256
	}
	if c.TileSize <= 0 {
		c.TileSize = 1024
	}
	if c.Resampling == "" {
		c.Resampling = "lanczos"
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 1
	}
	return c
}

// Pyramid is the result of a successful build.
type Pyramid struct {
	Dir        string
	DatasetVRT string
	Levels     []Level

	TilesWritten int
	TilesEmpty   int
}

// Builder materialises VRT overview pyramids on disk. A failed build
// leaves partial output behind; preparation recovers by re-running the
// build into the same directory.
type Builder struct {
	cfg Config
	log *slog.Logger
}

func NewBuilder(cfg Config, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{cfg: cfg.withDefaults(), log: log}
}

// Build creates dataset.vrt plus numbered overview levels under dir for
// the raster at srcPath.
func (b *Builder) Build(ctx context.Context, srcPath, dir string) (*Pyramid, error) {
	src, err := gdal.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info, err := src.Info()
	if err != nil {
		return nil, err
	}
	srcExtents, err := src.Extents()
	if err != nil {
		return nil, err
	}
	nodata := info.NoData
	if b.cfg.NoData != nil {
		nodata = b.cfg.NoData
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IOError, err, "vrt: mkdir %s", dir)
	}

	datasetVRT := filepath.Join(dir, "dataset.vrt")
	if err := b.writeDatasetVRT(datasetVRT, srcPath, info, srcExtents, nodata); err != nil {
		return nil, err
	}

	levels := Levels(Size{W: info.Width, H: info.Height}, srcExtents,
		b.cfg.MinOvrSize, b.cfg.WrapX, b.cfg.Overlap)

	pyr := &Pyramid{Dir: dir, DatasetVRT: datasetVRT, Levels: levels}
	prev := datasetVRT
	for _, level := range levels {
		levelVRT, err := b.buildLevel(ctx, pyr, prev, level, info, nodata)
		if err != nil {
			return nil, err
		}
		rel, _ := filepath.Rel(filepath.Dir(prev), levelVRT)
		if err := CrossLink(prev, rel); err != nil {
			return nil, err
		}
		prev = levelVRT
	}

	b.log.Info("vrt pyramid built",
		"dir", dir,
		"levels", len(levels),
		"tiles", pyr.TilesWritten,
		"empty", pyr.TilesEmpty)
	return pyr, nil
}

// writeDatasetVRT wraps the original dataset. With x-wrapping, edge
// strips of the source are duplicated into a halo on both sides so that
// bottom-level warps read wrapped pixels instead of nodata.
func (b *Builder) writeDatasetVRT(path, srcPath string, info gdal.Info, ext frame.Extents, nodata *float64) error {
	halo := 0
	if b.cfg.WrapX {
		halo = 3 + b.cfg.Overlap
	}
	px := ext.Width() / float64(info.Width)

	srcRef, rel := sourcePath(filepath.Dir(path), srcPath)
	props := &SourceProperties{
		RasterXSize: info.Width,
		RasterYSize: info.Height,
		DataType:    info.DataType,
		BlockXSize:  info.BlockW,
		BlockYSize:  info.BlockH,
	}

	doc := &Document{
		RasterXSize: info.Width + 2*halo,
		RasterYSize: info.Height,
		SRS:         info.Projection,
		GeoTransform: FormatGeoTransform([6]float64{
			ext.LL[0] - float64(halo)*px, px, 0,
			ext.UR[1], 0, -ext.Height() / float64(info.Height),
		}),
	}

	fullRect := Rect{XSize: float64(info.Width), YSize: float64(info.Height)}
	for band := 1; band <= info.Bands; band++ {
		vb := &Band{DataType: info.DataType, BandNo: band, NoData: nodata}
		vb.Sources = append(vb.Sources, SimpleSource{
			SourceFilename:   SourceFilename{RelativeToVRT: rel, Shared: 0, Path: srcRef},
			SourceBand:       strconv.Itoa(band),
			SourceProperties: props,
			SrcRect:          fullRect,
			DstRect:          Rect{XOff: float64(halo), XSize: float64(info.Width), YSize: float64(info.Height)},
		})
		if halo > 0 {
			// right strip of the source lands in the left halo, left
			// strip beyond the right edge
			vb.Sources = append(vb.Sources,
				SimpleSource{
					SourceFilename:   SourceFilename{RelativeToVRT: rel, Path: srcRef},
					SourceBand:       strconv.Itoa(band),
					SourceProperties: props,
					SrcRect: Rect{XOff: float64(info.Width - halo),
						XSize: float64(halo), YSize: float64(info.Height)},
					DstRect: Rect{XSize: float64(halo), YSize: float64(info.Height)},
				},
				SimpleSource{
					SourceFilename:   SourceFilename{RelativeToVRT: rel, Path: srcRef},
					SourceBand:       strconv.Itoa(band),
					SourceProperties: props,
					SrcRect:          Rect{XSize: float64(halo), YSize: float64(info.Height)},
					DstRect: Rect{XOff: float64(halo + info.Width),
						XSize: float64(halo), YSize: float64(info.Height)},
				})
		}
		doc.Bands = append(doc.Bands, vb)
	}
	return doc.Write(path)
}

// buildLevel warps the previous level into this level's tile grid,
// eliminates empty tiles and writes the level VRT.
func (b *Builder) buildLevel(ctx context.Context, pyr *Pyramid, prevPath string, level Level, info gdal.Info, nodata *float64) (string, error) {
	levelDir := filepath.Join(pyr.Dir, strconv.Itoa(level.Index))
	if err := os.MkdirAll(levelDir, 0o755); err != nil {
		return "", errs.Wrap(errs.IOError, err, "vrt: mkdir %s", levelDir)
	}

	prev, err := gdal.Open(prevPath)
	if err != nil {
		return "", err
	}
	defer prev.Close()

	grid := level.TileGrid(b.cfg.TileSize)

	var (
		mu      sync.Mutex
		sources []tileSource
		empty   int
	)

	// per-tile cost varies widely between empty and full tiles; let the
	// group schedule dynamically
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Parallelism)
	for ty := 0; ty < grid.H; ty++ {
		for tx := 0; tx < grid.W; tx++ {
			tx, ty := tx, ty
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return errs.Wrap(errs.Cancelled, err, "vrt: level %d", level.Index)
				}
				x, y, w, h := level.TileWindow(tx, ty, b.cfg.TileSize)
				tilePath := filepath.Join(levelDir, fmt.Sprintf("%d-%d.tif", tx, ty))
				spec := gdal.WarpSpec{
					Extents:    level.TileExtents(x, y, w, h),
					Width:      w,
					Height:     h,
					SRS:        info.Projection,
					Resampling: b.cfg.Resampling,
					NoData:     nodata,
				}
				res, err := prev.WarpToGeoTIFF(tilePath, spec, b.cfg.Background, b.cfg.TileSize)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if res.Empty {
					empty++
					return nil
				}
				tinfo, err := probeTile(tilePath)
				if err != nil {
					return err
				}
				sources = append(sources, tileSource{tx: tx, ty: ty, x: x, y: y, w: w, h: h, path: tilePath, info: tinfo})
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	mu.Lock()
	pyr.TilesWritten += len(sources)
	pyr.TilesEmpty += empty
	mu.Unlock()

	doc := &Document{
		RasterXSize:  level.PaddedWidth(),
		RasterYSize:  level.Size.H,
		SRS:          info.Projection,
		GeoTransform: FormatGeoTransform(level.GeoTransform()),
	}
	hasMask := info.NoData == nil && nodata == nil
	for band := 1; band <= info.Bands; band++ {
		vb := &Band{DataType: info.DataType, BandNo: band, NoData: nodata}
		for _, s := range sources {
			vb.Sources = append(vb.Sources, levelSource(levelDir, s.path, s.info, band, s.x, s.y, s.w, s.h))
		}
		if level.Halo > 0 {
			vb.Sources = append(vb.Sources, wrapSources(levelDir, sources, band, level)...)
		}
		doc.Bands = append(doc.Bands, vb)
	}
	if hasMask {
		mb := &Band{DataType: "Byte", SubClass: "VRTSourcedRasterBand", ColorInterp: "Alpha"}
		for _, s := range sources {
			src := levelSource(levelDir, s.path, s.info, 1, s.x, s.y, s.w, s.h)
			src.SourceBand = "mask,1"
			mb.Sources = append(mb.Sources, src)
		}
		doc.MaskBand = &MaskBand{Band: mb}
	}

	levelVRT := filepath.Join(levelDir, "ovr.vrt")
	if err := doc.Write(levelVRT); err != nil {
		return "", err
	}
	return levelVRT, nil
}

func levelSource(levelDir, tilePath string, tinfo gdal.Info, band, x, y, w, h int) SimpleSource {
	ref, rel := sourcePath(levelDir, tilePath)
	return SimpleSource{
		SourceFilename: SourceFilename{RelativeToVRT: rel, Shared: 0, Path: ref},
		SourceBand:     strconv.Itoa(band),
		SourceProperties: &SourceProperties{
			RasterXSize: tinfo.Width,
			RasterYSize: tinfo.Height,
			DataType:    tinfo.DataType,
			BlockXSize:  tinfo.BlockW,
			BlockYSize:  tinfo.BlockH,
		},
		SrcRect: Rect{XSize: float64(w), YSize: float64(h)},
		DstRect: Rect{XOff: float64(x), YOff: float64(y), XSize: float64(w), YSize: float64(h)},
	}
}

type tileSource struct {
	tx, ty     int
	x, y, w, h int
	path       string
	info       gdal.Info
}

// wrapSources duplicates edge-column tiles into the opposite halo so
// that the level raster wraps in x.
func wrapSources(levelDir string, sources []tileSource, band int, level Level) []SimpleSource {
	var out []SimpleSource
	shift := float64(level.Size.W)
	for _, s := range sources {
		// tiles overlapping the west data edge reappear past the east
		// edge and vice versa
		if s.x < level.Halo+level.Halo {
			src := levelSource(levelDir, s.path, s.info, band, s.x, s.y, s.w, s.h)
			src.DstRect.XOff += shift
			out = append(out, src)
		}
		if s.x+s.w > level.Halo+level.Size.W-level.Halo {
			src := levelSource(levelDir, s.path, s.info, band, s.x, s.y, s.w, s.h)
			src.DstRect.XOff -= shift
			out = append(out, src)
		}
	}
	return out
}

func probeTile(path string) (gdal.Info, error) {
	ds, err := gdal.Open(path)
	if err != nil {
		return gdal.Info{}, err
	}
	defer ds.Close()
	return ds.Info()
}

func sourcePath(baseDir, target string) (string, int) {
	return relOrAbs(baseDir, target)
}
