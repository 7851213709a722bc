package vrt

import (
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// Size is a raster size in pixels.
type Size struct {
	W int
	H int
}

// halveRound halves with round-to-nearest, never below 1.
func halveRound(v int) int {
	h := (v + 1) / 2
	if h < 1 {
		return 1
	}
	return h
}

// LevelSizes computes the overview level sizes by repeated halving of
// the source. Levels are generated until both dimensions have dropped
// below minOvr; the first such level is included.
func LevelSizes(src Size, minOvr int) []Size {
	var out []Size
	cur := src
	for {
		cur = Size{W: halveRound(cur.W), H: halveRound(cur.H)}
		out = append(out, cur)
		if cur.W < minOvr && cur.H < minOvr {
			return out
		}
		if cur.W == 1 && cur.H == 1 {
			return out
		}
	}
}

// HaloWidth is the per-side x halo in a level's own pixels: 3 px (the
// worst-case Lanczos kernel footprint) at the bottom level, doubled at
// every level up.
func HaloWidth(depthFromBottom, overlap int) int {
	return (3 + overlap) << uint(depthFromBottom)
}

// Level describes the geometry of one pyramid level. Level 0 is the
// bottom (finest) overview.
type Level struct {
	Index int
	// Size is the unpadded raster size.
	Size Size
	// Halo is the per-side x padding in this level's pixels; 0 when
	// x-wrapping is off.
	Halo int
	// Extents cover the padded raster in source SRS units.
	Extents frame.Extents
	// PixelW and PixelH are the geo size of one pixel.
	PixelW float64
	PixelH float64
}

// PaddedWidth is the raster width including both halos.
func (l Level) PaddedWidth() int { return l.Size.W + 2*l.Halo }

// GeoTransform returns the level's north-up geotransform.
func (l Level) GeoTransform() [6]float64 {
	return [6]float64{l.Extents.LL[0], l.PixelW, 0, l.Extents.UR[1], 0, -l.PixelH}
}

// TileGrid is the tile count per axis for a given tile size.
func (l Level) TileGrid(tileSize int) Size {
	return Size{
		W: (l.PaddedWidth() + tileSize - 1) / tileSize,
		H: (l.Size.H + tileSize - 1) / tileSize,
	}
}

// TileWindow returns the pixel window of tile (tx, ty), clipped to the
// raster.
func (l Level) TileWindow(tx, ty, tileSize int) (x, y, w, h int) {
	x = tx * tileSize
	y = ty * tileSize
	w = tileSize
	if x+w > l.PaddedWidth() {
		w = l.PaddedWidth() - x
	}
	h = tileSize
	if y+h > l.Size.H {
		h = l.Size.H - y
	}
	return
}

// TileExtents converts a pixel window into geo extents.
func (l Level) TileExtents(x, y, w, h int) frame.Extents {
	return frame.Extents{
		LL: [2]float64{
			l.Extents.LL[0] + float64(x)*l.PixelW,
			l.Extents.UR[1] - float64(y+h)*l.PixelH,
		},
		UR: [2]float64{
			l.Extents.LL[0] + float64(x+w)*l.PixelW,
			l.Extents.UR[1] - float64(y)*l.PixelH,
		},
	}
}

// Levels lays out the whole pyramid for a source raster. With wrapx
// enabled, each level is widened by HaloWidth pixels per side and its
// extents translated accordingly, so edge strips can be duplicated into
// the halo and kernels convolve over wrapped pixels instead of nodata.
func Levels(src Size, srcExtents frame.Extents, minOvr int, wrapx bool, overlap int) []Level {
	sizes := LevelSizes(src, minOvr)
	levels := make([]Level, len(sizes))
	for i, size := range sizes {
		pw := srcExtents.Width() / float64(size.W)
		ph := srcExtents.Height() / float64(size.H)
		halo := 0
		if wrapx {
			halo = HaloWidth(i, overlap)
		}
		levels[i] = Level{
			Index:  i,
			Size:   size,
			Halo:   halo,
			PixelW: pw,
			PixelH: ph,
			Extents: frame.Extents{
				LL: [2]float64{srcExtents.LL[0] - float64(halo)*pw, srcExtents.LL[1]},
				UR: [2]float64{srcExtents.UR[0] + float64(halo)*pw, srcExtents.UR[1]},
			},
		}
	}
	return levels
}
