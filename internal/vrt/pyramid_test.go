package vrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

func TestLevelSizes(t *testing.T) {
	sizes := LevelSizes(Size{W: 4096, H: 2048}, 256)
	assert.Equal(t, []Size{
		{2048, 1024},
		{1024, 512},
		{512, 256},
		{256, 128},
		{128, 64},
	}, sizes)

	// odd dimensions round to nearest
	sizes = LevelSizes(Size{W: 1001, H: 333}, 256)
	assert.Equal(t, Size{501, 167}, sizes[0])
	assert.Equal(t, Size{251, 84}, sizes[1])

	// every level halves the previous one
	for i := 1; i < len(sizes); i++ {
		assert.Equal(t, halveRound(sizes[i-1].W), sizes[i].W)
		assert.Equal(t, halveRound(sizes[i-1].H), sizes[i].H)
	}

	// last level is the first with both dimensions below the minimum
	last := sizes[len(sizes)-1]
	assert.True(t, last.W < 256 && last.H < 256)
	prev := sizes[len(sizes)-2]
	assert.True(t, prev.W >= 256 || prev.H >= 256)
}

func TestHaloWidth(t *testing.T) {
	assert.Equal(t, 3, HaloWidth(0, 0))
	assert.Equal(t, 6, HaloWidth(1, 0))
	assert.Equal(t, 12, HaloWidth(2, 0))
	assert.Equal(t, 5, HaloWidth(0, 2))
	assert.Equal(t, 10, HaloWidth(1, 2))
}

func TestLevelsWrapX(t *testing.T) {
	ext := frame.Extents{LL: [2]float64{-180, -90}, UR: [2]float64{180, 90}}
	levels := Levels(Size{W: 4096, H: 2048}, ext, 256, true, 0)

	bottom := levels[0]
	assert.Equal(t, 3, bottom.Halo)
	assert.Equal(t, 2048+6, bottom.PaddedWidth())
	// extents widen by 3 pixels of this level on each side
	px := 360.0 / 2048
	assert.InDelta(t, -180-3*px, bottom.Extents.LL[0], 1e-9)
	assert.InDelta(t, 180+3*px, bottom.Extents.UR[0], 1e-9)
	// y is never padded
	assert.InDelta(t, -90, bottom.Extents.LL[1], 1e-9)
	assert.InDelta(t, 90, bottom.Extents.UR[1], 1e-9)

	// halo doubles at every level up
	for i := 1; i < len(levels); i++ {
		assert.Equal(t, 2*levels[i-1].Halo, levels[i].Halo, "level %d", i)
	}
}

func TestLevelsNoWrap(t *testing.T) {
	ext := frame.Extents{LL: [2]float64{0, 0}, UR: [2]float64{100, 50}}
	levels := Levels(Size{W: 1000, H: 500}, ext, 128, false, 0)
	for _, l := range levels {
		assert.Equal(t, 0, l.Halo)
		assert.Equal(t, l.Size.W, l.PaddedWidth())
		assert.Equal(t, ext, l.Extents)
	}
}

func TestTileGridAndWindows(t *testing.T) {
	level := Level{
		Index:  0,
		Size:   Size{W: 2500, H: 1100},
		PixelW: 1,
		PixelH: 1,
		Extents: frame.Extents{
			LL: [2]float64{0, 0},
			UR: [2]float64{2500, 1100},
		},
	}

	grid := level.TileGrid(1024)
	assert.Equal(t, Size{W: 3, H: 2}, grid)

	x, y, w, h := level.TileWindow(0, 0, 1024)
	assert.Equal(t, [4]int{0, 0, 1024, 1024}, [4]int{x, y, w, h})

	// last column and row are clipped
	x, y, w, h = level.TileWindow(2, 1, 1024)
	assert.Equal(t, [4]int{2048, 1024, 452, 76}, [4]int{x, y, w, h})

	e := level.TileExtents(2048, 1024, 452, 76)
	assert.InDelta(t, 2048, e.LL[0], 1e-9)
	assert.InDelta(t, 2500, e.UR[0], 1e-9)
	assert.InDelta(t, 0, e.LL[1], 1e-9)
	assert.InDelta(t, 76, e.UR[1], 1e-9)
}

func TestGeoTransform(t *testing.T) {
	level := Level{
		Size:   Size{W: 100, H: 50},
		Halo:   3,
		PixelW: 2,
		PixelH: 2,
		Extents: frame.Extents{
			LL: [2]float64{-206, 0},
			UR: [2]float64{206, 100},
		},
	}
	gt := level.GeoTransform()
	require.Equal(t, [6]float64{-206, 2, 0, 100, 0, -2}, gt)
}
