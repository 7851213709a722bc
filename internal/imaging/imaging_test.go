package imaging

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
	riffMagic = []byte("RIFF")
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for p := 0; p < 16*16; p++ {
		img.Pix[p*4+0] = uint8(p)
		img.Pix[p*4+1] = uint8(p * 2)
		img.Pix[p*4+2] = 128
		img.Pix[p*4+3] = 255
	}
	return img
}

func TestEncodeMagicBytes(t *testing.T) {
	img := testImage()

	png, err := Encode(img, "png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	jpg, err := Encode(img, "jpg")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(jpg, jpegMagic))

	webp, err := Encode(img, "webp")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(webp, riffMagic))

	_, err = Encode(img, "tiff")
	assert.Error(t, err)
}

func TestContentTypeMatchesFormat(t *testing.T) {
	for format, want := range map[string]string{
		"jpg":     "image/jpeg",
		"png":     "image/png",
		"webp":    "image/webp",
		"terrain": "application/vnd.quantized-mesh",
	} {
		ct, err := ContentType(format)
		require.NoError(t, err)
		assert.Equal(t, want, ct)
	}
	_, err := ContentType("bmp")
	assert.Error(t, err)
}

func TestFromRasterBands(t *testing.T) {
	gray := FromRaster(&gdal.Raster{Width: 2, Height: 1, Bands: 1, Bytes: []byte{0, 255}})
	g, ok := gray.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(255), g.Pix[1])

	rgb := FromRaster(&gdal.Raster{Width: 1, Height: 1, Bands: 3, Bytes: []byte{10, 20, 30}})
	n, ok := rgb.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, []uint8{10, 20, 30, 255}, n.Pix[:4])
}

func TestApplyMask(t *testing.T) {
	img := SolidTile(2, color.NRGBA{R: 9, G: 9, B: 9, A: 255})
	masked := ApplyMask(img, []byte{255, 0, 255, 255})
	m := masked.(*image.NRGBA)
	assert.Equal(t, uint8(255), m.Pix[3])
	assert.Equal(t, uint8(0), m.Pix[7])
}

func TestErodeMask(t *testing.T) {
	// a 5x5 full square erodes to its 3x3 core
	mask := make([]byte, 25)
	for i := range mask {
		mask[i] = 255
	}
	// clear one edge pixel; erosion must clear its neighbourhood
	mask[2] = 0

	out := ErodeMask(mask, 5, 5)
	// corners always erode
	assert.Equal(t, byte(0), out[0])
	assert.Equal(t, byte(0), out[4])
	assert.Equal(t, byte(0), out[20])
	// centre survives
	assert.Equal(t, byte(255), out[12])
	// the hole at (2,0) eats into row 1
	assert.Equal(t, byte(0), out[7])
}

func TestNormalMapFlatTerrain(t *testing.T) {
	rf, _ := frame.Get("webmerc")
	// deep tile: small extent, centre-rotation path
	node := frame.NewNodeInfo(rf, frame.TileID{Lod: 10, X: 512, Y: 512})

	dem := &gdal.Raster{Width: 8, Height: 8, Float: true, Floats: make([]float32, 64)}
	img := NormalMap(dem, node, NormalConfig{ZFactor: 1}, nil)

	// flat terrain yields one uniform colour (a constant rotation of
	// the up vector)
	first := img.Pix[:4]
	for p := 1; p < 64; p++ {
		assert.Equal(t, first, img.Pix[p*4:p*4+4], "pixel %d", p)
	}
	assert.Equal(t, uint8(255), img.Pix[3])
}

func TestNormalMapSlopeDirection(t *testing.T) {
	rf, _ := frame.Get("webmerc")
	node := frame.NewNodeInfo(rf, frame.TileID{Lod: 12, X: 2048, Y: 2048})

	// ramp rising to the east
	dem := &gdal.Raster{Width: 8, Height: 8, Float: true, Floats: make([]float32, 64)}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			dem.Floats[y*8+x] = float32(x) * 1000
		}
	}

	flatDem := &gdal.Raster{Width: 8, Height: 8, Float: true, Floats: make([]float32, 64)}
	ramp := NormalMap(dem, node, NormalConfig{ZFactor: 1}, nil)
	flat := NormalMap(flatDem, node, NormalConfig{ZFactor: 1}, nil)

	// sloped terrain must differ from flat terrain
	assert.NotEqual(t, flat.Pix, ramp.Pix)

	// flat-pixel mask forces the upright normal regardless of the DEM
	mask := make([]bool, 64)
	for i := range mask {
		mask[i] = true
	}
	forced := NormalMap(dem, node, NormalConfig{ZFactor: 1}, mask)
	assert.Equal(t, flat.Pix, forced.Pix)
}

func TestSpecularMap(t *testing.T) {
	ortho := &gdal.Raster{Width: 2, Height: 1, Bands: 3, Bytes: []byte{
		255, 255, 255,
		255, 255, 255,
	}}
	landcover := &gdal.Raster{Width: 2, Height: 1, Bands: 1, Bytes: []byte{1, 2}}
	classes := []LandcoverClass{
		{Value: 1, Shininess: 1, Flat: true},
		{Value: 2, Shininess: 0},
	}

	img := SpecularMap(ortho, landcover, classes, 4)
	assert.Equal(t, uint8(255), img.Pix[0])
	assert.Equal(t, uint8(0), img.Pix[1])

	flat := FlatMask(landcover, classes)
	assert.Equal(t, []bool{true, false}, flat)
}
