package imaging

import (
	"image"

	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// LandcoverClass describes one landcover category of a classification
// raster.
type LandcoverClass struct {
	// Value is the class id in the landcover band.
	Value uint8 `json:"value"`
	// Flat marks classes (water, ice) rendered with an upright normal.
	Flat bool `json:"flat,omitempty"`
	// Shininess is the specular strength of the class, 0..1.
	Shininess float64 `json:"shininess,omitempty"`
}

// FlatMask marks pixels whose landcover class is flat. The landcover
// raster is warped with nearest resampling so class values survive.
func FlatMask(landcover *gdal.Raster, classes []LandcoverClass) []bool {
	flat := map[uint8]bool{}
	for _, c := range classes {
		if c.Flat {
			flat[c.Value] = true
		}
	}
	out := make([]bool, landcover.Width*landcover.Height)
	for p := range out {
		out[p] = flat[landcover.Bytes[p*landcover.Bands]]
	}
	return out
}

// SpecularMap converts an orthophoto plus landcover classification
// into a specular-reflectance tile: each pixel carries the class
// shininess quantised to shininessBits, modulated by image luminance.
func SpecularMap(ortho, landcover *gdal.Raster, classes []LandcoverClass, shininessBits int) *image.Gray {
	if shininessBits <= 0 || shininessBits > 8 {
		shininessBits = 8
	}
	levels := float64(int(1)<<uint(shininessBits) - 1)
	scale := 255 / levels

	shininess := map[uint8]float64{}
	for _, c := range classes {
		shininess[c.Value] = c.Shininess
	}

	w, h := ortho.Width, ortho.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	for p := 0; p < w*h; p++ {
		var lum float64
		switch {
		case ortho.Bands >= 3:
			r := float64(ortho.Bytes[p*ortho.Bands+0])
			g := float64(ortho.Bytes[p*ortho.Bands+1])
			b := float64(ortho.Bytes[p*ortho.Bands+2])
			lum = (0.299*r + 0.587*g + 0.114*b) / 255
		default:
			lum = float64(ortho.Bytes[p*ortho.Bands]) / 255
		}

		s := 0.0
		if landcover != nil {
			s = shininess[landcover.Bytes[p*landcover.Bands]]
		}
		q := quantize(s*lum, levels)
		img.Pix[p] = uint8(q * scale)
	}
	return img
}

func quantize(v, levels float64) float64 {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	return float64(int(v*levels + 0.5))
}
