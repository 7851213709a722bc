package imaging

import (
	"image"
	"image/color"

	"github.com/disintegration/gift"

	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// FromRaster converts a warped byte raster into an image. 1 band maps
// to grayscale, 3 to RGB, 4 to RGBA; 2-band rasters take the second
// band as alpha.
func FromRaster(r *gdal.Raster) image.Image {
	switch r.Bands {
	case 1:
		img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
		copy(img.Pix, r.Bytes)
		return img
	case 2:
		img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		for p := 0; p < r.Width*r.Height; p++ {
			v := r.Bytes[p*2]
			img.Pix[p*4+0] = v
			img.Pix[p*4+1] = v
			img.Pix[p*4+2] = v
			img.Pix[p*4+3] = r.Bytes[p*2+1]
		}
		return img
	case 4:
		img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		copy(img.Pix, r.Bytes)
		return img
	default:
		// three or more bands: first three are RGB
		img := image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		for p := 0; p < r.Width*r.Height; p++ {
			img.Pix[p*4+0] = r.Bytes[p*r.Bands+0]
			img.Pix[p*4+1] = r.Bytes[p*r.Bands+1]
			img.Pix[p*4+2] = r.Bytes[p*r.Bands+2]
			img.Pix[p*4+3] = 255
		}
		return img
	}
}

// ApplyMask punches mask zeros into the image alpha channel.
func ApplyMask(img image.Image, mask []byte) image.Image {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	w := b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if mask[(y-b.Min.Y)*w+(x-b.Min.X)] == 0 {
				c.A = 0
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// MaskImage renders a coverage mask as a black/white grayscale image.
func MaskImage(mask []byte, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range mask {
		if v != 0 {
			img.Pix[i] = 255
		}
	}
	return img
}

// ErodeMask shrinks mask coverage by one pixel, suppressing resampling
// bleed along the data edge. The mask is warped at tile size, so the
// outermost real pixels erode with it; warping with a one-pixel margin
// and cropping would avoid that.
func ErodeMask(mask []byte, w, h int) []byte {
	src := MaskImage(mask, w, h)
	dst := image.NewGray(src.Bounds())
	g := gift.New(gift.Minimum(3, false))
	g.Draw(dst, src)

	out := make([]byte, len(mask))
	for i, v := range dst.Pix {
		if v != 0 {
			out[i] = 255
		}
	}
	// pixels outside the tile count as uncovered, so the tile border
	// erodes too
	for x := 0; x < w; x++ {
		out[x], out[(h-1)*w+x] = 0, 0
	}
	for y := 0; y < h; y++ {
		out[y*w], out[y*w+w-1] = 0, 0
	}
	return out
}

// SolidTile returns a uniformly coloured square, used when the caller
// asks not to optimise empty tiles away.
func SolidTile(size int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for p := 0; p < size*size; p++ {
		img.Pix[p*4+0] = c.R
		img.Pix[p*4+1] = c.G
		img.Pix[p*4+2] = c.B
		img.Pix[p*4+3] = c.A
	}
	return img
}
