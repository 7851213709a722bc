package imaging

import (
	"image"
	"math"

	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// NormalConfig tunes normal-map synthesis.
type NormalConfig struct {
	// ZFactor scales heights before slope derivation.
	ZFactor float64
	// InvertRelief flips the horizontal normal components.
	InvertRelief bool
}

// Vec3 is a unit vector.
type Vec3 [3]float64

func (v Vec3) normalize() Vec3 {
	l := math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
	if l == 0 {
		return Vec3{0, 0, 1}
	}
	return Vec3{v[0] / l, v[1] / l, v[2] / l}
}

// Mat3 is a column-major 3x3 rotation.
type Mat3 [9]float64

func (m Mat3) apply(v Vec3) Vec3 {
	return Vec3{
		m[0]*v[0] + m[3]*v[1] + m[6]*v[2],
		m[1]*v[0] + m[4]*v[1] + m[7]*v[2],
		m[2]*v[0] + m[5]*v[1] + m[8]*v[2],
	}
}

// enuToGeocentric is the local east/north/up frame at (lon, lat) in
// radians, expressed in earth-centred axes.
func enuToGeocentric(lon, lat float64) Mat3 {
	sinL, cosL := math.Sin(lon), math.Cos(lon)
	sinP, cosP := math.Sin(lat), math.Cos(lat)
	return Mat3{
		// east
		-sinL, cosL, 0,
		// north
		-sinP * cosL, -sinP * sinL, cosP,
		// up
		cosP * cosL, cosP * sinL, sinP,
	}
}

// geographicAt inverts the division SRS of the built-in frames at one
// point: webmerc and plain geographic coordinates both have closed
// forms, so the conversion needs no projection library.
func geographicAt(srs string, x, y float64) (lon, lat float64) {
	switch srs {
	case frame.WebMercSRS:
		const r = 6378137.0
		return x / r, 2*math.Atan(math.Exp(y/r)) - math.Pi/2
	default:
		return x * math.Pi / 180, y * math.Pi / 180
	}
}

// NormalMap derives per-pixel normals from a warped DEM with the
// Zevenbergen-Thorne slope stencil and rotates them from the tile's
// spatial division into the frame's physical system. For lod > 3 the
// tile covers a small angular extent and one rotation sampled at the
// tile centre serves every pixel; coarser tiles rotate per pixel.
// Output is BGR: x in blue, y in green, z in red, biased to [0, 255].
func NormalMap(dem *gdal.Raster, node frame.NodeInfo, cfg NormalConfig, flat []bool) *image.NRGBA {
	w, h := dem.Width, dem.Height
	ext := node.Extents()
	dx := ext.Width() / float64(w)
	dy := ext.Height() / float64(h)

	var centreRot Mat3
	perPixel := node.ID().Lod <= 3
	if !perPixel {
		lon, lat := geographicAt(node.SRS(),
			(ext.LL[0]+ext.UR[0])/2, (ext.LL[1]+ext.UR[1])/2)
		centreRot = enuToGeocentric(lon, lat)
	}

	sign := 1.0
	if cfg.InvertRelief {
		sign = -1.0
	}
	z := cfg.ZFactor
	if z == 0 {
		z = 1
	}

	at := func(x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(dem.FloatAt(x, y))
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var n Vec3
			if flat != nil && flat[y*w+x] {
				n = Vec3{0, 0, 1}
			} else {
				// Zevenbergen-Thorne: central differences over the
				// four rook neighbours
				p := z * (at(x+1, y) - at(x-1, y)) / (2 * dx)
				q := z * (at(x, y+1) - at(x, y-1)) / (2 * dy)
				// image y grows south, so q already points south; the
				// north component is its negation
				n = Vec3{sign * -p, sign * q, 1}.normalize()
			}

			rot := centreRot
			if perPixel {
				lon, lat := geographicAt(node.SRS(),
					ext.LL[0]+(float64(x)+0.5)*dx,
					ext.UR[1]-(float64(y)+0.5)*dy)
				rot = enuToGeocentric(lon, lat)
			}
			n = rot.apply(n).normalize()

			off := (y*w + x) * 4
			// BGR channel order inside RGB storage: B carries x
			img.Pix[off+2] = packComponent(n[0])
			img.Pix[off+1] = packComponent(n[1])
			img.Pix[off+0] = packComponent(n[2])
			img.Pix[off+3] = 255
		}
	}
	return img
}

func packComponent(v float64) uint8 {
	s := math.Round((v + 1) / 2 * 255)
	if s < 0 {
		s = 0
	} else if s > 255 {
		s = 255
	}
	return uint8(s)
}
