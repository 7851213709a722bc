package gdal

import (
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// Raster is an in-memory warp result. It crosses the warper process
// boundary, so it holds plain slices only.
type Raster struct {
	Width  int
	Height int

	// Bands > 0 with pixel-interleaved Bytes for integer imagery.
	Bands int
	Bytes []byte

	// Float is set for single-band floating-point rasters (DEMs);
	// Floats then holds Width*Height samples.
	Float  bool
	Floats []float32

	// Mask holds 0/255 coverage per pixel when requested.
	Mask []byte
}

// FloatAt returns the sample at (x, y) of a float raster.
func (r *Raster) FloatAt(x, y int) float32 {
	return r.Floats[y*r.Width+x]
}

// Masked reports whether the pixel at (x, y) is masked out.
func (r *Raster) Masked(x, y int) bool {
	return r.Mask != nil && r.Mask[y*r.Width+x] == 0
}

// WarpSpec describes one warp into a target grid.
type WarpSpec struct {
	Extents    frame.Extents
	Width      int
	Height     int
	SRS        string
	Resampling string
	// Float requests a Float32 output raster (DEM path).
	Float bool
	// Bands limits output band count; 0 keeps the source layout.
	Bands int
	// NoData overrides the source nodata value.
	NoData *float64
	// WithMask requests the per-pixel coverage mask.
	WithMask bool
}

func (s WarpSpec) switches() []string {
	sw := []string{
		"-of", "MEM",
		"-t_srs", s.SRS,
		"-te", fmtFloat(s.Extents.LL[0]), fmtFloat(s.Extents.LL[1]),
		fmtFloat(s.Extents.UR[0]), fmtFloat(s.Extents.UR[1]),
		"-ts", strconv.Itoa(s.Width), strconv.Itoa(s.Height),
		"-r", s.Resampling,
	}
	if s.Float {
		sw = append(sw, "-ot", "Float32")
	}
	if s.NoData != nil {
		sw = append(sw, "-srcnodata", fmtFloat(*s.NoData))
	}
	return sw
}

// Warp reprojects and resamples the dataset into the spec's grid,
// returning an in-memory raster.
func (d *Dataset) Warp(spec WarpSpec) (*Raster, error) {
	warped, err := d.ds.Warp("", spec.switches())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "gdal: warp %s", d.path)
	}
	defer warped.Close()
	return readRaster(warped, spec)
}

// WarpMask warps the coverage mask only, returning a single-channel
// 0/255 raster.
func (d *Dataset) WarpMask(spec WarpSpec) (*Raster, error) {
	spec.WithMask = true
	warped, err := d.ds.Warp("", spec.switches())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "gdal: warp mask %s", d.path)
	}
	defer warped.Close()

	mask, err := readMask(warped)
	if err != nil {
		return nil, err
	}
	return &Raster{Width: spec.Width, Height: spec.Height, Bands: 1, Bytes: mask, Mask: mask}, nil
}

func readRaster(ds *godal.Dataset, spec WarpSpec) (*Raster, error) {
	st := ds.Structure()
	out := &Raster{Width: st.SizeX, Height: st.SizeY}

	if spec.Float {
		out.Float = true
		out.Floats = make([]float32, st.SizeX*st.SizeY)
		if err := ds.Bands()[0].Read(0, 0, out.Floats, st.SizeX, st.SizeY); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "gdal: read float band")
		}
	} else {
		bands := st.NBands
		if spec.Bands > 0 && spec.Bands < bands {
			bands = spec.Bands
		}
		out.Bands = bands
		out.Bytes = make([]byte, st.SizeX*st.SizeY*bands)
		for i := 0; i < bands; i++ {
			buf := make([]byte, st.SizeX*st.SizeY)
			if err := ds.Bands()[i].Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
				return nil, errs.Wrap(errs.Internal, err, "gdal: read band %d", i+1)
			}
			for p, v := range buf {
				out.Bytes[p*bands+i] = v
			}
		}
	}

	if spec.WithMask {
		mask, err := readMask(ds)
		if err != nil {
			return nil, err
		}
		out.Mask = mask
	}
	return out, nil
}

func readMask(ds *godal.Dataset) ([]byte, error) {
	st := ds.Structure()
	band := ds.Bands()[0]
	mask := make([]byte, st.SizeX*st.SizeY)

	if nodata, ok := band.NoData(); ok {
		buf := make([]float64, st.SizeX*st.SizeY)
		if err := band.Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "gdal: read band for mask")
		}
		for i, v := range buf {
			if v != nodata {
				mask[i] = 255
			}
		}
		return mask, nil
	}

	mb := band.MaskBand()
	if err := mb.Read(0, 0, mask, st.SizeX, st.SizeY); err != nil {
		// datasets without explicit masks are fully covered
		for i := range mask {
			mask[i] = 255
		}
	}
	return mask, nil
}
