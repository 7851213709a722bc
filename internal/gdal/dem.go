package gdal

import (
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
)

// DemAlgorithm names a gdaldem processing mode.
type DemAlgorithm string

const (
	DemHillshade   DemAlgorithm = "hillshade"
	DemColorRelief DemAlgorithm = "color-relief"
	DemSlope       DemAlgorithm = "slope"
	DemAspect      DemAlgorithm = "aspect"
	DemTRI         DemAlgorithm = "TRI"
	DemTPI         DemAlgorithm = "TPI"
	DemRoughness   DemAlgorithm = "roughness"
)

// ValidDemAlgorithm reports whether name is a known processing mode.
func ValidDemAlgorithm(name string) bool {
	switch DemAlgorithm(name) {
	case DemHillshade, DemColorRelief, DemSlope, DemAspect, DemTRI, DemTPI, DemRoughness:
		return true
	}
	return false
}

// DemSpec describes one DEM processing run over a warped window.
type DemSpec struct {
	Warp DemWarp
	// Algorithm selects the gdaldem mode.
	Algorithm DemAlgorithm
	// ColorFile is required by color-relief, empty otherwise.
	ColorFile string
	// Options are raw gdaldem switches (-z, -az, -alt, ...).
	Options []string
}

// DemWarp is the warp half of a DemSpec; the DEM is first warped into
// this grid, then processed.
type DemWarp = WarpSpec

// Dem warps the dataset into the spec grid and runs the configured
// gdaldem processing over it. The gdaldem entry point has varied shape
// across GDAL majors; keep all calls to it in this method.
func (d *Dataset) Dem(spec DemSpec) (*Raster, error) {
	w := spec.Warp
	w.Float = true
	// one extra pixel on each side so 3x3 kernels see real neighbours
	// at tile edges
	px := w.Extents.Width() / float64(w.Width)
	py := w.Extents.Height() / float64(w.Height)
	grown := w
	grown.Width += 2
	grown.Height += 2
	grown.Extents.LL = [2]float64{w.Extents.LL[0] - px, w.Extents.LL[1] - py}
	grown.Extents.UR = [2]float64{w.Extents.UR[0] + px, w.Extents.UR[1] + py}

	warped, err := d.ds.Warp("", grown.switches())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "gdal: dem warp %s", d.path)
	}
	defer warped.Close()

	processed, err := warped.Dem(godal.DemProcessingMode(spec.Algorithm), spec.ColorFile,
		append([]string{"-compute_edges"}, spec.Options...))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "gdal: dem %s", spec.Algorithm)
	}
	defer processed.Close()

	full, err := readRaster(processed, WarpSpec{Width: grown.Width, Height: grown.Height})
	if err != nil {
		return nil, err
	}
	return cropRaster(full, 1, 1, w.Width, w.Height), nil
}

// cropRaster cuts a window out of a byte raster.
func cropRaster(r *Raster, x, y, w, h int) *Raster {
	out := &Raster{Width: w, Height: h, Bands: r.Bands}
	out.Bytes = make([]byte, w*h*r.Bands)
	for row := 0; row < h; row++ {
		src := ((y+row)*r.Width + x) * r.Bands
		copy(out.Bytes[row*w*r.Bands:(row+1)*w*r.Bands], r.Bytes[src:src+w*r.Bands])
	}
	return out
}

// Sample reads the value under the georeferenced point (gx, gy),
// expressed in the dataset SRS. Returns false outside the raster or on
// nodata.
func (d *Dataset) Sample(gx, gy float64) (float64, bool) {
	gt, err := d.ds.GeoTransform()
	if err != nil || gt[1] == 0 || gt[5] == 0 {
		return 0, false
	}
	px := int((gx - gt[0]) / gt[1])
	py := int((gy - gt[3]) / gt[5])
	w, h := d.Size()
	if px < 0 || py < 0 || px >= w || py >= h {
		return 0, false
	}
	buf := make([]float64, 1)
	if err := d.ds.Bands()[0].Read(px, py, buf, 1, 1); err != nil {
		return 0, false
	}
	if nodata, ok := d.NoData(); ok && buf[0] == nodata {
		return 0, false
	}
	return buf[0], true
}

// ZFactorOption renders a gdaldem -z switch.
func ZFactorOption(z float64) []string {
	return []string{"-z", strconv.FormatFloat(z, 'g', -1, 64)}
}
