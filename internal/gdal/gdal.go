// Package gdal is the thin adapter between the tile pipeline and godal.
// Every GDAL touch point lives here so that API skew between GDAL majors
// stays out of producers and the warper protocol can ship plain Go
// values across the process boundary.
package gdal

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

var registerOnce sync.Once

// Register initialises the GDAL drivers. Safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// Dataset wraps an opened godal dataset.
type Dataset struct {
	ds   *godal.Dataset
	path string
}

// Open opens a raster or vector dataset read-only.
func Open(path string, openOptions ...string) (*Dataset, error) {
	Register()
	opts := []godal.OpenOption{godal.Shared()}
	for _, o := range openOptions {
		opts = append(opts, godal.DriverOpenOption(o))
	}
	ds, err := godal.Open(path, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "gdal: open %s", path)
	}
	return &Dataset{ds: ds, path: path}, nil
}

func (d *Dataset) Close() error {
	if d.ds == nil {
		return nil
	}
	err := d.ds.Close()
	d.ds = nil
	return err
}

func (d *Dataset) Path() string { return d.path }

// Size returns raster dimensions in pixels.
func (d *Dataset) Size() (int, int) {
	s := d.ds.Structure()
	return s.SizeX, s.SizeY
}

func (d *Dataset) BandCount() int {
	return d.ds.Structure().NBands
}

func (d *Dataset) GeoTransform() ([6]float64, error) {
	return d.ds.GeoTransform()
}

func (d *Dataset) Projection() string {
	return d.ds.Projection()
}

// NoData returns the nodata value of the first band, if any.
func (d *Dataset) NoData() (float64, bool) {
	bands := d.ds.Bands()
	if len(bands) == 0 {
		return 0, false
	}
	return bands[0].NoData()
}

// Extents derives the dataset coverage from its geotransform. Only
// north-up datasets are supported.
func (d *Dataset) Extents() (frame.Extents, error) {
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return frame.Extents{}, errs.Wrap(errs.Internal, err, "gdal: geotransform of %s", d.path)
	}
	if gt[2] != 0 || gt[4] != 0 {
		return frame.Extents{}, errs.New(errs.Internal, "gdal: rotated dataset %s not supported", d.path)
	}
	w, h := d.Size()
	return frame.Extents{
		LL: [2]float64{gt[0], gt[3] + float64(h)*gt[5]},
		UR: [2]float64{gt[0] + float64(w)*gt[1], gt[3]},
	}, nil
}

func fmtFloat(v float64) string { return fmt.Sprintf("%g", v) }
