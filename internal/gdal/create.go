package gdal

import (
	"strconv"

	"github.com/airbusgeo/godal"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
)

// Info is a light probe of a raster dataset, enough to fill the
// SourceProperties of a VRT SimpleSource.
type Info struct {
	Width        int
	Height       int
	Bands        int
	DataType     string
	FloatType    bool
	BlockW       int
	BlockH       int
	NoData       *float64
	Projection   string
	GeoTransform [6]float64
}

func dataTypeName(dt godal.DataType) (string, bool) {
	switch dt {
	case godal.Byte:
		return "Byte", false
	case godal.UInt16:
		return "UInt16", false
	case godal.Int16:
		return "Int16", false
	case godal.UInt32:
		return "UInt32", false
	case godal.Int32:
		return "Int32", false
	case godal.Float32:
		return "Float32", true
	case godal.Float64:
		return "Float64", true
	}
	return "Byte", false
}

// Info probes the dataset.
func (d *Dataset) Info() (Info, error) {
	st := d.ds.Structure()
	info := Info{
		Width:      st.SizeX,
		Height:     st.SizeY,
		Bands:      st.NBands,
		Projection: d.ds.Projection(),
	}
	gt, err := d.ds.GeoTransform()
	if err != nil {
		return info, errs.Wrap(errs.Internal, err, "gdal: geotransform of %s", d.path)
	}
	info.GeoTransform = gt

	bands := d.ds.Bands()
	if len(bands) > 0 {
		bst := bands[0].Structure()
		info.BlockW = bst.BlockSizeX
		info.BlockH = bst.BlockSizeY
		info.DataType, info.FloatType = dataTypeName(bst.DataType)
		if nd, ok := bands[0].NoData(); ok {
			info.NoData = &nd
		}
	}
	return info, nil
}

// PredictorFor picks the GeoTIFF PREDICTOR creation option: 3 for
// floating point bands, 2 for integer.
func PredictorFor(floatType bool) int {
	if floatType {
		return 3
	}
	return 2
}

// WarpResult reports one overview-tile warp.
type WarpResult struct {
	// Empty is set when the warped window carried no data; no file was
	// written.
	Empty bool
}

// WarpToGeoTIFF warps the spec window out of the dataset and, when the
// window contains data, writes it as a tiled+deflated GeoTIFF at path.
// Emptiness: with background set, every pixel must equal the background
// colour; otherwise the coverage mask must be all zero.
func (d *Dataset) WarpToGeoTIFF(path string, spec WarpSpec, background []byte, blockSize int) (WarpResult, error) {
	warped, err := d.ds.Warp("", spec.switches())
	if err != nil {
		return WarpResult{}, errs.Wrap(errs.Internal, err, "gdal: warp %s", d.path)
	}
	defer warped.Close()

	empty, err := windowEmpty(warped, background)
	if err != nil {
		return WarpResult{}, err
	}
	if empty {
		return WarpResult{Empty: true}, nil
	}

	var floatType bool
	if bands := warped.Bands(); len(bands) > 0 {
		_, floatType = dataTypeName(bands[0].Structure().DataType)
	}

	switches := []string{
		"-of", "GTiff",
		"-co", "TILED=YES",
		"-co", "BLOCKXSIZE=" + strconv.Itoa(blockSize),
		"-co", "BLOCKYSIZE=" + strconv.Itoa(blockSize),
		"-co", "COMPRESS=DEFLATE",
		"-co", "PREDICTOR=" + strconv.Itoa(PredictorFor(floatType)),
	}
	out, err := warped.Translate(path, switches)
	if err != nil {
		return WarpResult{}, errs.Wrap(errs.IOError, err, "gdal: write %s", path)
	}
	if err := out.Close(); err != nil {
		return WarpResult{}, errs.Wrap(errs.IOError, err, "gdal: close %s", path)
	}
	return WarpResult{}, nil
}

func windowEmpty(ds *godal.Dataset, background []byte) (bool, error) {
	st := ds.Structure()
	n := st.SizeX * st.SizeY

	if len(background) > 0 {
		bands := ds.Bands()
		for i := range bands {
			want := background[len(background)-1]
			if i < len(background) {
				want = background[i]
			}
			buf := make([]byte, n)
			if err := bands[i].Read(0, 0, buf, st.SizeX, st.SizeY); err != nil {
				return false, errs.Wrap(errs.Internal, err, "gdal: read band %d", i+1)
			}
			for _, v := range buf {
				if v != want {
					return false, nil
				}
			}
		}
		return true, nil
	}

	mask, err := readMask(ds)
	if err != nil {
		return false, err
	}
	for _, v := range mask {
		if v != 0 {
			return false, nil
		}
	}
	return true, nil
}
