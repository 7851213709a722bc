package vrt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *Document {
	nodata := -9999.0
	return &Document{
		RasterXSize:  512,
		RasterYSize:  256,
		SRS:          "EPSG:4326",
		GeoTransform: FormatGeoTransform([6]float64{-180, 0.703125, 0, 90, 0, -0.703125}),
		Bands: []*Band{{
			DataType: "Float32",
			BandNo:   1,
			NoData:   &nodata,
			Sources: []SimpleSource{{
				SourceFilename: SourceFilename{RelativeToVRT: 1, Path: "0/0-0.tif"},
				SourceBand:     "1",
				SourceProperties: &SourceProperties{
					RasterXSize: 512, RasterYSize: 256,
					DataType: "Float32", BlockXSize: 256, BlockYSize: 256,
				},
				SrcRect: Rect{XSize: 512, YSize: 256},
				DstRect: Rect{XSize: 512, YSize: 256},
			}},
		}},
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ovr.vrt")
	doc := sampleDocument()
	require.NoError(t, doc.Write(path))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, doc.RasterXSize, got.RasterXSize)
	assert.Equal(t, doc.RasterYSize, got.RasterYSize)
	require.Len(t, got.Bands, 1)
	band := got.Bands[0]
	assert.Equal(t, "Float32", band.DataType)
	require.NotNil(t, band.NoData)
	assert.Equal(t, -9999.0, *band.NoData)
	require.Len(t, band.Sources, 1)
	assert.Equal(t, "0/0-0.tif", band.Sources[0].SourceFilename.Path)
	assert.Equal(t, 1, band.Sources[0].SourceFilename.RelativeToVRT)
}

func TestDocumentXMLShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ovr.vrt")
	require.NoError(t, sampleDocument().Write(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `<VRTDataset rasterXSize="512" rasterYSize="256">`)
	assert.Contains(t, text, `<VRTRasterBand dataType="Float32" band="1">`)
	assert.Contains(t, text, `<SourceFilename relativeToVRT="1" shared="0">0/0-0.tif</SourceFilename>`)
	assert.Contains(t, text, `<SrcRect xOff="0" yOff="0" xSize="512" ySize="256">`)
	assert.Contains(t, text, `RasterXSize="512"`)
	assert.Contains(t, text, `BlockXSize="256"`)

	// atomic write leaves no temp file behind
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCrossLink(t *testing.T) {
	dir := t.TempDir()
	parent := filepath.Join(dir, "dataset.vrt")
	require.NoError(t, sampleDocument().Write(parent))

	require.NoError(t, CrossLink(parent, "1/ovr.vrt"))

	doc, err := Read(parent)
	require.NoError(t, err)
	require.Len(t, doc.Bands[0].Overviews, 1)
	assert.Equal(t, "1/ovr.vrt", doc.Bands[0].Overviews[0].SourceFilename.Path)
	assert.Equal(t, 1, doc.Bands[0].Overviews[0].SourceBand)

	// cross-linking twice appends a second overview entry
	require.NoError(t, CrossLink(parent, "2/ovr.vrt"))
	doc, err = Read(parent)
	require.NoError(t, err)
	assert.Len(t, doc.Bands[0].Overviews, 2)
}

func TestFormatGeoTransform(t *testing.T) {
	s := FormatGeoTransform([6]float64{-20037508.342789244, 152.87, 0, 20037508.342789244, 0, -152.87})
	assert.Equal(t, 5, strings.Count(s, ", "))
	assert.Contains(t, s, "-20037508.34278924")
}

func TestRelOrAbs(t *testing.T) {
	ref, rel := relOrAbs("/data/store/res", "/data/store/res/0/1-2.tif")
	assert.Equal(t, "0/1-2.tif", ref)
	assert.Equal(t, 1, rel)

	ref, rel = relOrAbs("/data/store/res", "/elsewhere/dem.tif")
	assert.Equal(t, 0, rel)
	assert.Equal(t, "/elsewhere/dem.tif", ref)
}
