// Package vrt builds tiled VRT overview pyramids for surface-DEM
// preparation: each level halves the previous one, tiles are warped out
// as GeoTIFFs with empty-tile elimination, and an optional x-wrap halo
// keeps filter kernels off the antimeridian.
package vrt

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
)

// Document is the serialisable form of one VRT dataset. Field layout
// follows GDAL's VRT schema.
type Document struct {
	XMLName      xml.Name  `xml:"VRTDataset"`
	RasterXSize  int       `xml:"rasterXSize,attr"`
	RasterYSize  int       `xml:"rasterYSize,attr"`
	SRS          string    `xml:"SRS,omitempty"`
	GeoTransform string    `xml:"GeoTransform,omitempty"`
	Bands        []*Band   `xml:"VRTRasterBand"`
	MaskBand     *MaskBand `xml:"MaskBand,omitempty"`
}

// Band is one VRTRasterBand.
type Band struct {
	DataType    string         `xml:"dataType,attr"`
	BandNo      int            `xml:"band,attr,omitempty"`
	SubClass    string         `xml:"subClass,attr,omitempty"`
	ColorInterp string         `xml:"ColorInterp,omitempty"`
	NoData      *float64       `xml:"NoDataValue,omitempty"`
	Sources     []SimpleSource `xml:"SimpleSource"`
	Overviews   []Overview     `xml:"Overview"`
}

// MaskBand carries the per-dataset mask as a sourced band.
type MaskBand struct {
	Band *Band `xml:"VRTRasterBand"`
}

// SimpleSource references a window of a source file.
type SimpleSource struct {
	SourceFilename   SourceFilename    `xml:"SourceFilename"`
	SourceBand       string            `xml:"SourceBand"`
	SourceProperties *SourceProperties `xml:"SourceProperties,omitempty"`
	SrcRect          Rect              `xml:"SrcRect"`
	DstRect          Rect              `xml:"DstRect"`
}

// Overview cross-links a band to the same band of the next pyramid
// level.
type Overview struct {
	SourceFilename SourceFilename `xml:"SourceFilename"`
	SourceBand     int            `xml:"SourceBand"`
}

// SourceFilename is a path with VRT-relative and shared-handle flags.
type SourceFilename struct {
	RelativeToVRT int    `xml:"relativeToVRT,attr"`
	Shared        int    `xml:"shared,attr"`
	Path          string `xml:",chardata"`
}

// SourceProperties lets GDAL size the source without opening it.
type SourceProperties struct {
	RasterXSize int    `xml:"RasterXSize,attr"`
	RasterYSize int    `xml:"RasterYSize,attr"`
	DataType    string `xml:"DataType,attr"`
	BlockXSize  int    `xml:"BlockXSize,attr"`
	BlockYSize  int    `xml:"BlockYSize,attr"`
}

// Rect is a pixel window.
type Rect struct {
	XOff  float64 `xml:"xOff,attr"`
	YOff  float64 `xml:"yOff,attr"`
	XSize float64 `xml:"xSize,attr"`
	YSize float64 `xml:"ySize,attr"`
}

// FormatGeoTransform renders the six geotransform coefficients the way
// GDAL expects them inside <GeoTransform>.
func FormatGeoTransform(gt [6]float64) string {
	parts := make([]string, 6)
	for i, v := range gt {
		parts[i] = fmt.Sprintf("%.16g", v)
	}
	return strings.Join(parts, ", ")
}

// Write serialises the document atomically: sibling .tmp, fsync,
// rename.
func (d *Document) Write(path string) error {
	data, err := xml.MarshalIndent(d, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Internal, err, "vrt: marshal %s", path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "vrt: create %s", tmp)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "vrt: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "vrt: fsync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "vrt: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "vrt: rename %s", path)
	}
	return nil
}

// Read parses a VRT document back from disk.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.IOError, err, "vrt: read %s", path)
	}
	var d Document
	if err := xml.Unmarshal(data, &d); err != nil {
		return nil, errs.Wrap(errs.FormatError, err, "vrt: parse %s", path)
	}
	return &d, nil
}

// CrossLink appends an Overview entry pointing at child to every band
// of the document at parentPath and rewrites it.
func CrossLink(parentPath, childRelPath string) error {
	doc, err := Read(parentPath)
	if err != nil {
		return err
	}
	for i, b := range doc.Bands {
		b.Overviews = append(b.Overviews, Overview{
			SourceFilename: SourceFilename{RelativeToVRT: 1, Path: childRelPath},
			SourceBand:     i + 1,
		})
	}
	return doc.Write(parentPath)
}

func relOrAbs(base, target string) (string, int) {
	rel, err := filepath.Rel(base, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return target, 0
	}
	return rel, 1
}
