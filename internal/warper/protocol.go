// Package warper runs blocking GDAL work in a pool of child processes.
// The parent dispatches requests over a gob pipe protocol, enforces an
// aggregate RSS budget with periodic housekeeping, recycles workers and
// propagates cancellation into in-flight requests.
package warper

import (
	"encoding/gob"
	"io"

	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// Kind tags a warp request.
type Kind int

const (
	// Image warps the dataset into the requested grid.
	Image Kind = iota
	// ImageNoExpand warps without band expansion (palette sources stay
	// single-band).
	ImageNoExpand
	// Mask warps the coverage mask only.
	Mask
	// Dem runs gdaldem-equivalent processing over the warped window.
	Dem
	// Heightcode drapes a vector dataset over a DEM stack.
	Heightcode
)

// DemOptions parameterise a Dem request.
type DemOptions struct {
	Algorithm string
	ColorFile string
	Options   []string
}

// HeightcodeOptions parameterise a Heightcode request.
type HeightcodeOptions struct {
	// VectorDataset is the path of the GeoJSON vector input.
	VectorDataset string
	// RasterDatasets is the DEM stack, best first.
	RasterDatasets []string
	// OpenOptions are driver open options for the vector dataset.
	OpenOptions []string
	// GeoidGrid, when set, shifts sampled heights from ellipsoid to
	// geoid.
	GeoidGrid string
}

// Request is one unit of work for a worker.
type Request struct {
	ID   uint64
	Kind Kind

	// Dataset is the primary raster (or the vector for Heightcode).
	Dataset string
	Warp    gdal.WarpSpec

	Dem        *DemOptions
	Heightcode *HeightcodeOptions
}

// Status of a response.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusCancelled
)

// Response correlates with a Request by ID.
type Response struct {
	ID     uint64
	Status Status
	// Error holds the failure message for StatusError.
	Error string

	Raster *gdal.Raster
	// Bytes carries heightcoded vector output.
	Bytes []byte
}

// envelope is one frame on the wire: either a request or a
// cancellation for an in-flight request id.
type envelope struct {
	Request *Request
	Cancel  *uint64
}

func newEncoder(w io.Writer) *gob.Encoder { return gob.NewEncoder(w) }
func newDecoder(r io.Reader) *gob.Decoder { return gob.NewDecoder(r) }
