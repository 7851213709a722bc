// Package frame models reference frames: named tile pyramids with their
// spatial-division and physical coordinate systems. Producers use it to
// turn tile ids into extents in the source SRS and to gate requests on
// the frame's valid subtree.
package frame

import (
	"sort"
	"sync"
)

// ReferenceFrame describes one tiled globe: the SRS the tile grid divides
// space in, the physical SRS tile geometry is expressed in, and the
// subtree of the pyramid that is actually valid.
type ReferenceFrame struct {
	ID          string
	Description string

	// DivisionSRS is the SRS of the spatial division (the tile grid).
	DivisionSRS string
	// PhysicalSRS is the SRS meshes and normals are expressed in.
	PhysicalSRS string
	// NavigationSRS is used for navtile heights.
	NavigationSRS string

	// RootExtents is the coverage of the lod-0 tile in DivisionSRS units.
	RootExtents Extents

	// ValidLodRange and ValidTileRange (at ValidLodRange.Min) bound the
	// valid subtree of the pyramid.
	ValidLodRange  LodRange
	ValidTileRange TileRange

	// MetaBinaryOrder is log2 of the metatile block edge.
	MetaBinaryOrder int
}

const (
	// WebMercSRS is the spherical-mercator projection used by the
	// built-in webmerc frame.
	WebMercSRS = "EPSG:3857"
	// GeographicSRS is plain WGS84 longitude/latitude.
	GeographicSRS = "EPSG:4326"
	// GeocentricSRS is earth-centred cartesian WGS84.
	GeocentricSRS = "EPSG:4978"
)

const webMercHalfSpan = 20037508.342789244

var (
	registryMu sync.RWMutex
	registry   = map[string]*ReferenceFrame{}
)

// Register adds a reference frame to the process-wide registry. Built-in
// frames are registered on package init; catalogues may add more before
// resources are loaded.
func Register(rf *ReferenceFrame) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[rf.ID] = rf
}

// Get looks a reference frame up by name.
func Get(id string) (*ReferenceFrame, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	rf, ok := registry[id]
	return rf, ok
}

// IDs lists the registered reference frames, sorted.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func init() {
	Register(&ReferenceFrame{
		ID:            "webmerc",
		Description:   "Web-mercator tile pyramid (single root)",
		DivisionSRS:   WebMercSRS,
		PhysicalSRS:   GeocentricSRS,
		NavigationSRS: GeographicSRS,
		RootExtents: Extents{
			LL: [2]float64{-webMercHalfSpan, -webMercHalfSpan},
			UR: [2]float64{webMercHalfSpan, webMercHalfSpan},
		},
		ValidLodRange:   LodRange{Min: 0, Max: 24},
		ValidTileRange:  TileRange{LL: [2]int{0, 0}, UR: [2]int{0, 0}},
		MetaBinaryOrder: 8,
	})
	Register(&ReferenceFrame{
		ID:            "geodetic",
		Description:   "Plate-carree pyramid over WGS84",
		DivisionSRS:   GeographicSRS,
		PhysicalSRS:   GeocentricSRS,
		NavigationSRS: GeographicSRS,
		RootExtents: Extents{
			LL: [2]float64{-180, -90},
			UR: [2]float64{180, 90},
		},
		ValidLodRange:   LodRange{Min: 0, Max: 22},
		ValidTileRange:  TileRange{LL: [2]int{0, 0}, UR: [2]int{0, 0}},
		MetaBinaryOrder: 8,
	})
}
