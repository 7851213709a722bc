package warper

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// heightcode drapes every vertex of the vector dataset over the first
// DEM in the stack that covers it, optionally shifting by a geoid grid.
// Input and output are GeoJSON.
func (e *GDALExecutor) heightcode(req *Request, cancelled func() bool) ([]byte, error) {
	hc := req.Heightcode

	data, err := os.ReadFile(hc.VectorDataset)
	if err != nil {
		return nil, fmt.Errorf("heightcode: read vector %s: %w", hc.VectorDataset, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("heightcode: parse vector %s: %w", hc.VectorDataset, err)
	}

	sample := func(x, y float64) (float64, bool) {
		for _, path := range hc.RasterDatasets {
			ds, err := e.dataset(path)
			if err != nil {
				continue
			}
			if v, ok := ds.Sample(x, y); ok {
				return v, true
			}
		}
		return 0, false
	}

	var geoid func(x, y float64) float64
	if hc.GeoidGrid != "" {
		geoid = func(x, y float64) float64 {
			ds, err := e.dataset(hc.GeoidGrid)
			if err != nil {
				return 0
			}
			if v, ok := ds.Sample(x, y); ok {
				return v
			}
			return 0
		}
	}

	for i, f := range fc.Features {
		if cancelled() {
			return nil, nil
		}
		heights := codeGeometry(f.Geometry, sample, geoid)
		if heights != nil {
			if f.Properties == nil {
				f.Properties = geojson.Properties{}
			}
			f.Properties["heights"] = heights
		}
		fc.Features[i] = f
	}

	return fc.MarshalJSON()
}

// codeGeometry samples a height for every vertex of g, in traversal
// order. Vertices outside every DEM get the previous vertex height (or
// zero for the first).
func codeGeometry(g orb.Geometry, sample func(x, y float64) (float64, bool), geoid func(x, y float64) float64) []float64 {
	var heights []float64
	last := 0.0
	visit := func(p orb.Point) {
		z, ok := sample(p[0], p[1])
		if !ok {
			z = last
		} else if geoid != nil {
			z -= geoid(p[0], p[1])
		}
		last = z
		heights = append(heights, z)
	}

	switch geom := g.(type) {
	case orb.Point:
		visit(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			visit(p)
		}
	case orb.LineString:
		for _, p := range geom {
			visit(p)
		}
	case orb.MultiLineString:
		for _, ls := range geom {
			for _, p := range ls {
				visit(p)
			}
		}
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				visit(p)
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				for _, p := range ring {
					visit(p)
				}
			}
		}
	case orb.Collection:
		for _, sub := range geom {
			heights = append(heights, codeGeometry(sub, sample, geoid)...)
		}
	}
	return heights
}
