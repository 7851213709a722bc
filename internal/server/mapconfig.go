package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cartolinadev/cartolina-tileserver/internal/delivery"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// boundLayer is the boundlayer.json document advertised to clients.
type boundLayer struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	LodRange   [2]int            `json:"lodRange"`
	TileRange  [2][2]int         `json:"tileRange"`
	URL        string            `json:"url"`
	MaskURL    string            `json:"maskUrl,omitempty"`
	MetaURL    string            `json:"metaUrl,omitempty"`
	Credits    []resource.Credit `json:"credits,omitempty"`
	IsOptional bool              `json:"isOptional,omitempty"`
}

// revisionQuery renders the cache-busting suffix; the generator
// revision tags logic changes, the resource revision tags catalogue
// bumps.
func revisionQuery(res *resource.Resource) string {
	// drivers in this build are all at logic revision 1
	return fmt.Sprintf("?gr=%d&r=%d", 1, res.Revision)
}

func (s *Server) handleBoundLayer(w http.ResponseWriter, r *http.Request) {
	g, rid, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := checkReady(g); err != nil {
		s.fail(w, r, err)
		return
	}

	res := g.Resource()
	base := s.cfg.ExternalURL + "/" + rid.ReferenceFrame + "/" + rid.FullID() + "/"
	doc := boundLayer{
		ID:        rid.FullID(),
		Type:      "raster",
		LodRange:  [2]int{res.LodRange.Min, res.LodRange.Max},
		TileRange: [2][2]int{res.TileRange.LL, res.TileRange.UR},
		URL:       base + "{lod}-{x}-{y}.jpg" + revisionQuery(res),
		MaskURL:   base + "{lod}-{x}-{y}.mask" + revisionQuery(res),
		Credits:   res.Credits,
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", delivery.CacheControl(res.FileClassSettings, resource.ClassConfig))
	json.NewEncoder(w).Encode(doc)
}

// mapConfig is the per-resource mapconfig.json: enough for a client to
// mount the resource without guessing URLs.
type mapConfig struct {
	ID             string            `json:"id"`
	ReferenceFrame string            `json:"referenceFrame"`
	Type           string            `json:"type"`
	Driver         string            `json:"driver"`
	Revision       uint32            `json:"revision"`
	LodRange       [2]int            `json:"lodRange"`
	TileRange      [2][2]int         `json:"tileRange"`
	Credits        []resource.Credit `json:"credits,omitempty"`
	Surface        *surfaceConfig    `json:"surface,omitempty"`
	BoundLayerURL  string            `json:"boundLayer,omitempty"`
}

type surfaceConfig struct {
	MeshURL    string `json:"meshUrl"`
	MetaURL    string `json:"metaUrl"`
	NavtileURL string `json:"navUrl"`
}

func (s *Server) handleMapConfig(w http.ResponseWriter, r *http.Request) {
	g, rid, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := checkReady(g); err != nil {
		s.fail(w, r, err)
		return
	}

	res := g.Resource()
	base := s.cfg.ExternalURL + "/" + rid.ReferenceFrame + "/" + rid.FullID() + "/"
	doc := mapConfig{
		ID:             rid.FullID(),
		ReferenceFrame: rid.ReferenceFrame,
		Type:           res.Gen.Kind,
		Driver:         res.Gen.Driver,
		Revision:       res.Revision,
		LodRange:       [2]int{res.LodRange.Min, res.LodRange.Max},
		TileRange:      [2][2]int{res.TileRange.LL, res.TileRange.UR},
		Credits:        res.Credits,
	}
	switch res.Gen.Kind {
	case resource.KindSurface:
		doc.Surface = &surfaceConfig{
			MeshURL:    base + "{lod}-{x}-{y}.terrain" + revisionQuery(res),
			MetaURL:    base + "{lod}-{x}-{y}.meta" + revisionQuery(res),
			NavtileURL: base + "{lod}-{x}-{y}.nav" + revisionQuery(res),
		}
	case resource.KindTms:
		doc.BoundLayerURL = base + "boundlayer.json"
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", delivery.CacheControl(res.FileClassSettings, resource.ClassConfig))
	json.NewEncoder(w).Encode(doc)
}
