package server

import (
	"encoding/xml"
	"net/http"

	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// WMTS capabilities advertise only implemented layers: plain image
// tiles. Normal-map and specular-map resources are reachable over the
// TMS surface but are not announced here.
type wmtsCapabilities struct {
	XMLName xml.Name    `xml:"Capabilities"`
	Version string      `xml:"version,attr"`
	Layers  []wmtsLayer `xml:"Contents>Layer"`
}

type wmtsLayer struct {
	Title       string `xml:"Title"`
	Identifier  string `xml:"Identifier"`
	Format      string `xml:"Format"`
	ResourceURL struct {
		Format       string `xml:"format,attr"`
		ResourceType string `xml:"resourceType,attr"`
		Template     string `xml:"template,attr"`
	} `xml:"ResourceURL"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
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
	caps := wmtsCapabilities{Version: "1.0.0"}
	if res.Gen.Kind == resource.KindTms && wmtsServable(res.Gen.Driver) {
		layer := wmtsLayer{
			Title:      rid.FullID(),
			Identifier: rid.FullID(),
			Format:     "image/jpeg",
		}
		layer.ResourceURL.Format = "image/jpeg"
		layer.ResourceURL.ResourceType = "tile"
		layer.ResourceURL.Template = s.cfg.ExternalURL + "/" + rid.ReferenceFrame + "/" +
			rid.FullID() + "/{TileMatrix}-{TileCol}-{TileRow}.jpg" + revisionQuery(res)
		caps.Layers = append(caps.Layers, layer)
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(caps)
}

// wmtsServable excludes the synthesis drivers whose WMTS wiring is not
// implemented.
func wmtsServable(driver string) bool {
	switch driver {
	case "tms-raster", "tms-gdaldem":
		return true
	}
	return false
}
