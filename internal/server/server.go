// Package server is the HTTP delivery surface: tile URLs, per-resource
// configuration documents, the WMTS capabilities and the operational
// endpoints. Routing is chi; errors map onto the taxonomy's status
// codes at this boundary.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartolinadev/cartolina-tileserver/internal/delivery"
	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Config tunes the HTTP layer.
type Config struct {
	// ExternalURL is the advertised base of composed URLs.
	ExternalURL string
	// EnableListing serves the JSON resource listing at the root.
	EnableListing bool
}

// Server wires the generator set behind the delivery contract.
type Server struct {
	cfg       Config
	set       *generator.Set
	admission *delivery.Admission
	log       *slog.Logger

	requests *prometheus.CounterVec
}

var (
	requestMetricOnce sync.Once
	requestMetric     *prometheus.CounterVec
)

// New builds the server around a generator set.
func New(cfg Config, set *generator.Set, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	requestMetricOnce.Do(func() {
		requestMetric = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cartolina_http_requests_total",
			Help: "Tile requests by outcome class.",
		}, []string{"class"})
	})
	return &Server{
		cfg:       cfg,
		set:       set,
		admission: delivery.NewAdmission(),
		log:       log,
		requests:  requestMetric,
	}
}

// Handler assembles the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	r.Method("GET", "/metrics", promhttp.Handler())

	if s.cfg.EnableListing {
		r.Get("/", s.handleListing)
	}

	r.Route("/{referenceFrame}/{fullId}", func(r chi.Router) {
		r.Get("/mapconfig.json", s.handleMapConfig)
		r.Get("/boundlayer.json", s.handleBoundLayer)
		r.Get("/capabilities.xml", s.handleCapabilities)
		r.Get("/{file}", s.handleTile)
	})
	return r
}

// lookup resolves the generator for a request path.
func (s *Server) lookup(r *http.Request) (generator.Generator, resource.ID, error) {
	rf := chi.URLParam(r, "referenceFrame")
	group, id, ok := splitFullID(chi.URLParam(r, "fullId"))
	if !ok {
		return nil, resource.ID{}, errs.New(errs.NotFound, "unrecognised resource name")
	}
	rid := resource.ID{ReferenceFrame: rf, Group: group, Id: id}
	g, ok := s.set.Get(rid)
	if !ok {
		return nil, rid, errs.New(errs.NotFound, "no such resource %s", rid)
	}
	return g, rid, nil
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	g, rid, err := s.lookup(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	query := map[string]string{
		"flavor": r.URL.Query().Get("flavor"),
		"raw":    r.URL.Query().Get("raw"),
	}
	info, err := parseTileName(chi.URLParam(r, "file"), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res := g.Resource()
	fp := delivery.Fingerprint{
		Resource:  rid,
		Interface: res.Gen.Kind,
		Tile:      info.tile,
		File:      info.file,
		Format:    info.format,
		Flavor:    info.flavor,
		Revision:  res.Revision,
	}

	ctx := r.Context()
	tile, err := s.admission.Do(ctx, fp, func() (*generator.Tile, error) {
		return g.Generate(ctx, &generator.Request{
			Tile:   info.tile,
			File:   info.file,
			Format: info.format,
			Flavor: info.flavor,
			Raw:    info.raw,
		})
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.requests.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", tile.ContentType)
	w.Header().Set("Cache-Control", delivery.CacheControl(res.FileClassSettings, tile.FileClass))
	if info.format == "terrain" || info.file == generator.TileMeta && info.flavor != "2d" ||
		info.file == generator.TileNavtile {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.Write(tile.Bytes)
}

// fail maps the error taxonomy to status codes. A cancelled request
// writes no body at all: the client is gone.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	s.requests.WithLabelValues(kind.String()).Inc()

	switch kind {
	case errs.Cancelled:
		// connection is closed by the server without a response
		if hj, ok := w.(http.Hijacker); ok {
			if conn, _, e := hj.Hijack(); e == nil {
				conn.Close()
				return
			}
		}
		return
	case errs.EmptyImage, errs.EmptyDebugMask:
		// canonical empty body
		w.WriteHeader(http.StatusNotFound)
		return
	case errs.NotFound:
		http.Error(w, "not found", http.StatusNotFound)
		return
	case errs.Unavailable:
		http.Error(w, "resource is not ready", http.StatusServiceUnavailable)
		return
	case errs.FormatError:
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.log.Error("request failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// handleListing serves the JSON resource listing (the browser UI is
// out of scope; operators get plain data).
func (s *Server) handleListing(w http.ResponseWriter, _ *http.Request) {
	type entry struct {
		ID             string `json:"id"`
		ReferenceFrame string `json:"referenceFrame"`
		Type           string `json:"type"`
		Driver         string `json:"driver"`
		State          string `json:"state"`
		Revision       uint32 `json:"revision"`
		URL            string `json:"url"`
	}
	snap := s.set.Snapshot()
	out := make([]entry, 0, len(snap))
	for id, g := range snap {
		res := g.Resource()
		out = append(out, entry{
			ID:             id.FullID(),
			ReferenceFrame: id.ReferenceFrame,
			Type:           res.Gen.Kind,
			Driver:         res.Gen.Driver,
			State:          g.State().String(),
			Revision:       res.Revision,
			URL:            s.cfg.ExternalURL + "/" + id.ReferenceFrame + "/" + id.FullID() + "/",
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReferenceFrame != out[j].ReferenceFrame {
			return out[i].ReferenceFrame < out[j].ReferenceFrame
		}
		return out[i].ID < out[j].ID
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(out)
}

// checkReady is the shared gate for configuration documents.
func checkReady(g generator.Generator) error {
	if !g.Ready() {
		if g.State() == generator.StateFailed {
			return errs.New(errs.Unavailable, "resource failed to prepare")
		}
		return errs.New(errs.Unavailable, "resource is not ready")
	}
	return nil
}
