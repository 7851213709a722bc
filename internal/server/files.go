package server

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
)

// fileInfo is a parsed tile filename.
type fileInfo struct {
	tile   frame.TileID
	file   generator.FileType
	format string
	flavor string
	raw    bool
}

var tileNameRe = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)\.([a-z0-9]+)$`)

// parseTileName understands "{lod}-{x}-{y}.{ext}". The extension picks
// the artifact: image formats, mask, meta, terrain, nav.
func parseTileName(name string, query map[string]string) (fileInfo, error) {
	m := tileNameRe.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, errs.New(errs.NotFound, "unrecognised filename %q", name)
	}
	lod, _ := strconv.Atoi(m[1])
	x, _ := strconv.Atoi(m[2])
	y, _ := strconv.Atoi(m[3])

	info := fileInfo{
		tile:   frame.TileID{Lod: lod, X: x, Y: y},
		flavor: query["flavor"],
		raw:    query["raw"] == "true",
	}

	switch ext := m[4]; ext {
	case "jpg", "jpeg", "png", "webp":
		info.file = generator.TileImage
		info.format = ext
	case "mask":
		info.file = generator.TileMask
		info.format = "png"
	case "meta":
		info.file = generator.TileMeta
		info.format = "meta"
	case "terrain":
		info.file = generator.TileMesh
		info.format = "terrain"
	case "nav":
		info.file = generator.TileNavtile
		info.format = "nav"
	case "json", "geojson":
		info.file = generator.TileImage
		info.format = "geojson"
	default:
		return fileInfo{}, errs.New(errs.NotFound, "unrecognised extension %q", ext)
	}
	return info, nil
}

// splitFullID splits the externally visible "<group>-<id>" name. The
// group never carries a dash; the id may.
func splitFullID(fullID string) (group, id string, ok bool) {
	i := strings.Index(fullID, "-")
	if i <= 0 || i == len(fullID)-1 {
		return "", "", false
	}
	return fullID[:i], fullID[i+1:], true
}
