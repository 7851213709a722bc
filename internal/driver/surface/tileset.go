// Package surface implements the terrain producers: surface-dem (a
// real DEM behind a VRT overview pyramid) and surface-spheroid (a
// constant-zero globe). Both serve meshes, navtiles, metatiles and the
// coverage artifacts backed by a delivery tile index.
package surface

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// TilesetConf is the persisted per-resource property file. It rides
// next to the delivery index and survives restarts; the stored revision
// recovers the revision counter after a reload.
type TilesetConf struct {
	ID             string          `json:"id"`
	ReferenceFrame string          `json:"referenceFrame"`
	LodRange       frame.LodRange  `json:"lodRange"`
	TileRange      frame.TileRange `json:"tileRange"`
	Revision       uint32          `json:"revision"`

	Credits []resource.Credit `json:"credits,omitempty"`

	// NominalTexelSize is the ground texel at LodRange.Max.
	NominalTexelSize float64 `json:"nominalTexelSize,omitempty"`
	// MergeBottomLod bounds surface merging in the client.
	MergeBottomLod int `json:"mergeBottomLod,omitempty"`
}

const (
	tilesetConfName   = "tileset.conf"
	deliveryIndexName = "delivery.index"
)

// WriteTilesetConf persists the properties atomically (tmp, fsync,
// rename).
func WriteTilesetConf(dir string, conf *TilesetConf) error {
	data, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Internal, err, "tileset: marshal %s", dir)
	}
	path := filepath.Join(dir, tilesetConfName)
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(errs.IOError, err, "tileset: create %s", tmp)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileset: write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileset: fsync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileset: close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.IOError, err, "tileset: rename %s", path)
	}
	return nil
}

// ReadTilesetConf loads the persisted properties; a missing file is
// not an error and returns nil.
func ReadTilesetConf(dir string) (*TilesetConf, error) {
	data, err := os.ReadFile(filepath.Join(dir, tilesetConfName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IOError, err, "tileset: read %s", dir)
	}
	conf := &TilesetConf{}
	if err := json.Unmarshal(data, conf); err != nil {
		return nil, errs.Wrap(errs.FormatError, err, "tileset: parse %s", dir)
	}
	return conf, nil
}
