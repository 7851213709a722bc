// Package driver bundles the tile producers. RegisterAll replaces
// pre-main factory registration: startup calls it once, before the
// first catalogue load, so registration order is explicit.
package driver

import (
	"github.com/cartolinadev/cartolina-tileserver/internal/driver/geodata"
	"github.com/cartolinadev/cartolina-tileserver/internal/driver/surface"
	"github.com/cartolinadev/cartolina-tileserver/internal/driver/tms"
)

// RegisterAll registers every producer constructor.
func RegisterAll() {
	tms.Register()
	surface.Register()
	geodata.Register()
}
