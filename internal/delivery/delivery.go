// Package delivery implements per-tile admission: at most one build
// runs per request fingerprint, with concurrent callers piggy-backing
// on the in-flight result, plus the file-class cache-control policy.
package delivery

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Fingerprint is the admission key of one tile build.
type Fingerprint struct {
	Resource  resource.ID
	Interface string
	Tile      frame.TileID
	File      generator.FileType
	Format    string
	Flavor    string
	Revision  uint32
}

func (f Fingerprint) key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%d",
		f.Resource, f.Interface, f.Tile, f.File, f.Format, f.Flavor, f.Revision)
}

// Admission deduplicates concurrent builds. There is no on-disk cache
// behind it: outputs regenerate cheaply from prepared state.
type Admission struct {
	group singleflight.Group
}

func NewAdmission() *Admission { return &Admission{} }

// Do runs build once per fingerprint; every concurrent caller receives
// the same bytes. Cancellation of one caller does not abort the build
// for the others, but a caller whose context dies stops waiting.
func (a *Admission) Do(ctx context.Context, fp Fingerprint, build func() (*generator.Tile, error)) (*generator.Tile, error) {
	ch := a.group.DoChan(fp.key(), func() (any, error) {
		return build()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*generator.Tile), nil
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Cancelled, ctx.Err(), "request aborted")
	}
}

// CacheControl renders the Cache-Control header value for a file
// class: max-age from the resource settings, no-cache for unknown
// classes.
func CacheControl(settings resource.FileClassSettings, class resource.FileClass) string {
	age := settings.MaxAge(class)
	if age < 0 {
		return "no-cache"
	}
	return "max-age=" + strconv.Itoa(age)
}
