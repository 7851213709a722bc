package surface

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
)

// navtileSamples is the per-side grid of the navigation height raster;
// coarser than the mesh on purpose.
const navtileSamples = 5

// Navtile is the low-resolution height raster used for coarse height
// queries during navigation.
type Navtile struct {
	Samples int
	// HeightRange is [floor(min), ceil(max)] of the sampled heights.
	HeightRange [2]int
	Heights     []float64
}

// BuildNavtile reduces a heightfield onto the navtile grid.
func BuildNavtile(h *Heightfield) *Navtile {
	lo, hi := h.Range()
	nav := &Navtile{
		Samples:     navtileSamples,
		HeightRange: [2]int{int(math.Floor(lo)), int(math.Ceil(hi))},
	}
	n := navtileSamples + 1
	src := h.Samples + 1
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			sx := x * (src - 1) / (n - 1)
			sy := y * (src - 1) / (n - 1)
			nav.Heights = append(nav.Heights, h.Heights[sy*src+sx])
		}
	}
	return nav
}

// Encode serialises the navtile: height range plus quantised samples,
// gzipped like every terrain artifact.
func (n *Navtile) Encode() ([]byte, error) {
	var raw bytes.Buffer
	w := func(v any) { binary.Write(&raw, binary.LittleEndian, v) }

	raw.WriteString("CTN1")
	w(uint16(n.Samples))
	w(int32(n.HeightRange[0]))
	w(int32(n.HeightRange[1]))

	span := float64(n.HeightRange[1] - n.HeightRange[0])
	if span == 0 {
		span = 1
	}
	for _, h := range n.Heights {
		q := (h - float64(n.HeightRange[0])) / span * 65535
		if q < 0 {
			q = 0
		} else if q > 65535 {
			q = 65535
		}
		w(uint16(q))
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "navtile: gzip")
	}
	if err := gz.Close(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "navtile: gzip")
	}
	return out.Bytes(), nil
}
