package surface

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
)

// defaultSamplesPerSide is the mesh grid resolution.
const defaultSamplesPerSide = 10

// Heightfield is the sampled DEM grid a mesh is built from. Samples
// are row-major, north row first, (samples+1)^2 values.
type Heightfield struct {
	Samples int
	Heights []float64
	// Mask marks samples backed by real data.
	Mask []bool
}

// NewHeightfield allocates a grid of samples+1 per side.
func NewHeightfield(samples int) *Heightfield {
	n := (samples + 1) * (samples + 1)
	return &Heightfield{
		Samples: samples,
		Heights: make([]float64, n),
		Mask:    make([]bool, n),
	}
}

// Range returns the (min, max) of the covered heights; a fully masked
// field answers (0, 0).
func (h *Heightfield) Range() (float64, float64) {
	first := true
	var lo, hi float64
	for i, v := range h.Heights {
		if !h.Mask[i] {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Average returns the mean covered height (the metatile surrogate).
func (h *Heightfield) Average() float64 {
	var sum float64
	var n int
	for i, v := range h.Heights {
		if h.Mask[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Covered reports whether any sample carries data.
func (h *Heightfield) Covered() bool {
	for _, m := range h.Mask {
		if m {
			return true
		}
	}
	return false
}

// Watertight reports whether every sample carries data.
func (h *Heightfield) Watertight() bool {
	for _, m := range h.Mask {
		if !m {
			return false
		}
	}
	return true
}

// Mesh is a gridded terrain tile before serialisation.
type Mesh struct {
	// Vertices are (u, v, h): u/v quantised tile-local coordinates in
	// [0, 32767], h the height above the tile height range minimum.
	Vertices [][3]float64
	Faces    [][3]int
	// SkirtBegin indexes the first skirt vertex.
	SkirtBegin int
	// HeightRange spans the real (un-skirted) geometry.
	HeightRange [2]float64
	// TextureLayer is the bound-layer id draped over the surface.
	TextureLayer int
}

const meshQuant = 32767

// skirtRatio sizes the skirt drop as a share of the tile height span.
const skirtRatio = 0.05

// BuildMesh triangulates a heightfield into a regular grid mesh and
// adds a perimeter skirt hiding crack seams between neighbours.
// Samples without coverage drop their quads, producing ragged data
// edges instead of phantom geometry.
func BuildMesh(h *Heightfield, textureLayer int) *Mesh {
	n := h.Samples + 1
	lo, hi := h.Range()
	span := hi - lo
	drop := span * skirtRatio
	if drop == 0 {
		drop = 1
	}

	mesh := &Mesh{HeightRange: [2]float64{lo, hi}, TextureLayer: textureLayer}

	// grid vertices; -1 marks uncovered samples
	vertexAt := make([]int, n*n)
	for i := range vertexAt {
		vertexAt[i] = -1
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if !h.Mask[y*n+x] {
				continue
			}
			vertexAt[y*n+x] = len(mesh.Vertices)
			mesh.Vertices = append(mesh.Vertices, [3]float64{
				float64(x) / float64(h.Samples) * meshQuant,
				float64(y) / float64(h.Samples) * meshQuant,
				h.Heights[y*n+x] - lo,
			})
		}
	}

	quad := func(a, b, c, d int) {
		if a >= 0 && b >= 0 && c >= 0 {
			mesh.Faces = append(mesh.Faces, [3]int{a, b, c})
		}
		if a >= 0 && c >= 0 && d >= 0 {
			mesh.Faces = append(mesh.Faces, [3]int{a, c, d})
		}
	}
	for y := 0; y < h.Samples; y++ {
		for x := 0; x < h.Samples; x++ {
			quad(vertexAt[y*n+x], vertexAt[y*n+x+1],
				vertexAt[(y+1)*n+x+1], vertexAt[(y+1)*n+x])
		}
	}

	// perimeter skirt: duplicate edge vertices dropped below the tile,
	// stitched to the rim
	mesh.SkirtBegin = len(mesh.Vertices)
	addSkirt := func(rim []int) {
		for i := 0; i+1 < len(rim); i++ {
			a, b := rim[i], rim[i+1]
			if a < 0 || b < 0 {
				continue
			}
			sa := len(mesh.Vertices)
			mesh.Vertices = append(mesh.Vertices,
				[3]float64{mesh.Vertices[a][0], mesh.Vertices[a][1], mesh.Vertices[a][2] - drop},
				[3]float64{mesh.Vertices[b][0], mesh.Vertices[b][1], mesh.Vertices[b][2] - drop})
			mesh.Faces = append(mesh.Faces,
				[3]int{a, b, sa + 1}, [3]int{a, sa + 1, sa})
		}
	}
	north := make([]int, n)
	south := make([]int, n)
	west := make([]int, n)
	east := make([]int, n)
	for i := 0; i < n; i++ {
		north[i] = vertexAt[i]
		south[i] = vertexAt[(n-1)*n+i]
		west[i] = vertexAt[i*n]
		east[i] = vertexAt[i*n+n-1]
	}
	addSkirt(north)
	addSkirt(south)
	addSkirt(west)
	addSkirt(east)

	return mesh
}

// Encode serialises the mesh into the gzipped terrain-tile binary.
// Layout: magic, height range, vertex and face counts, skirt begin,
// texture layer, quantised vertices, face indices.
func (m *Mesh) Encode(node frame.NodeInfo) ([]byte, error) {
	var raw bytes.Buffer
	w := func(v any) { binary.Write(&raw, binary.LittleEndian, v) }

	raw.WriteString("CTM1")
	w(float64(m.HeightRange[0]))
	w(float64(m.HeightRange[1]))
	w(uint32(len(m.Vertices)))
	w(uint32(len(m.Faces)))
	w(uint32(m.SkirtBegin))
	w(uint32(m.TextureLayer))

	span := m.HeightRange[1] - m.HeightRange[0]
	if span == 0 {
		span = 1
	}
	for _, v := range m.Vertices {
		w(uint16(clampQuant(v[0])))
		w(uint16(clampQuant(v[1])))
		// heights quantise against the range span; skirt drops clamp
		// to the floor
		w(uint16(clampQuant(v[2] / span * meshQuant)))
	}
	for _, f := range m.Faces {
		w(uint32(f[0]))
		w(uint32(f[1]))
		w(uint32(f[2]))
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "mesh: gzip %s", node.ID())
	}
	if err := gz.Close(); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "mesh: gzip %s", node.ID())
	}
	return out.Bytes(), nil
}

func clampQuant(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > meshQuant {
		return meshQuant
	}
	return v
}

// TexelSize estimates the ground size of one textured sample: mesh
// area divided by the textured area, normalised by the tile extent.
func TexelSize(node frame.NodeInfo, samples int) float64 {
	ext := node.Extents()
	if samples <= 0 {
		samples = defaultSamplesPerSide
	}
	return math.Max(ext.Width(), ext.Height()) / float64(samples*tileImagePixels)
}

// tileImagePixels is the texture resolution a mesh sample maps onto.
const tileImagePixels = 256 / defaultSamplesPerSide
