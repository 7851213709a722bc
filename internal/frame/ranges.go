package frame

// LodRange is an inclusive interval of levels of detail.
type LodRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r LodRange) Empty() bool { return r.Max < r.Min }

func (r LodRange) Contains(lod int) bool {
	return lod >= r.Min && lod <= r.Max
}

// TileRange is an inclusive (x, y) rectangle expressed at a fixed lod
// (by convention the owning LodRange.Min).
type TileRange struct {
	LL [2]int `json:"ll"`
	UR [2]int `json:"ur"`
}

func (r TileRange) Empty() bool {
	return r.UR[0] < r.LL[0] || r.UR[1] < r.LL[1]
}

func (r TileRange) Contains(x, y int) bool {
	return x >= r.LL[0] && x <= r.UR[0] && y >= r.LL[1] && y <= r.UR[1]
}

// ShiftRange rescales a range given at fromLod into toLod. Going deeper
// multiplies both corners; going shallower divides, keeping the range
// covering the same area.
func ShiftRange(r TileRange, fromLod, toLod int) TileRange {
	if toLod == fromLod {
		return r
	}
	if toLod > fromLod {
		shift := uint(toLod - fromLod)
		return TileRange{
			LL: [2]int{r.LL[0] << shift, r.LL[1] << shift},
			UR: [2]int{(r.UR[0]+1)<<shift - 1, (r.UR[1]+1)<<shift - 1},
		}
	}
	shift := uint(fromLod - toLod)
	return TileRange{
		LL: [2]int{r.LL[0] >> shift, r.LL[1] >> shift},
		UR: [2]int{r.UR[0] >> shift, r.UR[1] >> shift},
	}
}

// Extents is an axis-aligned box in SRS units; LL is the lower-left
// corner, UR the upper-right.
type Extents struct {
	LL [2]float64
	UR [2]float64
}

func (e Extents) Width() float64  { return e.UR[0] - e.LL[0] }
func (e Extents) Height() float64 { return e.UR[1] - e.LL[1] }

func (e Extents) Empty() bool {
	return e.UR[0] <= e.LL[0] || e.UR[1] <= e.LL[1]
}
