package surface

import (
	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

// Path modes for referencing the original dataset from the prepared
// artifact.
const (
	PathSymlink  = "symlink"
	PathAbsolute = "absolute"
	PathCopy     = "copy"
)

// DemDefinition configures a surface-dem resource.
type DemDefinition struct {
	// Dataset is the source DEM.
	Dataset string `json:"dataset"`
	// Mask optionally overrides the coverage mask dataset.
	Mask string `json:"mask,omitempty"`
	// GeoidGrid shifts heights from ellipsoid to geoid.
	GeoidGrid string `json:"geoidGrid,omitempty"`
	// SamplesPerSide is the mesh grid resolution.
	SamplesPerSide int `json:"samplesPerSide,omitempty"`
	// TextureLayer is the bound layer draped over submeshes.
	TextureLayer int `json:"textureLayer,omitempty"`
	// PathToOriginalDataset picks how the pyramid references the
	// source: symlink (default), absolute, or copy.
	PathToOriginalDataset string `json:"pathToOriginalDataset,omitempty"`
	// WrapX enables the antimeridian halo for world-spanning DEMs.
	WrapX bool `json:"wrapx,omitempty"`
	// Resampling overrides the overview warp kernel.
	Resampling string `json:"resampling,omitempty"`
}

func (d *DemDefinition) Validate() error {
	if d.Dataset == "" {
		return errs.New(errs.FormatError, "surface-dem: dataset is mandatory")
	}
	switch d.PathToOriginalDataset {
	case "", PathSymlink, PathAbsolute, PathCopy:
	default:
		return errs.New(errs.FormatError,
			"surface-dem: unknown pathToOriginalDataset %q", d.PathToOriginalDataset)
	}
	if d.SamplesPerSide < 0 {
		return errs.New(errs.FormatError, "surface-dem: samplesPerSide must be positive")
	}
	return nil
}

func (d *DemDefinition) NeedsRanges() bool   { return true }
func (d *DemDefinition) FrozenCredits() bool { return true }

func (d *DemDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*DemDefinition)
	if !ok || d.Dataset != o.Dataset || d.Mask != o.Mask ||
		d.GeoidGrid != o.GeoidGrid || d.WrapX != o.WrapX ||
		d.PathToOriginalDataset != o.PathToOriginalDataset {
		return resource.ChangeIncompatible
	}
	if d.SamplesPerSide != o.SamplesPerSide || d.TextureLayer != o.TextureLayer ||
		d.Resampling != o.Resampling {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

func (d *DemDefinition) samples() int {
	if d.SamplesPerSide > 0 {
		return d.SamplesPerSide
	}
	return defaultSamplesPerSide
}

// SpheroidDefinition configures a surface-spheroid resource: the DEM
// is a constant-zero surface.
type SpheroidDefinition struct {
	// TextureLayer is the bound layer draped over submeshes.
	TextureLayer int `json:"textureLayer,omitempty"`
	// SamplesPerSide is the mesh grid resolution.
	SamplesPerSide int `json:"samplesPerSide,omitempty"`
}

func (d *SpheroidDefinition) Validate() error {
	if d.SamplesPerSide < 0 {
		return errs.New(errs.FormatError, "surface-spheroid: samplesPerSide must be positive")
	}
	return nil
}

func (d *SpheroidDefinition) NeedsRanges() bool   { return true }
func (d *SpheroidDefinition) FrozenCredits() bool { return false }

func (d *SpheroidDefinition) Diff(old resource.Definition) resource.Change {
	o, ok := old.(*SpheroidDefinition)
	if !ok {
		return resource.ChangeIncompatible
	}
	if d.TextureLayer != o.TextureLayer || d.SamplesPerSide != o.SamplesPerSide {
		return resource.ChangeRevisionBump
	}
	return resource.ChangeNone
}

func (d *SpheroidDefinition) samples() int {
	if d.SamplesPerSide > 0 {
		return d.SamplesPerSide
	}
	return defaultSamplesPerSide
}
