package tms

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
	"github.com/cartolinadev/cartolina-tileserver/internal/frame"
	"github.com/cartolinadev/cartolina-tileserver/internal/generator"
	"github.com/cartolinadev/cartolina-tileserver/internal/resource"
)

func TestRasterDefinitionValidate(t *testing.T) {
	assert.Error(t, (&RasterDefinition{}).Validate())
	assert.Error(t, (&RasterDefinition{Dataset: "/d.tif", Format: "bmp"}).Validate())
	assert.NoError(t, (&RasterDefinition{Dataset: "/d.tif"}).Validate())
	assert.NoError(t, (&RasterDefinition{Dataset: "/d.tif", Format: "png"}).Validate())
}

func TestRasterDefinitionDiff(t *testing.T) {
	base := &RasterDefinition{Dataset: "/d.tif", Format: "jpg"}

	assert.Equal(t, resource.ChangeNone,
		(&RasterDefinition{Dataset: "/d.tif", Format: "jpg"}).Diff(base))
	assert.Equal(t, resource.ChangeIncompatible,
		(&RasterDefinition{Dataset: "/other.tif", Format: "jpg"}).Diff(base))
	assert.Equal(t, resource.ChangeRevisionBump,
		(&RasterDefinition{Dataset: "/d.tif", Format: "png"}).Diff(base))
	assert.Equal(t, resource.ChangeIncompatible,
		(&GdaldemDefinition{Dataset: "/d.tif"}).Diff(base))
}

func TestGdaldemDefinitionValidate(t *testing.T) {
	assert.Error(t, (&GdaldemDefinition{Dataset: "/d.tif", Processing: "sharpen"}).Validate())
	assert.Error(t, (&GdaldemDefinition{Dataset: "/d.tif", Processing: "color-relief"}).Validate())
	assert.NoError(t, (&GdaldemDefinition{Dataset: "/d.tif", Processing: "hillshade"}).Validate())
	assert.NoError(t, (&GdaldemDefinition{
		Dataset: "/d.tif", Processing: "color-relief", ColorFile: "/ramp.txt",
	}).Validate())
}

// a processing switch invalidates cached output but keeps the resource
// compatible
func TestGdaldemProcessingChangeIsRevisionBump(t *testing.T) {
	before := &GdaldemDefinition{Dataset: "/dem.tif", Processing: "hillshade"}
	after := &GdaldemDefinition{Dataset: "/dem.tif", Processing: "slope"}
	assert.Equal(t, resource.ChangeRevisionBump, after.Diff(before))
	assert.Equal(t, resource.ChangeNone, before.Diff(before))
}

func TestNormalMapDefinition(t *testing.T) {
	assert.Error(t, (&NormalMapDefinition{}).Validate())
	assert.NoError(t, (&NormalMapDefinition{Dataset: "/dem.tif"}).Validate())

	base := &NormalMapDefinition{Dataset: "/dem.tif", ZFactor: 1}
	assert.Equal(t, resource.ChangeRevisionBump,
		(&NormalMapDefinition{Dataset: "/dem.tif", ZFactor: 2}).Diff(base))
	assert.Equal(t, resource.ChangeIncompatible,
		(&NormalMapDefinition{Dataset: "/dem.tif", Landcover: "/lc.tif"}).Diff(base))
	assert.Equal(t, resource.ChangeRevisionBump,
		(&NormalMapDefinition{Dataset: "/dem.tif", ZFactor: 1, InvertRelief: true}).Diff(base))
}

func TestSpecularDefinition(t *testing.T) {
	assert.Error(t, (&SpecularDefinition{Dataset: "/o.tif"}).Validate())
	ok := &SpecularDefinition{Dataset: "/o.tif", Landcover: "/lc.tif", ShininessBits: 4}
	assert.NoError(t, ok.Validate())

	bumped := &SpecularDefinition{Dataset: "/o.tif", Landcover: "/lc.tif", ShininessBits: 6}
	assert.Equal(t, resource.ChangeRevisionBump, bumped.Diff(ok))
}

func gateFrame() *frame.ReferenceFrame {
	rf := &frame.ReferenceFrame{
		ID:          "tms-gate-test",
		DivisionSRS: frame.WebMercSRS,
		PhysicalSRS: frame.GeocentricSRS,
		RootExtents: frame.Extents{
			LL: [2]float64{0, 0},
			UR: [2]float64{100, 100},
		},
		ValidLodRange:  frame.LodRange{Min: 5, Max: 18},
		ValidTileRange: frame.TileRange{LL: [2]int{0, 0}, UR: [2]int{31, 31}},
	}
	frame.Register(rf)
	return rf
}

func gateCommon(t *testing.T) *Common {
	t.Helper()
	rf := gateFrame()
	res := &resource.Resource{
		ID:         resource.ID{ReferenceFrame: rf.ID, Group: "g", Id: "a"},
		Gen:        resource.GeneratorKind{Kind: resource.KindTms, Driver: "tms-raster"},
		LodRange:   frame.LodRange{Min: 5, Max: 18},
		TileRange:  frame.TileRange{LL: [2]int{0, 0}, UR: [2]int{31, 31}},
		Definition: &RasterDefinition{Dataset: "/d.tif"},
	}
	c, err := newCommon(generator.Env{}, res, 1)
	require.NoError(t, err)
	return &c
}

// an unproductive tile under ?raw= must short-circuit to the black
// tile; the default path stays an empty-image 404
func TestProductivityGateRawPolicy(t *testing.T) {
	c := gateCommon(t)
	unproductive := frame.TileID{Lod: 2, X: 0, Y: 0}

	_, err := c.node(context.Background(), &generator.Request{
		Tile: unproductive, File: generator.TileImage,
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.EmptyImage))
	assert.False(t, errors.Is(err, errServeBlack))

	_, err = c.node(context.Background(), &generator.Request{
		Tile: unproductive, File: generator.TileImage, Raw: true,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errServeBlack))

	// masks answer the debug-mask flavour without raw
	_, err = c.node(context.Background(), &generator.Request{
		Tile: unproductive, File: generator.TileMask,
	})
	assert.True(t, errs.Is(err, errs.EmptyDebugMask))

	// a productive in-range tile passes the gate
	node, err := c.node(context.Background(), &generator.Request{
		Tile: frame.TileID{Lod: 5, X: 3, Y: 3}, File: generator.TileImage,
	})
	require.NoError(t, err)
	assert.True(t, node.Productive())

	// a cancelled sink aborts before any gate answers
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.node(ctx, &generator.Request{Tile: unproductive, File: generator.TileImage, Raw: true})
	assert.True(t, errs.Is(err, errs.Cancelled))
}

func TestBlackTileIsBlack(t *testing.T) {
	tile, err := blackTile("png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", tile.ContentType)

	img, err := png.Decode(bytes.NewReader(tile.Bytes))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())

	r, g, b, a := img.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
	assert.Equal(t, uint32(0xffff), a)
	r, g, b, _ = img.At(255, 255).RGBA()
	assert.Zero(t, r+g+b)
}
