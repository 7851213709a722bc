// Package imaging turns warped rasters into served tile bytes: format
// encoding, coverage-mask handling and the per-pixel synthesis used by
// the normal-map and specular-map producers.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"

	"github.com/cartolinadev/cartolina-tileserver/internal/errs"
)

// Quality settings are fixed: consumers cache by URL revision, not by
// encoder tuning.
const (
	jpegQuality = 75
)

// Encode serialises an image in the requested format. WebP output is
// lossless (the normal-map contract).
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpg", "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "imaging: jpeg encode")
		}
	case "png":
		enc := &png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "imaging: png encode")
		}
	case "webp":
		if err := webp.Encode(&buf, img, webp.Options{Lossless: true}); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "imaging: webp encode")
		}
	default:
		return nil, errs.New(errs.NotFound, "imaging: unsupported format %q", format)
	}
	return buf.Bytes(), nil
}

// ContentType maps a tile format to its media type.
func ContentType(format string) (string, error) {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg", nil
	case "png":
		return "image/png", nil
	case "webp":
		return "image/webp", nil
	case "mask":
		return "image/png", nil
	case "meta":
		return "application/octet-stream", nil
	case "terrain":
		return "application/vnd.quantized-mesh", nil
	case "json", "geojson":
		return "application/json; charset=utf-8", nil
	}
	return "", fmt.Errorf("imaging: unknown format %q", format)
}
