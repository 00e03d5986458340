// Package imaging bounds uploaded photos before they leave the service:
// downscale to a maximum edge and re-encode as JPEG at a fixed quality.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxDimension = 1024
	DefaultQuality      = 70
	ContentType         = "image/jpeg"
)

var ErrEmptyImage = errors.New("image payload is empty")

// Normalizer is deterministic: the same input always yields the same bytes.
type Normalizer struct {
	MaxDimension int
	Quality      int
}

func NewNormalizer(maxDimension, quality int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Normalizer{MaxDimension: maxDimension, Quality: quality}
}

// Normalize decodes data (jpeg, png, gif, bmp, tiff), applies EXIF orientation,
// fits it inside MaxDimension x MaxDimension without upscaling and returns JPEG bytes.
func (n *Normalizer) Normalize(data []byte) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	img := imaging.Fit(src, n.MaxDimension, n.MaxDimension, imaging.Lanczos)

	// JPEG has no alpha channel; flatten transparent areas onto white.
	b := img.Bounds()
	flat := imaging.New(b.Dx(), b.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(n.Quality)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), ContentType, nil
}
