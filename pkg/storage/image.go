package storage

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// ImageSpec describes a crop-to-fill target.
type ImageSpec struct {
	Width   int
	Height  int
	Quality int
}

var (
	ThumbnailSpec = ImageSpec{Width: 800, Height: 600, Quality: 85}
	ProfileSpec   = ImageSpec{Width: 300, Height: 300, Quality: 85}
)

// ProcessedImage is a re-encoded JPEG ready for upload.
type ProcessedImage struct {
	Data   []byte
	Width  int
	Height int
}

// ProcessImage decodes r (honouring EXIF orientation), fills spec and re-encodes as JPEG.
func ProcessImage(r io.Reader, spec ImageSpec) (*ProcessedImage, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var out image.Image = src
	if spec.Width > 0 && spec.Height > 0 {
		out = imaging.Fill(src, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
	}

	quality := spec.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, out, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	bounds := out.Bounds()
	return &ProcessedImage{Data: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
