package packing

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"fridge-tetris/internal/llm"
)

// MaxImagePixels bounds width*height so that a small file declaring huge
// dimensions cannot force a large allocation during decoding.
const MaxImagePixels = 50_000_000

// ImageInfo describes a photo that passed validation.
type ImageInfo struct {
	MIME   string
	Format string
	Width  int
	Height int
}

// ValidateImage checks a photo locally: it must be non-empty, no larger than
// maxBytes, sniff as an image, stay within MaxImagePixels and decode fully.
// label names the photo in the error ("current fridge", "new groceries").
func ValidateImage(label string, data []byte, maxBytes int64) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{}, fmt.Errorf("%w: %s image is empty", llm.ErrInvalidImage, label)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return ImageInfo{}, fmt.Errorf("%w: %s image is %d bytes, limit is %d", llm.ErrInvalidImage, label, len(data), maxBytes)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return ImageInfo{}, fmt.Errorf("%w: %s image has content type %s", llm.ErrInvalidImage, label, mime.String())
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %s image: %v", llm.ErrInvalidImage, label, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("%w: %s image has zero size", llm.ErrInvalidImage, label)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
		return ImageInfo{}, fmt.Errorf("%w: %s image is %dx%d, limit is %d pixels",
			llm.ErrInvalidImage, label, cfg.Width, cfg.Height, MaxImagePixels)
	}

	// The header alone does not prove the pixel data is intact. The decoded
	// image is discarded; the original bytes are what gets sent.
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return ImageInfo{}, fmt.Errorf("%w: %s image: %v", llm.ErrInvalidImage, label, err)
	}

	return ImageInfo{
		MIME:   mime.String(),
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
