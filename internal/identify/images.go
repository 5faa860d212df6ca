package identify

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"

	"github.com/sproutly/sproutly/server/internal/providers"
)

const (
	minImages       = 1
	maxImages       = 5
	maxHealthImages = 3

	thumbSize    = 300
	thumbQuality = 80
)

// ValidationError is a client-input failure with a stable code and
// structured details for the error envelope.
type ValidationError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateImages checks the batch shape before any money is spent:
// count in [1,5] and each payload within the decoded-size cap. The size
// check uses the base64 length estimate, not a decode.
func ValidateImages(images []string) error {
	if len(images) < minImages || len(images) > maxImages {
		return &ValidationError{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("expected between %d and %d images, got %d", minImages, maxImages, len(images)),
			Details: map[string]interface{}{"count": len(images)},
		}
	}
	for i, img := range images {
		normalized := providers.NormalizeImage(img)
		if normalized == "" {
			return &ValidationError{
				Code:    "VALIDATION_ERROR",
				Message: fmt.Sprintf("image %d is empty", i),
				Details: map[string]interface{}{"index": i},
			}
		}
		if providers.EstimatedDecodedSize(normalized) > providers.MaxImageBytes {
			return &ValidationError{
				Code:    "IMAGE_TOO_LARGE",
				Message: fmt.Sprintf("image %d exceeds the %d MiB limit", i, providers.MaxImageBytes>>20),
				Details: map[string]interface{}{"index": i, "maxBytes": providers.MaxImageBytes},
			}
		}
	}
	return nil
}

// decodeImage decodes a normalized base64 payload into pixels.
func decodeImage(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// encodeJPEG re-encodes pixels at the storage quality.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail produces a 300×300 cover-fit JPEG: scale so the shorter side
// reaches 300, then center-crop the longer one.
func Thumbnail(img image.Image) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	scale := float64(thumbSize) / float64(w)
	if sh := float64(thumbSize) / float64(h); sh > scale {
		scale = sh
	}
	sw := int(float64(w)*scale + 0.5)
	sh := int(float64(h)*scale + 0.5)

	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)

	x0 := (sw - thumbSize) / 2
	y0 := (sh - thumbSize) / 2
	cropped := scaled.SubImage(image.Rect(x0, y0, x0+thumbSize, y0+thumbSize))

	return encodeJPEG(cropped, thumbQuality)
}
