package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
)

// Default accepted image dimensions.
const (
	MinDimension = 50
	MaxDimension = 4000
)

// Bounds restricts accepted image dimensions. Uploads outside the bounds are
// rejected before any resizing happens.
type Bounds struct {
	MinDimension int
	MaxDimension int
}

// DefaultBounds returns the standard dimension limits.
func DefaultBounds() Bounds {
	return Bounds{MinDimension: MinDimension, MaxDimension: MaxDimension}
}

// Decode parses uploaded bytes into an image and validates its dimensions
// against the given bounds.
func Decode(data []byte, bounds Bounds) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	rect := img.Bounds()
	width, height := rect.Dx(), rect.Dy()
	if width < bounds.MinDimension || height < bounds.MinDimension {
		return nil, fmt.Errorf("image %dx%d below minimum dimension %d", width, height, bounds.MinDimension)
	}
	if width > bounds.MaxDimension || height > bounds.MaxDimension {
		return nil, fmt.Errorf("image %dx%d above maximum dimension %d", width, height, bounds.MaxDimension)
	}
	return img, nil
}

// ForCustomCNN resizes to size x size and packs interleaved RGB float32
// values rescaled to [0, 1].
func ForCustomCNN(img image.Image, size int) []float32 {
	return toFloat32(img, size, func(v uint32) float32 {
		return float32(v) / 65535.0
	})
}

// ForMobileNet resizes to size x size and packs interleaved RGB float32
// values rescaled to [-1, 1], matching MobileNetV2's preprocess_input.
func ForMobileNet(img image.Image, size int) []float32 {
	return toFloat32(img, size, func(v uint32) float32 {
		return float32(v)/32767.5 - 1.0
	})
}

func toFloat32(img image.Image, size int, scale func(uint32) float32) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	out := make([]float32, size*size*3)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			out[i] = scale(r)
			out[i+1] = scale(g)
			out[i+2] = scale(b)
			i += 3
		}
	}
	return out
}
