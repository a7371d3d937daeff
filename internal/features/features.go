// Package features defines local image features (keypoints, 128-d descriptors and a
// mean colour) and the Extractor collaborator that produces them from raw image bytes.
package features

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
)

// DescriptorSize is the length of every descriptor vector.
const DescriptorSize = 128

// NoOrientation marks a keypoint whose detector assigned no orientation.
const NoOrientation float32 = -1

// DefaultMaxPixels caps the decoded image size (width*height).
const DefaultMaxPixels int64 = 1 << 26

// ErrCountMismatch is returned when keypoints and descriptors are not 1:1.
var ErrCountMismatch = errors.New("features: keypoint/descriptor count mismatch")

// Keypoint is a detected local feature: position, scale (patch diameter) and
// orientation in degrees, or NoOrientation.
type Keypoint struct {
	X           float32 `json:"x"`
	Y           float32 `json:"y"`
	Scale       float32 `json:"scale"`
	Orientation float32 `json:"orientation"`
}

// Descriptor summarises the patch around one keypoint.
type Descriptor [DescriptorSize]float32

// Color is a mean colour in B, G, R order, each channel in 0..255.
type Color [3]float32

// Features is the output of an Extractor for one image.
type Features struct {
	Keypoints   []Keypoint
	Descriptors []Descriptor
	ColorMean   Color
}

// Empty reports whether no descriptors were found. Undecodable input yields
// empty features rather than an error.
func (f Features) Empty() bool { return len(f.Descriptors) == 0 }

// Validate checks the 1:1 keypoint/descriptor invariant.
func (f Features) Validate() error {
	if len(f.Keypoints) != len(f.Descriptors) {
		return fmt.Errorf("%w: %d keypoints, %d descriptors", ErrCountMismatch, len(f.Keypoints), len(f.Descriptors))
	}
	return nil
}

// Extractor turns raw image bytes into features. Implementations must not fail on
// undecodable bytes; they return empty Features and a nil error instead. A non-nil
// error is reserved for cancellation and internal faults.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Features, error)
}

// ColorMean returns the average colour of img in B, G, R order.
func ColorMean(img image.Image) Color {
	b := img.Bounds()
	n := float64(b.Dx()) * float64(b.Dy())
	if n == 0 {
		return Color{}
	}
	var sr, sg, sb float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			sr += float64(r >> 8)
			sg += float64(g >> 8)
			sb += float64(bl >> 8)
		}
	}
	return Color{float32(sb / n), float32(sg / n), float32(sr / n)}
}

// withinPixelLimit reads only the image header. known is false when the header
// is not in a registered format; ok is false when the claimed size exceeds limit.
func withinPixelLimit(data []byte, limit int64) (ok, known bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return true, false
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return false, true
	}
	return int64(cfg.Width)*int64(cfg.Height) <= limit, true
}
