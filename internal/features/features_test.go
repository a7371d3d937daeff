package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func noiseImage(seed int64, w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func uniformImage(c color.RGBA, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestColorMeanIsBGR(t *testing.T) {
	img := uniformImage(color.RGBA{R: 200, G: 100, B: 10, A: 255}, 8, 8)
	assert.Equal(t, Color{10, 100, 200}, ColorMean(img))
}

func TestColorMeanEmptyImage(t *testing.T) {
	assert.Equal(t, Color{}, ColorMean(image.NewRGBA(image.Rect(0, 0, 0, 0))))
}

func TestValidateCountMismatch(t *testing.T) {
	f := Features{Keypoints: make([]Keypoint, 2), Descriptors: make([]Descriptor, 1)}
	err := f.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCountMismatch))

	f.Descriptors = append(f.Descriptors, Descriptor{})
	assert.NoError(t, f.Validate())
}

func TestGradientUndecodableBytes(t *testing.T) {
	f, err := NewGradientExtractor().Extract(context.Background(), []byte("not an image"))
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.Empty(t, f.Keypoints)
}

// withClaimedSize rewrites the IHDR dimensions of a PNG and fixes its CRC,
// leaving the pixel data untouched.
func withClaimedSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	require.Equal(t, "IHDR", string(data[12:16]))
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestGradientRejectsOversizedHeader(t *testing.T) {
	data := withClaimedSize(t, encodePNG(t, noiseImage(3, 1, 1)), 100000, 100000)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 100000, cfg.Width)

	f, err := NewGradientExtractor().Extract(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.Equal(t, Color{}, f.ColorMean)
}

func TestGradientMaxPixels(t *testing.T) {
	data := encodePNG(t, noiseImage(5, 64, 64))
	small := NewGradientExtractor(func(o *GradientOptions) { o.MaxPixels = 64*64 - 1 })
	f, err := small.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, f.Empty())

	f, err = NewGradientExtractor(func(o *GradientOptions) { o.MaxPixels = 64 * 64 }).Extract(context.Background(), data)
	require.NoError(t, err)
	assert.NotEqual(t, Color{}, f.ColorMean)
}

func TestGradientBlankImageHasNoFeatures(t *testing.T) {
	data := encodePNG(t, uniformImage(color.RGBA{R: 40, G: 80, B: 120, A: 255}, 96, 96))
	f, err := NewGradientExtractor().Extract(context.Background(), data)
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.Equal(t, Color{120, 80, 40}, f.ColorMean)
}

func TestGradientTexturedImage(t *testing.T) {
	data := encodePNG(t, noiseImage(7, 128, 128))
	f, err := NewGradientExtractor().Extract(context.Background(), data)
	require.NoError(t, err)
	require.False(t, f.Empty())
	require.NoError(t, f.Validate())
	assert.LessOrEqual(t, len(f.Descriptors), DefaultGradientOptions.MaxKeypoints)
	for _, kp := range f.Keypoints {
		assert.GreaterOrEqual(t, kp.X, float32(0))
		assert.Less(t, kp.X, float32(128))
		assert.GreaterOrEqual(t, kp.Y, float32(0))
		assert.Less(t, kp.Y, float32(128))
	}
	for _, d := range f.Descriptors {
		for _, v := range d {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(255))
		}
	}
}

func TestGradientDeterministic(t *testing.T) {
	data := encodePNG(t, noiseImage(11, 100, 80))
	e := NewGradientExtractor()
	a, err := e.Extract(context.Background(), data)
	require.NoError(t, err)
	b, err := e.Extract(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGradientMaxKeypoints(t *testing.T) {
	data := encodePNG(t, noiseImage(3, 128, 128))
	f, err := NewGradientExtractor(func(o *GradientOptions) { o.MaxKeypoints = 10 }).Extract(context.Background(), data)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(f.Keypoints), 10)
}

func TestGradientCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGradientExtractor().Extract(ctx, encodePNG(t, noiseImage(1, 32, 32)))
	assert.ErrorIs(t, err, context.Canceled)
}
