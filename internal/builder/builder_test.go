package builder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siftsearch/internal/features"
	mylog "siftsearch/internal/log"
)

func writeNoisePNG(t *testing.T, path string, seed int64) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writeBlankPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestTagFromName(t *testing.T) {
	cases := map[string]string{
		"cat_001.jpg":       "cat",
		"dog.png":           "dog",
		"red_car_side.jpeg": "red",
		"/x/y/bird_7.bmp":   "bird",
		"_hidden.png":       "_hidden",
	}
	for in, want := range cases {
		assert.Equal(t, want, TagFromName(in), in)
	}
}

func TestListImagesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b_1.PNG", "a_1.jpg", "notes.txt", "c.jpeg", "d.bmp", "e.gif"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o755))

	got, err := ListImages(dir, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_1.jpg", "b_1.PNG", "c.jpeg", "d.bmp"}, got)

	got, err = ListImages(dir, []string{"*_1.*"}, []string{"b*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_1.jpg"}, got)
}

func TestBuildSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeNoisePNG(t, filepath.Join(dir, "cat_002.png"), 2)
	writeNoisePNG(t, filepath.Join(dir, "cat_001.png"), 1)
	writeNoisePNG(t, filepath.Join(dir, "dog.png"), 3)
	writeBlankPNG(t, filepath.Join(dir, "blank_1.png"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken_1.jpg"), []byte("not a jpeg"), 0o644))

	var logs bytes.Buffer
	b := New(features.NewGradientExtractor(), func(o *Options) {
		o.Workers = 3
		o.Logger = mylog.NewWriter(&logs, mylog.Debug)
	})
	db, rep, err := b.Build(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.Skipped)
	require.Len(t, rep.Files, 5)
	assert.Equal(t, "blank_1.png", rep.Files[0].File)
	assert.ErrorIs(t, rep.Files[0].Err, ErrNoDescriptors)
	assert.Error(t, rep.Files[1].Err)

	require.Equal(t, 3, db.Len())
	assert.Equal(t, "cat_001.png", db.Record(0).File)
	assert.Equal(t, "cat_002.png", db.Record(1).File)
	assert.Equal(t, "dog.png", db.Record(2).File)
	assert.Equal(t, "cat", db.Record(0).Tag)
	assert.Equal(t, "dog", db.Record(2).Tag)
	assert.Equal(t, []int{0, 1}, db.WithTag("cat"))
	assert.Contains(t, logs.String(), "build.skip")

	ok := rep.Files[2]
	require.NoError(t, ok.Err)
	assert.Equal(t, "cat_001.png", ok.File)
	assert.Positive(t, ok.Descriptors)
	assert.Equal(t, len(db.Record(0).Descriptors), ok.Descriptors)
	assert.Equal(t, len(db.Record(0).Keypoints), ok.Keypoints)
}

func TestBuildDeterministicOrderAcrossWorkers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeNoisePNG(t, filepath.Join(dir, string(rune('a'+i))+"_x.png"), int64(i))
	}
	ex := features.NewGradientExtractor()
	one, _, err := New(ex, func(o *Options) { o.Workers = 1 }).Build(context.Background(), dir)
	require.NoError(t, err)
	many, _, err := New(ex, func(o *Options) { o.Workers = 6 }).Build(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, one.Records(), many.Records())
}

func TestBuildMissingDir(t *testing.T) {
	_, _, err := New(features.NewGradientExtractor()).Build(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBuildCancelled(t *testing.T) {
	dir := t.TempDir()
	writeNoisePNG(t, filepath.Join(dir, "a.png"), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(features.NewGradientExtractor()).Build(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	writeNoisePNG(t, filepath.Join(dir, "big.png"), 1)
	db, rep, err := New(features.NewGradientExtractor(), func(o *Options) { o.MaxFileSize = 10 }).Build(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, db.Len())
	assert.Equal(t, 1, rep.Skipped)
}
