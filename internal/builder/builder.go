// Package builder scans an image directory and extracts the feature database.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"siftsearch/internal/featuredb"
	"siftsearch/internal/features"
	mylog "siftsearch/internal/log"
)

var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".bmp": {},
}

// ErrNoDescriptors marks a file that decoded to zero descriptors.
var ErrNoDescriptors = errors.New("no descriptors")

// Options configures a Builder.
type Options struct {
	Workers     int
	MaxFileSize int64    // bytes; larger files are skipped
	Include     []string // glob patterns on the file name
	Exclude     []string // glob patterns on the file name
	Logger      *mylog.Logger
}

// FileReport is the outcome for one scanned file.
type FileReport struct {
	File      string
	Tag       string
	Keypoints   int
	Descriptors int
	Err         error // non-nil when skipped
}

// Report summarises a build.
type Report struct {
	Files     []FileReport
	Processed int
	Skipped   int
	Elapsed   time.Duration
}

// Builder extracts features for every image in a directory.
type Builder struct {
	ex   features.Extractor
	opts Options
	log  *mylog.Logger
}

// New returns a Builder using ex. MaxFileSize defaults to 64 MiB and Workers to GOMAXPROCS.
func New(ex features.Extractor, optFns ...func(o *Options)) *Builder {
	opts := Options{MaxFileSize: 64 << 20}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	lg := opts.Logger
	if lg == nil {
		lg = mylog.Discard()
	}
	return &Builder{ex: ex, opts: opts, log: lg.With(map[string]string{"component": "builder"})}
}

// TagFromName derives the category tag from a file name: the text before the
// first underscore, or the stem when there is none.
func TagFromName(name string) string {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '_'); i > 0 {
		return base[:i]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ListImages returns the supported image files directly inside dir, sorted by
// name. Subdirectories are not descended.
func ListImages(dir string, include, exclude []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, ok := imageExts[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if len(include) > 0 && !matchAny(name, include) {
			continue
		}
		if len(exclude) > 0 && matchAny(name, exclude) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Build extracts every supported image in dir. Bad files are skipped and
// reported; only an unreadable directory or cancellation fails the build.
func (b *Builder) Build(ctx context.Context, dir string) (*featuredb.Database, *Report, error) {
	start := time.Now()
	names, err := ListImages(dir, b.opts.Include, b.opts.Exclude)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	recs := make([]featuredb.Record, len(names))
	reps := make([]FileReport, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, name := range names {
		g.Go(func() error {
			rec, err := b.extract(gctx, filepath.Join(dir, name))
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			reps[i] = FileReport{File: name, Tag: TagFromName(name), Keypoints: len(rec.Keypoints), Descriptors: len(rec.Descriptors), Err: err}
			if err == nil {
				rec.File, rec.Tag = name, reps[i].Tag
				recs[i] = rec
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	rep := &Report{Files: reps}
	kept := make([]featuredb.Record, 0, len(recs))
	for i, r := range reps {
		if r.Err != nil {
			rep.Skipped++
			b.log.Warn("build.skip", "file", r.File, "error", r.Err.Error())
			continue
		}
		rep.Processed++
		kept = append(kept, recs[i])
		b.log.Debug("build.ok", "file", r.File, "tag", r.Tag, "kp", r.Keypoints, "desc", r.Descriptors)
	}
	db, err := featuredb.New(kept)
	if err != nil {
		return nil, nil, err
	}
	rep.Elapsed = time.Since(start)
	b.log.Info("build.done", "dir", dir, "processed", rep.Processed, "skipped", rep.Skipped, "ms", rep.Elapsed.Milliseconds())
	return db, rep, nil
}

func (b *Builder) extract(ctx context.Context, path string) (featuredb.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return featuredb.Record{}, err
	}
	if b.opts.MaxFileSize > 0 && info.Size() > b.opts.MaxFileSize {
		return featuredb.Record{}, fmt.Errorf("file too large (%d bytes)", info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return featuredb.Record{}, err
	}
	f, err := b.ex.Extract(ctx, data)
	if err != nil {
		return featuredb.Record{}, err
	}
	if f.Empty() {
		return featuredb.Record{}, ErrNoDescriptors
	}
	if err := f.Validate(); err != nil {
		return featuredb.Record{}, err
	}
	return featuredb.Record{Keypoints: f.Keypoints, Descriptors: f.Descriptors, ColorMean: f.ColorMean}, nil
}
