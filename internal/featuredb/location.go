package featuredb

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"siftsearch/internal/blobstore"
)

// Format is an alternative on-disk representation selected by file extension,
// such as the SQLite catalog. Formats register themselves from init.
type Format interface {
	Load(ctx context.Context, path string) (*Database, error)
	Save(ctx context.Context, path string, db *Database) error
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

// Register makes a Format available for paths ending in ext (".db", ...).
func Register(ext string, f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[strings.ToLower(ext)] = f
}

func formatFor(loc blobstore.Location) (Format, bool) {
	if loc.Remote() {
		return nil, false
	}
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	f, ok := formats[strings.ToLower(filepath.Ext(loc.Key))]
	return f, ok
}

// Options control how a database is written.
type Options struct {
	Codec Codec
}

// DefaultOptions writes zstd-compressed blobs.
var DefaultOptions = Options{Codec: CodecZstd}

// Open loads a database from a bare path, file://, s3:// or minio:// URI.
func Open(ctx context.Context, uri string) (*Database, error) {
	loc, err := blobstore.Parse(uri)
	if err != nil {
		return nil, err
	}
	if f, ok := formatFor(loc); ok {
		return f.Load(ctx, loc.Key)
	}
	s, name, err := blobstore.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	data, err := s.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	db, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", loc, err)
	}
	return db, nil
}

// Put writes db to uri, replacing what was there.
func Put(ctx context.Context, uri string, db *Database, optFns ...func(o *Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	loc, err := blobstore.Parse(uri)
	if err != nil {
		return err
	}
	if f, ok := formatFor(loc); ok {
		return f.Save(ctx, loc.Key, db)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, db, opts.Codec); err != nil {
		return err
	}
	s, name, err := blobstore.Open(ctx, loc)
	if err != nil {
		return err
	}
	if err := s.Put(ctx, name, buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", loc, err)
	}
	return nil
}

// Load is Open without a caller context.
func Load(path string) (*Database, error) {
	return Open(context.Background(), path)
}

// Save is Put without a caller context.
func Save(path string, db *Database, optFns ...func(o *Options)) error {
	return Put(context.Background(), path, db, optFns...)
}
