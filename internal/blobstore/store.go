// Package blobstore reads and writes whole blobs on the local filesystem, S3 or
// MinIO, addressed by URI.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ErrNotFound is returned when a blob does not exist. It maps to os.ErrNotExist
// so local and remote misses are handled alike.
var ErrNotFound = os.ErrNotExist

// Store holds named immutable blobs.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte) error
}

// Location is a parsed blob URI.
type Location struct {
	Scheme string // "file", "s3" or "minio"
	Host   string // minio endpoint
	Bucket string
	Key    string
}

// Remote reports whether the location needs network access.
func (l Location) Remote() bool { return l.Scheme != "file" }

func (l Location) String() string {
	switch l.Scheme {
	case "s3":
		return "s3://" + l.Bucket + "/" + l.Key
	case "minio":
		return "minio://" + l.Host + "/" + l.Bucket + "/" + l.Key
	default:
		return l.Key
	}
}

// Parse accepts a bare path, file://path, s3://bucket/key or
// minio://host/bucket/key.
func Parse(uri string) (Location, error) {
	if !strings.Contains(uri, "://") {
		if uri == "" {
			return Location{}, errors.New("blobstore: empty location")
		}
		return Location{Scheme: "file", Key: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("blobstore: parse %q: %w", uri, err)
	}
	switch u.Scheme {
	case "file":
		p := u.Host + u.Path
		if p == "" {
			return Location{}, fmt.Errorf("blobstore: empty path in %q", uri)
		}
		return Location{Scheme: "file", Key: p}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("blobstore: want s3://bucket/key, got %q", uri)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Key: key}, nil
	case "minio":
		bucket, key, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if u.Host == "" || !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("blobstore: want minio://host/bucket/key, got %q", uri)
		}
		return Location{Scheme: "minio", Host: u.Host, Bucket: bucket, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("blobstore: unsupported scheme %q", u.Scheme)
	}
}

// Open returns the store for a location and the blob name within it.
func Open(ctx context.Context, loc Location) (Store, string, error) {
	switch loc.Scheme {
	case "file":
		return NewLocalStore(""), loc.Key, nil
	case "s3":
		s, err := NewS3FromEnv(ctx, loc.Bucket)
		return s, loc.Key, err
	case "minio":
		s, err := NewMinioFromEnv(loc.Host, loc.Bucket)
		return s, loc.Key, err
	default:
		return nil, "", fmt.Errorf("blobstore: unsupported scheme %q", loc.Scheme)
	}
}

// Read fetches the blob at uri.
func Read(ctx context.Context, uri string) ([]byte, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	s, name, err := Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// Write stores data at uri, replacing any existing blob.
func Write(ctx context.Context, uri string, data []byte) error {
	loc, err := Parse(uri)
	if err != nil {
		return err
	}
	s, name, err := Open(ctx, loc)
	if err != nil {
		return err
	}
	return s.Put(ctx, name, data)
}
