package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"siftsearch/internal/featuredb"
	"siftsearch/internal/features"
)

func testRecords() []featuredb.Record {
	var d1, d2 features.Descriptor
	for i := range d1 {
		d1[i] = float32(i)
		d2[i] = float32(features.DescriptorSize - i)
	}
	return []featuredb.Record{
		{
			File:        "cat_001.jpg",
			Tag:         "cat",
			Keypoints:   []features.Keypoint{{X: 1.5, Y: 2.5, Scale: 16, Orientation: 90}, {X: 3, Y: 4, Scale: 32, Orientation: features.NoOrientation}},
			Descriptors: []features.Descriptor{d1, d2},
			ColorMean:   features.Color{10, 20, 30},
		},
		{File: "blank.png", Tag: "blank", ColorMean: features.Color{255, 255, 255}},
		{
			File:        "cat_002.jpg",
			Tag:         "cat",
			Keypoints:   []features.Keypoint{{X: 7, Y: 8, Scale: 16, Orientation: 180}},
			Descriptors: []features.Descriptor{d2},
			ColorMean:   features.Color{1, 2, 3},
		},
	}
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "features.db")
	s, err := NewSQLite(dbpath)
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	defer s.Close()

	db, err := featuredb.New(testRecords())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := s.SaveDatabase(ctx, db); err != nil {
		t.Fatalf("SaveDatabase: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}
	got, err := s.LoadDatabase(ctx)
	if err != nil {
		t.Fatalf("LoadDatabase: %v", err)
	}
	if !reflect.DeepEqual(got.Records(), db.Records()) {
		t.Fatalf("records differ after round trip:\n got %+v\nwant %+v", got.Records(), db.Records())
	}
	if v, ok, err := s.Meta(ctx, "records"); err != nil || !ok || v != "3" {
		t.Fatalf("meta records = %q %v %v", v, ok, err)
	}
}

func TestSQLiteSaveReplaces(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "features.db"))
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	defer s.Close()
	ctx := context.Background()

	full, _ := featuredb.New(testRecords())
	if err := s.SaveDatabase(ctx, full); err != nil {
		t.Fatalf("save: %v", err)
	}
	small, _ := featuredb.New(testRecords()[:1])
	if err := s.SaveDatabase(ctx, small); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.LoadDatabase(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Len() != 1 || got.Record(0).File != "cat_001.jpg" {
		t.Fatalf("unexpected records after replace: %+v", got.Records())
	}
}

func TestFeaturedbDispatchesByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.sqlite")
	db, _ := featuredb.New(testRecords())
	if err := featuredb.Save(path, db); err != nil {
		t.Skip("sqlite not available:", err)
	}
	// must be a SQLite file, not a blob
	head := make([]byte, 16)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.Read(head)
	f.Close()
	if string(head[:15]) != "SQLite format 3" {
		t.Fatalf("expected sqlite header, got %q", head)
	}
	got, err := featuredb.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Records(), db.Records()) {
		t.Fatalf("records differ")
	}
}

func TestFeaturedbLoadMissingCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.db")
	if _, err := featuredb.Load(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("load must not create %s", path)
	}
}

func TestBlobCodecsRejectBadLength(t *testing.T) {
	if _, err := decodeKeypoints(make([]byte, 5)); err == nil {
		t.Fatalf("expected error for short keypoint blob")
	}
	if _, err := decodeDescriptors(make([]byte, 4*features.DescriptorSize+1)); err == nil {
		t.Fatalf("expected error for short descriptor blob")
	}
}

func TestFeaturedbLoadRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := featuredb.Load(path); !errors.Is(err, featuredb.ErrBadFormat) {
		t.Fatalf("expected ErrBadFormat for empty file, got %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Size() != 0 {
		t.Fatalf("load must not write to the catalog, size=%d", st.Size())
	}
}

func TestFeaturedbLoadRejectsMissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Skip("sqlite not available:", err)
	}
	s.Close() // schema only, never saved
	if _, err := featuredb.Load(path); !errors.Is(err, featuredb.ErrBadFormat) {
		t.Fatalf("expected ErrBadFormat without format_version, got %v", err)
	}
}

func TestFeaturedbLoadRejectsVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "features.db")
	db, _ := featuredb.New(testRecords())
	if err := featuredb.Save(path, db); err != nil {
		t.Skip("sqlite not available:", err)
	}
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().Exec(`UPDATE catalog_meta SET value='99' WHERE key='format_version'`); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if _, err := featuredb.Load(path); !errors.Is(err, featuredb.ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}
