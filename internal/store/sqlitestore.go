package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"siftsearch/internal/featuredb"
	sqlm "siftsearch/internal/storage/sqlite"
)

// SQLiteStore is a feature catalog in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	// migration manager with versioning
	if err := (sqlm.Manager{}).UpToLatest(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenReadOnly opens an existing catalog for reading. It never migrates or
// writes, and fails unless the file carries this build's format version.
func OpenReadOnly(ctx context.Context, path string) (*SQLiteStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	dsn := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.checkFormat(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	return s, nil
}

// checkFormat requires the images table and a matching format_version row.
func (s *SQLiteStore) checkFormat(ctx context.Context) error {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name IN ('images','catalog_meta')`).Scan(&n)
	if err != nil {
		return fmt.Errorf("%w: %v", featuredb.ErrBadFormat, err)
	}
	if n != 2 {
		return fmt.Errorf("%w: not a feature catalog", featuredb.ErrBadFormat)
	}
	v, ok, err := s.Meta(ctx, "format_version")
	if err != nil {
		return fmt.Errorf("%w: %v", featuredb.ErrBadFormat, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing format_version", featuredb.ErrBadFormat)
	}
	if v != strconv.Itoa(int(featuredb.Version)) {
		return fmt.Errorf("%w: %s (want %d)", featuredb.ErrUnsupportedVersion, v, featuredb.Version)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes underlying *sql.DB for tests and maintenance commands.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// WithTx commits on nil error and rolls back otherwise. The callback must not
// hold the tx beyond return.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveDatabase replaces the catalog contents with db in one transaction.
func (s *SQLiteStore) SaveDatabase(ctx context.Context, db *featuredb.Database) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM images`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO images(ord,file,tag,kp_count,color_b,color_g,color_r,keypoints,descriptors,created_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range db.Records() {
			_, err := stmt.ExecContext(ctx, i, r.File, r.Tag, len(r.Keypoints),
				r.ColorMean[0], r.ColorMean[1], r.ColorMean[2],
				encodeKeypoints(r.Keypoints), encodeDescriptors(r.Descriptors), now)
			if err != nil {
				return fmt.Errorf("insert %s: %w", r.File, err)
			}
		}
		return setMeta(ctx, tx, map[string]string{
			"format_version": strconv.Itoa(int(featuredb.Version)),
			"saved_at":       now,
			"records":        strconv.Itoa(db.Len()),
		})
	})
}

func setMeta(ctx context.Context, tx *sql.Tx, kv map[string]string) error {
	for k, v := range kv {
		if _, err := tx.ExecContext(ctx, `INSERT INTO catalog_meta(key,value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Meta returns a catalog metadata value.
func (s *SQLiteStore) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM catalog_meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// LoadDatabase reads every image in ord order and validates the result.
func (s *SQLiteStore) LoadDatabase(ctx context.Context) (*featuredb.Database, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file,tag,kp_count,color_b,color_g,color_r,keypoints,descriptors FROM images ORDER BY ord`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []featuredb.Record
	for rows.Next() {
		var (
			r        featuredb.Record
			kpCount  int
			kpb, dsb []byte
		)
		if err := rows.Scan(&r.File, &r.Tag, &kpCount, &r.ColorMean[0], &r.ColorMean[1], &r.ColorMean[2], &kpb, &dsb); err != nil {
			return nil, err
		}
		if r.Keypoints, err = decodeKeypoints(kpb); err != nil {
			return nil, fmt.Errorf("%s: %w", r.File, err)
		}
		if r.Descriptors, err = decodeDescriptors(dsb); err != nil {
			return nil, fmt.Errorf("%s: %w", r.File, err)
		}
		if kpCount != len(r.Keypoints) {
			return nil, fmt.Errorf("%s: kp_count %d but %d keypoints stored", r.File, kpCount, len(r.Keypoints))
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return featuredb.New(records)
}

// Count returns the number of stored images.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM images`).Scan(&n)
	return n, err
}
