package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrator applies the base catalog schema. Caller provides opened *sql.DB.
type Migrator struct{}

func (m Migrator) Up(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		// one row per indexed image; ord is the build scan order
		`CREATE TABLE IF NOT EXISTS images (
            ord INTEGER PRIMARY KEY,
            file TEXT NOT NULL,
            tag TEXT NOT NULL,
            kp_count INTEGER NOT NULL,
            color_b REAL NOT NULL,
            color_g REAL NOT NULL,
            color_r REAL NOT NULL,
            keypoints BLOB,
            descriptors BLOB,
            created_at TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_images_tag ON images(tag);`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}
