package store

import (
	"context"
	"database/sql"

	"siftsearch/internal/featuredb"
)

// TxRunner provides a transaction wrapper for repository operations.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(*sql.Tx) error) error
}

// Catalog persists a whole feature database.
type Catalog interface {
	SaveDatabase(ctx context.Context, db *featuredb.Database) error
	LoadDatabase(ctx context.Context) (*featuredb.Database, error)
	Count(ctx context.Context) (int, error)
}

var _ Catalog = (*SQLiteStore)(nil)
