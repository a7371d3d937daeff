package store

import (
	"context"

	"siftsearch/internal/featuredb"
)

// sqliteFormat lets featuredb.Open/Put handle catalog paths.
type sqliteFormat struct{}

func (sqliteFormat) Load(ctx context.Context, path string) (*featuredb.Database, error) {
	s, err := OpenReadOnly(ctx, path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.LoadDatabase(ctx)
}

func (sqliteFormat) Save(ctx context.Context, path string, db *featuredb.Database) error {
	s, err := NewSQLite(path)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.SaveDatabase(ctx, db)
}

func init() {
	featuredb.Register(".db", sqliteFormat{})
	featuredb.Register(".sqlite", sqliteFormat{})
}
