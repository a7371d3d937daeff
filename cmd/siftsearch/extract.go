package main

import (
	"context"
	"os"

	"siftsearch/internal/features"
)

func extractFile(ctx context.Context, ex features.Extractor, path string) (features.Features, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return features.Features{}, err
	}
	return ex.Extract(ctx, data)
}
