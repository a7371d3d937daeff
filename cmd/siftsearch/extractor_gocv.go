//go:build gocv

package main

import (
	"siftsearch/internal/features"
	"siftsearch/internal/match"
)

func newExtractor() features.Extractor { return features.NewSIFTExtractor() }

func newSearcher() match.NeighborSearcher { return match.CVMatcher{} }
