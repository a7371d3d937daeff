package models

import "time"

// SearchResult is one ranked image in a search response. Similarities are
// percentages rounded to two decimals.
type SearchResult struct {
	File                 string  `json:"file"`
	Tag                  string  `json:"tag"`
	MatchCount           int     `json:"matchCount"`
	StructuralSimilarity float64 `json:"structuralSimilarity"`
	ColorSimilarity      float64 `json:"colorSimilarity"`
	TotalSimilarity      float64 `json:"totalSimilarity"`
}

// Timings are per-phase durations in milliseconds.
type Timings struct {
	FeatureExtraction float64 `json:"featureExtraction"`
	Matching          float64 `json:"matching"`
	Sorting           float64 `json:"sorting"`
	Total             float64 `json:"total"`
}

type SearchResponse struct {
	Results   []SearchResult `json:"results"`
	Keypoints int            `json:"queryKeypoints"`
	Scanned   int            `json:"scanned"`
	Timings   Timings        `json:"timings_ms"`
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

type Stats struct {
	Records     int        `json:"records"`
	Descriptors int        `json:"descriptors"`
	Tags        []TagCount `json:"tags"`
	DBPath      string     `json:"dbPath"`
	LoadedAt    time.Time  `json:"loadedAt"`
	ReadOnly    bool       `json:"readOnly"`
	Version     string     `json:"version"`
}

type ReloadResponse struct {
	Records  int       `json:"records"`
	LoadedAt time.Time `json:"loadedAt"`
}
