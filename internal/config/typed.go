package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"siftsearch/internal/featuredb"
	"siftsearch/internal/match"
	"siftsearch/internal/score"
	"siftsearch/internal/search"
)

// SearchConfig holds the ranking parameters.
type SearchConfig struct {
	Ratio   float64
	Weights score.Weights
	TopK    int
	Workers int
}

// Apply copies the config into engine options.
func (c SearchConfig) Apply(o *search.Options) {
	o.Ratio = c.Ratio
	o.Weights = c.Weights
	o.TopK = c.TopK
	o.Workers = c.Workers
}

// Search reads SIFTSEARCH_RATIO, SIFTSEARCH_WEIGHT_*, SIFTSEARCH_TOP_K and
// SIFTSEARCH_WORKERS.
func Search() (SearchConfig, error) {
	c := SearchConfig{
		Ratio:   match.DefaultRatio,
		Weights: score.DefaultWeights,
		TopK:    search.DefaultTopK,
	}
	var err error
	if c.Ratio, err = envFloat("SIFTSEARCH_RATIO", c.Ratio); err != nil {
		return c, err
	}
	if c.Ratio <= 0 || c.Ratio >= 1 {
		return c, fmt.Errorf("SIFTSEARCH_RATIO must be in (0,1), got %v", c.Ratio)
	}
	if c.Weights.Structural, err = envFloat("SIFTSEARCH_WEIGHT_STRUCTURAL", c.Weights.Structural); err != nil {
		return c, err
	}
	if c.Weights.Color, err = envFloat("SIFTSEARCH_WEIGHT_COLOR", c.Weights.Color); err != nil {
		return c, err
	}
	if err := c.Weights.Validate(); err != nil {
		return c, err
	}
	if c.TopK, err = envInt("SIFTSEARCH_TOP_K", c.TopK); err != nil {
		return c, err
	}
	if c.TopK < 1 || c.TopK > 100 {
		return c, fmt.Errorf("SIFTSEARCH_TOP_K must be in 1..100, got %d", c.TopK)
	}
	if c.Workers, err = envInt("SIFTSEARCH_WORKERS", 0); err != nil {
		return c, err
	}
	return c, nil
}

// ServerConfig holds the HTTP serving parameters.
type ServerConfig struct {
	Addr           string
	DBPath         string
	MaxUploadBytes int64
	Token          string
	ReadOnly       bool
}

// Server reads SIFTSEARCH_ADDR, SIFTSEARCH_DB_PATH, SIFTSEARCH_MAX_UPLOAD_BYTES,
// SIFTSEARCH_API_TOKEN and SIFTSEARCH_READONLY.
func Server() (ServerConfig, error) {
	c := ServerConfig{
		Addr:           envString("SIFTSEARCH_ADDR", ":8000"),
		DBPath:         envString("SIFTSEARCH_DB_PATH", "features.sfdb"),
		MaxUploadBytes: 16 << 20,
		Token:          os.Getenv("SIFTSEARCH_API_TOKEN"),
		ReadOnly:       envBool("SIFTSEARCH_READONLY"),
	}
	n, err := envInt("SIFTSEARCH_MAX_UPLOAD_BYTES", int(c.MaxUploadBytes))
	if err != nil {
		return c, err
	}
	if n <= 0 {
		return c, fmt.Errorf("SIFTSEARCH_MAX_UPLOAD_BYTES must be positive, got %d", n)
	}
	c.MaxUploadBytes = int64(n)
	return c, nil
}

// Codec reads SIFTSEARCH_DB_CODEC (zstd, lz4 or none).
func Codec() (featuredb.Codec, error) {
	return featuredb.ParseCodec(strings.ToLower(os.Getenv("SIFTSEARCH_DB_CODEC")))
}

// ServerURL is where CLI clients reach the server.
func ServerURL() string {
	return strings.TrimRight(envString("SIFTSEARCH_SERVER_URL", "http://localhost:8000"), "/")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
