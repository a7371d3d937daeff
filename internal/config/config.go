package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// KnownKeys defines environment variable keys that siftsearch recognizes.
var KnownKeys = []string{
	"SIFTSEARCH_SERVER_URL",
	"SIFTSEARCH_ADDR",
	"SIFTSEARCH_DB_PATH",
	"SIFTSEARCH_DB_CODEC",
	"SIFTSEARCH_RATIO",
	"SIFTSEARCH_WEIGHT_STRUCTURAL",
	"SIFTSEARCH_WEIGHT_COLOR",
	"SIFTSEARCH_TOP_K",
	"SIFTSEARCH_WORKERS",
	"SIFTSEARCH_MAX_UPLOAD_BYTES",
	"SIFTSEARCH_API_TOKEN",
	"SIFTSEARCH_READONLY",
	"SIFTSEARCH_RATE_LIMIT_RPS",
	"SIFTSEARCH_RATE_LIMIT_BURST",
	"SIFTSEARCH_RATE_LIMIT_GLOBAL_RPS",
	"SIFTSEARCH_RATE_LIMIT_PATH_RPS",
	"SIFTSEARCH_RATE_LIMIT_IP_RPS",
	"SIFTSEARCH_LOG_LEVEL",
	"SIFTSEARCH_MINIO_ACCESS_KEY",
	"SIFTSEARCH_MINIO_SECRET_KEY",
	"SIFTSEARCH_MINIO_SECURE",
	"AWS_REGION",
}

// Dir returns the per-user config directory (~/.siftsearch).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errors.New("no home directory")
	}
	return filepath.Join(home, ".siftsearch"), nil
}

// LoadAndApply loads configuration from ~/.siftsearch/config.yaml (or .yml/.json)
// and applies values into the process environment for known keys if they are
// not already set. Environment variables take precedence over file values.
func LoadAndApply() error {
	base, err := Dir()
	if err != nil {
		return nil // non-fatal
	}
	return LoadFileAndApply(
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	)
}

// LoadFileAndApply applies the first readable file among paths.
func LoadFileAndApply(paths ...string) error {
	var data map[string]any
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		m, err := parse(p, b)
		if err != nil {
			return fmt.Errorf("config %s: %w", p, err)
		}
		data = m
		break
	}
	if len(data) == 0 {
		return nil
	}
	// Apply to env if not set already
	for _, key := range KnownKeys {
		if os.Getenv(key) != "" {
			continue
		}
		if v, ok := lookupInsensitive(data, key); ok {
			os.Setenv(key, toString(v))
		}
	}
	return nil
}

func parse(path string, b []byte) (map[string]any, error) {
	var m map[string]any
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func lookupInsensitive(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	// allow lower/upper keys
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// avoid trailing .0 for integer-like values
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
