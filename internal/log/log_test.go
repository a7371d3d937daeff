package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, b *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriter(&buf, Warn)
	lg.Info("db.loaded", "records", 3)
	lg.Warn("build.skip", "file", "broken.jpg")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["msg"] != "build.skip" || lines[0]["level"] != "warn" || lines[0]["file"] != "broken.jpg" {
		t.Fatalf("unexpected record: %v", lines[0])
	}
}

func TestWithFieldsAndMasking(t *testing.T) {
	var buf bytes.Buffer
	lg := NewWriter(&buf, Debug).With(map[string]string{"component": "server"})
	lg.Info("blob.open", "minio_secret_key", "abcdefghijklmnop", "auth", "Bearer tok-1234567890")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	m := lines[0]
	if m["component"] != "server" {
		t.Fatalf("missing inherited field: %v", m)
	}
	if v, _ := m["minio_secret_key"].(string); strings.Contains(v, "efghijkl") {
		t.Fatalf("secret not masked: %q", v)
	}
	if v, _ := m["auth"].(string); strings.Contains(v, "1234567890") {
		t.Fatalf("bearer not masked: %q", v)
	}
}

func TestParseLevel(t *testing.T) {
	if l, ok := ParseLevel(" DEBUG "); !ok || l != Debug {
		t.Fatalf("ParseLevel debug = %v %v", l, ok)
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level")
	}
	if Discard().Enabled(Error) {
		t.Fatalf("discard logger should drop errors")
	}
}
