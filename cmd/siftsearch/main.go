package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"siftsearch/internal/blobstore"
	"siftsearch/internal/builder"
	"siftsearch/internal/config"
	"siftsearch/internal/featuredb"
	mylog "siftsearch/internal/log"
	"siftsearch/internal/models"
	"siftsearch/internal/search"
	"siftsearch/internal/server"
	_ "siftsearch/internal/store" // registers the .db/.sqlite catalog format
	"siftsearch/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	if err := loadConfig(); err != nil {
		fatal("%v", err)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(os.Args[2:])
	case "build":
		buildCmd(os.Args[2:])
	case "search":
		searchCmd(os.Args[2:])
	case "compare":
		compareCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("siftsearch - content-based image similarity search")
	fmt.Println("usage:")
	fmt.Println("  siftsearch serve [--addr :8000] [--db features.sfdb]")
	fmt.Println("  siftsearch build <image-dir> [output]")
	fmt.Println("  siftsearch search <image> [--k 5] [--tag <tag>]")
	fmt.Println("  siftsearch compare <img1> <img2>")
	fmt.Println("  siftsearch inspect <db>")
	fmt.Println("  siftsearch version")
}

// loadConfig applies ~/.siftsearch/config.* to the environment. A malformed
// file is an error rather than a silent fallback to defaults.
func loadConfig() error {
	if err := config.LoadAndApply(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// parseArgs lets flags appear before or after positionals.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	var pos []string
	for {
		_ = fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return pos
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func newEngine(db *featuredb.Database) (*search.Engine, error) {
	sc, err := config.Search()
	if err != nil {
		return nil, err
	}
	return search.New(db, sc.Apply, func(o *search.Options) { o.Searcher = newSearcher() })
}

func serveCmd(args []string) {
	cfg, err := config.Server()
	if err != nil {
		fatal("config: %v", err)
	}
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Addr, "listen address")
	dbPath := fs.String("db", cfg.DBPath, "feature database path or URI")
	_ = fs.Parse(args)
	cfg.Addr, cfg.DBPath = *addr, *dbPath

	lg := mylog.New()
	start := time.Now()
	db, err := featuredb.Open(context.Background(), cfg.DBPath)
	if err != nil {
		lg.Error("db.load_failed", "path", cfg.DBPath, "err", err.Error())
		os.Exit(1)
	}
	lg.Info("db.loaded", "path", cfg.DBPath, "records", db.Len(), "descriptors", db.Descriptors(), "duration_ms", time.Since(start).Milliseconds())

	e, err := newEngine(db)
	if err != nil {
		fatal("engine: %v", err)
	}
	api := server.NewAPI(e, newExtractor(), cfg, server.WithLogger(lg))
	if err := server.Run(cfg.Addr, api); err != nil {
		fatal("server error: %v", err)
	}
}

func buildCmd(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	workers := fs.Int("workers", 0, "parallel extractions (default GOMAXPROCS)")
	include := fs.String("include", "", "comma-separated filename globs to include")
	exclude := fs.String("exclude", "", "comma-separated filename globs to exclude")
	pos := parseArgs(fs, args)
	if len(pos) < 1 || len(pos) > 2 {
		fatal("usage: siftsearch build <image-dir> [output]")
	}
	dir, out := pos[0], "features.sfdb"
	if len(pos) == 2 {
		out = pos[1]
	}
	codec, err := config.Codec()
	if err != nil {
		fatal("config: %v", err)
	}

	b := builder.New(newExtractor(), func(o *builder.Options) {
		o.Workers = *workers
		o.Include = splitList(*include)
		o.Exclude = splitList(*exclude)
		o.Logger = mylog.New()
	})
	ctx := context.Background()
	db, rep, err := b.Build(ctx, dir)
	if err != nil {
		fatal("build: %v", err)
	}
	for _, f := range rep.Files {
		if f.Err != nil {
			fmt.Printf("[WARN] %s: %v\n", f.File, f.Err)
			continue
		}
		fmt.Printf("[OK] %s kp=%d desc=%d\n", f.File, f.Keypoints, f.Descriptors)
	}
	if err := featuredb.Put(ctx, out, db, func(o *featuredb.Options) { o.Codec = codec }); err != nil {
		fatal("save: %v", err)
	}
	fmt.Printf("[SAVED] %s (%d items, %s) in %s\n", out, db.Len(), savedSize(out), rep.Elapsed.Round(time.Millisecond))
}

func savedSize(uri string) string {
	loc, err := blobstore.Parse(uri)
	if err != nil || loc.Remote() {
		return "remote"
	}
	st, err := os.Stat(loc.Key)
	if err != nil {
		return "?"
	}
	return humanize.Bytes(uint64(st.Size()))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func searchCmd(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	k := fs.Int("k", search.DefaultTopK, "number of results (1-100)")
	tag := fs.String("tag", "", "restrict to one tag")
	pos := parseArgs(fs, args)
	if len(pos) != 1 {
		fatal("usage: siftsearch search <image> [--k 5] [--tag <tag>]")
	}
	data, err := os.ReadFile(pos[0])
	if err != nil {
		fatal("%v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(pos[0]))
	if err != nil {
		fatal("%v", err)
	}
	_, _ = fw.Write(data)
	_ = mw.WriteField("k", strconv.Itoa(*k))
	if *tag != "" {
		_ = mw.WriteField("tag", *tag)
	}
	_ = mw.Close()

	u, err := url.JoinPath(config.ServerURL(), "search")
	if err != nil {
		fatal("%v", err)
	}
	req, err := http.NewRequest(http.MethodPost, u, &body)
	if err != nil {
		fatal("%v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if tok := os.Getenv("SIFTSEARCH_API_TOKEN"); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal("%v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			fatal("search failed (%d): %s", resp.StatusCode, e.Message)
		}
		fatal("search failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var sr models.SearchResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		fatal("decode response: %v", err)
	}
	fmt.Printf("query keypoints=%d scanned=%d total=%.1fms\n", sr.Keypoints, sr.Scanned, sr.Timings.Total)
	for i, r := range sr.Results {
		fmt.Printf("%2d. %-32s tag=%-12s total=%6.2f%% structural=%6.2f%% color=%6.2f%% matches=%d\n",
			i+1, r.File, r.Tag, r.TotalSimilarity, r.StructuralSimilarity, r.ColorSimilarity, r.MatchCount)
	}
}

func compareCmd(args []string) {
	if len(args) != 2 {
		fatal("usage: siftsearch compare <img1> <img2>")
	}
	ex := newExtractor()
	ctx := context.Background()
	a, err := extractFile(ctx, ex, args[0])
	if err != nil {
		fatal("%v", err)
	}
	b, err := extractFile(ctx, ex, args[1])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("%s: %d keypoints\n", filepath.Base(args[0]), len(a.Keypoints))
	fmt.Printf("%s: %d keypoints\n", filepath.Base(args[1]), len(b.Keypoints))

	empty, _ := featuredb.New(nil)
	e, err := newEngine(empty)
	if err != nil {
		fatal("engine: %v", err)
	}
	res, err := e.Compare(a, b)
	if err != nil {
		fatal("compare: %v", err)
	}
	fmt.Printf("matches=%d structural=%.2f%% color=%.2f%% total=%.2f%%\n", res.MatchCount, res.Structural, res.Color, res.Total)
	if res.Structural > 10 {
		fmt.Println("verdict: similar")
	} else {
		fmt.Println("verdict: not similar")
	}
}

func inspectCmd(args []string) {
	if len(args) != 1 {
		fatal("usage: siftsearch inspect <db>")
	}
	db, err := featuredb.Open(context.Background(), args[0])
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("path:        %s (%s)\n", args[0], savedSize(args[0]))
	fmt.Printf("version:     %d\n", featuredb.Version)
	fmt.Printf("records:     %s\n", humanize.Comma(int64(db.Len())))
	fmt.Printf("descriptors: %s\n", humanize.Comma(int64(db.Descriptors())))
	fmt.Println("tags:")
	for _, t := range db.Tags() {
		fmt.Printf("  %-20s %d\n", t.Tag, t.Count)
	}
}
