// Package search ranks a feature database against a query image.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"siftsearch/internal/featuredb"
	"siftsearch/internal/features"
	"siftsearch/internal/match"
	"siftsearch/internal/score"
)

// ErrNoFeatures is returned when the query has no descriptors. It is checked
// before any record is scored.
var ErrNoFeatures = errors.New("no features found in query image")

// DefaultTopK is the number of results returned when Query.TopK is unset.
const DefaultTopK = 5

// Options configure an Engine.
type Options struct {
	Ratio    float64
	Weights  score.Weights
	TopK     int
	Workers  int
	Searcher match.NeighborSearcher
}

// DefaultOptions mirror the reference thresholds.
var DefaultOptions = Options{
	Ratio:   match.DefaultRatio,
	Weights: score.DefaultWeights,
	TopK:    DefaultTopK,
}

// Query narrows one search.
type Query struct {
	TopK int    // 0 uses the engine default
	Tag  string // empty scores every record
}

// Result is one ranked database image.
type Result struct {
	File       string  `json:"file"`
	Tag        string  `json:"tag"`
	MatchCount int     `json:"matchCount"`
	Structural float64 `json:"structuralSimilarity"`
	Color      float64 `json:"colorSimilarity"`
	Total      float64 `json:"totalSimilarity"`
	Index      int     `json:"-"` // position in the database
}

// Hits is the outcome of one search.
type Hits struct {
	Results  []Result
	Scanned  int
	Matching time.Duration
	Sorting  time.Duration
}

// Engine scores queries against an injected database. It is safe for concurrent
// use; Reload swaps the database without blocking in-flight searches.
type Engine struct {
	db      atomic.Pointer[featuredb.Database]
	matcher *match.Matcher
	scorer  score.Scorer
	opts    Options
}

// New returns an Engine over db.
func New(db *featuredb.Database, optFns ...func(o *Options)) (*Engine, error) {
	if db == nil {
		return nil, errors.New("search: nil database")
	}
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	e := &Engine{
		matcher: match.NewMatcher(opts.Ratio, opts.Searcher),
		scorer:  score.Scorer{Weights: opts.Weights},
		opts:    opts,
	}
	e.db.Store(db)
	return e, nil
}

// Database returns the current snapshot.
func (e *Engine) Database() *featuredb.Database { return e.db.Load() }

// Reload atomically replaces the database. Searches already running keep the
// snapshot they started with.
func (e *Engine) Reload(db *featuredb.Database) error {
	if db == nil {
		return errors.New("search: nil database")
	}
	e.db.Store(db)
	return nil
}

// Options returns the effective configuration.
func (e *Engine) Options() Options { return e.opts }

// Search scores the query against every record (or every record with
// Query.Tag) and returns the best matches, highest total first. Equal totals
// keep database order.
func (e *Engine) Search(ctx context.Context, q features.Features, opt Query) (*Hits, error) {
	if q.Empty() {
		return nil, ErrNoFeatures
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	k := opt.TopK
	if k <= 0 {
		k = e.opts.TopK
	}
	db := e.db.Load()

	var idx []int
	if opt.Tag != "" {
		idx = db.WithTag(opt.Tag)
	} else {
		idx = make([]int, db.Len())
		for i := range idx {
			idx[i] = i
		}
	}

	start := time.Now()
	results, err := e.scan(ctx, db, q, idx)
	if err != nil {
		return nil, err
	}
	matching := time.Since(start)

	start = time.Now()
	results = rank(results, k)
	return &Hits{
		Results:  results,
		Scanned:  len(idx),
		Matching: matching,
		Sorting:  time.Since(start),
	}, nil
}

// scan scores idx in parallel. Each worker owns a contiguous range of result
// slots, so the output is in idx order regardless of scheduling.
func (e *Engine) scan(ctx context.Context, db *featuredb.Database, q features.Features, idx []int) ([]Result, error) {
	results := make([]Result, len(idx))
	if len(idx) == 0 {
		return results, nil
	}
	workers := e.opts.Workers
	if workers > len(idx) {
		workers = len(idx)
	}
	chunk := (len(idx) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for lo := 0; lo < len(idx); lo += chunk {
		hi := min(lo+chunk, len(idx))
		g.Go(func() error {
			for slot := lo; slot < hi; slot++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[slot] = e.score(q, db.Record(idx[slot]), idx[slot])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// errgroup cancels gctx on return; a caller cancellation that raced the last
	// record still counts as abandoned.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) score(q features.Features, r *featuredb.Record, index int) Result {
	n := e.matcher.Count(q.Descriptors, r.Descriptors)
	b := e.scorer.Score(n, len(q.Keypoints), len(r.Keypoints), q.ColorMean, r.ColorMean)
	return Result{
		File:       r.File,
		Tag:        r.Tag,
		MatchCount: b.MatchCount,
		Structural: b.Structural,
		Color:      b.Color,
		Total:      b.Total,
		Index:      index,
	}
}

// rank sorts by descending total with the database index as tiebreak and keeps
// the first k.
func rank(results []Result, k int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Total != results[j].Total {
			return results[i].Total > results[j].Total
		}
		return results[i].Index < results[j].Index
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Compare scores two feature sets directly.
func (e *Engine) Compare(a, b features.Features) (Result, error) {
	if a.Empty() || b.Empty() {
		return Result{}, ErrNoFeatures
	}
	n := e.matcher.Count(a.Descriptors, b.Descriptors)
	s := e.scorer.Score(n, len(a.Keypoints), len(b.Keypoints), a.ColorMean, b.ColorMean)
	return Result{MatchCount: s.MatchCount, Structural: s.Structural, Color: s.Color, Total: s.Total}, nil
}
