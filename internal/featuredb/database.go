// Package featuredb holds the precomputed features of every indexed image and
// persists them as a single versioned blob.
package featuredb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"siftsearch/internal/features"
)

// Record is the stored feature set of one database image.
type Record struct {
	File        string
	Tag         string
	Keypoints   []features.Keypoint
	Descriptors []features.Descriptor
	ColorMean   features.Color
}

// Features returns the record as an extractor output.
func (r *Record) Features() features.Features {
	return features.Features{Keypoints: r.Keypoints, Descriptors: r.Descriptors, ColorMean: r.ColorMean}
}

// Validate checks one record.
func (r *Record) Validate() error {
	if r.File == "" {
		return errors.New("empty file name")
	}
	if len(r.Keypoints) != len(r.Descriptors) {
		return fmt.Errorf("%w: %d keypoints, %d descriptors", features.ErrCountMismatch, len(r.Keypoints), len(r.Descriptors))
	}
	return nil
}

// Validate checks every record and reports the first failure with its index.
func Validate(records []Record) error {
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return fmt.Errorf("record %d (%s): %w", i, records[i].File, err)
		}
	}
	return nil
}

// Database is an ordered, read-only collection of records. Record order is the
// build scan order and is what search results fall back to on equal scores.
type Database struct {
	records []Record
	tags    map[string]*roaring.Bitmap
}

// New validates records and indexes them by tag. The slice is owned by the
// Database afterwards.
func New(records []Record) (*Database, error) {
	if err := Validate(records); err != nil {
		return nil, err
	}
	db := &Database{records: records, tags: make(map[string]*roaring.Bitmap)}
	for i := range records {
		bm, ok := db.tags[records[i].Tag]
		if !ok {
			bm = roaring.New()
			db.tags[records[i].Tag] = bm
		}
		bm.Add(uint32(i))
	}
	return db, nil
}

// Len returns the number of records.
func (d *Database) Len() int { return len(d.records) }

// Record returns the i-th record. Callers must not modify it.
func (d *Database) Record(i int) *Record { return &d.records[i] }

// Records returns the backing slice. Callers must not modify it.
func (d *Database) Records() []Record { return d.records }

// WithTag returns the indices of records carrying tag, ascending.
func (d *Database) WithTag(tag string) []int {
	bm, ok := d.tags[tag]
	if !ok {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// TagCount is the number of records per tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Tags returns per-tag record counts sorted by tag.
func (d *Database) Tags() []TagCount {
	out := make([]TagCount, 0, len(d.tags))
	for t, bm := range d.tags {
		out = append(out, TagCount{Tag: t, Count: int(bm.GetCardinality())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Descriptors returns the total descriptor count.
func (d *Database) Descriptors() int {
	n := 0
	for i := range d.records {
		n += len(d.records[i].Descriptors)
	}
	return n
}
