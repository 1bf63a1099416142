// Package store provides the persistence layer for MediaMind: the SQLite
// metadata and fingerprint stores and the HNSW vector index.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// FileType classifies a media file by its extension.
type FileType string

const (
	FileTypeImage    FileType = "image"
	FileTypeVideo    FileType = "video"
	FileTypeDocument FileType = "document"
)

// MediaRecord is the full metadata row for one indexed media file.
type MediaRecord struct {
	ID            string    `json:"id"`
	Path          string    `json:"path"`
	FileType      FileType  `json:"file_type"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	ContentHash   string    `json:"content_hash"`
	Description   string    `json:"description"`
	SceneType     string    `json:"scene_type"`
	ExtractedText string    `json:"extracted_text"`
	Tags          []string  `json:"tags"`
	Objects       []string  `json:"objects"`
	Indexed       bool      `json:"indexed"`
	IndexedAt     time.Time `json:"indexed_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchableText composes the text that feeds the embedding model: the
// description, tags, scene type and any extracted text.
func (r *MediaRecord) SearchableText() string {
	text := r.Description
	for _, t := range r.Tags {
		text += " " + t
	}
	if r.SceneType != "" {
		text += " " + r.SceneType
	}
	if r.ExtractedText != "" {
		text += " " + r.ExtractedText
	}
	return text
}

// Fingerprint is the change-detection snapshot for one path. A fingerprint
// row exists for every tracked file, whether or not analysis succeeded.
type Fingerprint struct {
	Path        string
	Size        int64
	ModTime     time.Time
	ContentHash string
}

// Collection is a named, user-curated group of media records.
type Collection struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	ItemCount   int64
}

// Filters narrow search results by structured fields. Zero values mean
// "no constraint".
type Filters struct {
	FileType  FileType
	SceneType string
	After     time.Time
	Before    time.Time
}

// Match reports whether a record satisfies the filters. Used for post-hoc
// filtering of vector results; keyword search pushes the same predicates
// into SQL.
func (f Filters) Match(r *MediaRecord) bool {
	if f.FileType != "" && r.FileType != f.FileType {
		return false
	}
	if f.SceneType != "" && r.SceneType != f.SceneType {
		return false
	}
	if !f.After.IsZero() && r.ModTime.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && r.ModTime.After(f.Before) {
		return false
	}
	return true
}

// Empty reports whether no filter fields are set.
func (f Filters) Empty() bool {
	return f.FileType == "" && f.SceneType == "" && f.After.IsZero() && f.Before.IsZero()
}

// KeywordResult is one FTS5 hit with its BM25-derived score (higher is
// better).
type KeywordResult struct {
	ID    string
	Score float64
}

// VectorResult is one nearest-neighbor hit. Distance is the raw cosine
// distance (lower is better); Score is a normalized similarity in [0,1].
type VectorResult struct {
	ID       string
	Distance float32
	Score    float64
}

// Stats summarizes the index contents for the stats command.
type Stats struct {
	TotalFiles   int64
	IndexedFiles int64
	ByType       map[FileType]int64
	TopTags      []TagCount
	Collections  int64
	DBSizeBytes  int64
	LastScanAt   time.Time
}

// TagCount pairs a tag with its usage count.
type TagCount struct {
	Tag   string
	Count int64
}

// MetadataStore is the durable record store: media rows, the FTS5 keyword
// index, tags, collections and persisted embeddings.
type MetadataStore interface {
	UpsertRecord(ctx context.Context, rec *MediaRecord) error
	GetRecord(ctx context.Context, id string) (*MediaRecord, error)
	GetRecords(ctx context.Context, ids []string) ([]*MediaRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	SetIndexed(ctx context.Context, id string, indexed bool) error
	AllIDs(ctx context.Context) ([]string, error)
	IndexedIDs(ctx context.Context) ([]string, error)

	SearchKeyword(ctx context.Context, query string, filters Filters, limit int) ([]KeywordResult, error)
	SearchTags(ctx context.Context, tags []string, limit int) ([]KeywordResult, error)
	ListByFilter(ctx context.Context, filters Filters, limit int) ([]*MediaRecord, error)

	SaveEmbedding(ctx context.Context, id string, vector []float32, model string) error
	GetEmbedding(ctx context.Context, id string) ([]float32, error)
	DeleteEmbedding(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	Close() error
}

// FingerprintStore persists change-detection fingerprints keyed by path.
type FingerprintStore interface {
	Get(ctx context.Context, path string) (*Fingerprint, error)
	Put(ctx context.Context, fp *Fingerprint) error
	Remove(ctx context.Context, path string) error
	ListAll(ctx context.Context) ([]*Fingerprint, error)
}

// VectorIndex is the approximate-nearest-neighbor index over record
// embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Remove(ctx context.Context, ids ...string) error
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)
	Vector(id string) ([]float32, bool)
	Contains(id string) bool
	Count() int
	AllIDs() []string
	Save() error
	Close() error
}

// ErrNotFound is returned when a record, fingerprint or embedding does not
// exist.
var ErrNotFound = errors.New("store: not found")

// ErrClosed is returned by operations on a closed store. Callers treat it
// as fatal and abort the surrounding batch.
var ErrClosed = errors.New("store: closed")

// ErrDimensionMismatch is returned when a vector's dimension does not match
// the index dimension.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// IsDimensionMismatch reports whether err is a dimension mismatch.
func IsDimensionMismatch(err error) bool {
	var dimErr *ErrDimensionMismatch
	return errors.As(err, &dimErr)
}
