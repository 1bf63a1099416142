package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWConfig configures the vector index.
type HNSWConfig struct {
	// Path is where the graph and its .meta sidecar are persisted.
	// Empty means in-memory only (testing).
	Path string
	// Dimensions is the expected vector dimension. 0 means adopt the
	// dimension of the first vector inserted.
	Dimensions int
	// M is the maximum number of graph neighbors per node.
	M int
	// EfSearch is the candidate list size during search.
	EfSearch int
}

// HNSWIndex implements VectorIndex using the pure Go coder/hnsw graph with
// cosine distance. Deletion is lazy: removed ids only drop their key
// mappings, the graph node stays behind as an orphan. This avoids a
// coder/hnsw issue where deleting the last node breaks the graph.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config HNSWConfig

	idMap   map[string]uint64 // media id -> internal key
	keyMap  map[uint64]string // internal key -> media id
	nextKey uint64

	closed bool
}

// hnswMetadata is the gob-encoded sidecar holding ID mappings.
type hnswMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  HNSWConfig
}

var _ VectorIndex = (*HNSWIndex)(nil)

// NewHNSWIndex creates the vector index, loading persisted state from
// cfg.Path when present.
func NewHNSWIndex(cfg HNSWConfig) (*HNSWIndex, error) {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	s := &HNSWIndex{
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
	s.resetGraph()

	if cfg.Path != "" {
		if _, err := os.Stat(cfg.Path); err == nil {
			if err := s.load(cfg.Path); err != nil {
				// A broken index is rebuilt from persisted embeddings by
				// the consistency checker, so start empty instead of
				// failing hard.
				slog.Warn("vector_index_load_failed",
					slog.String("path", cfg.Path),
					slog.String("error", err.Error()))
				s.idMap = make(map[string]uint64)
				s.keyMap = make(map[uint64]string)
				s.nextKey = 0
				s.resetGraph()
			}
		}
	}

	return s, nil
}

func (s *HNSWIndex) resetGraph() {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = s.config.M
	graph.EfSearch = s.config.EfSearch
	graph.Ml = 0.25
	s.graph = graph
}

// Upsert inserts or replaces the vector for id. Replacement is a lazy
// delete of the old key followed by a fresh insert.
func (s *HNSWIndex) Upsert(ctx context.Context, id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if s.config.Dimensions == 0 {
		s.config.Dimensions = len(vector)
	}
	if len(vector) != s.config.Dimensions {
		return &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vector)}
	}

	if existingKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, existingKey) // orphan the old key
		delete(s.idMap, id)
	}

	key := s.nextKey
	s.nextKey++

	vec := make([]float32, len(vector))
	copy(vec, vector)
	normalizeVectorInPlace(vec)

	s.graph.Add(hnsw.MakeNode(key, vec))
	s.idMap[id] = key
	s.keyMap[key] = id

	return nil
}

// Remove drops the given ids from the index. Removing an id that is not
// present is a no-op, so deletion retries converge.
func (s *HNSWIndex) Remove(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Search finds the k nearest neighbors of query, ascending by distance.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	if len(s.idMap) == 0 {
		return []VectorResult{}, nil
	}
	if len(query) != s.config.Dimensions {
		return nil, &ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeVectorInPlace(normalized)

	// Over-fetch to compensate for orphaned nodes left by lazy deletion.
	fetch := k + (s.graph.Len() - len(s.idMap))
	nodes := s.graph.Search(normalized, fetch)

	results := make([]VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue // lazily deleted
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, VectorResult{
			ID:       id,
			Distance: distance,
			Score:    float64(distanceToScore(distance)),
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Vector returns the stored (normalized) vector for id.
func (s *HNSWIndex) Vector(id string) ([]float32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}
	key, exists := s.idMap[id]
	if !exists {
		return nil, false
	}
	vec, ok := s.graph.Lookup(key)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Contains reports whether id has a live vector.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live vectors.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}
	return len(s.idMap)
}

// AllIDs returns all live vector ids. Used for consistency checking.
func (s *HNSWIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}
	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Save persists the graph and its ID mappings atomically (temp + rename).
func (s *HNSWIndex) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if s.config.Path == "" {
		return nil // in-memory index
	}
	path := s.config.Path

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	if err := s.saveMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

func (s *HNSWIndex) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := hnswMetadata{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
	}

	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

func (s *HNSWIndex) load(path string) error {
	if err := s.loadMetadata(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// bufio.Reader because coder/hnsw Import requires io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}
	return nil
}

func (s *HNSWIndex) loadMetadata(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var meta hnswMetadata
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode hnsw metadata: %w", err)
	}

	// The persisted config wins except for the path, which follows the
	// current data directory.
	metaPath := s.config.Path
	s.config = meta.Config
	s.config.Path = metaPath

	s.idMap = meta.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = meta.NextKey
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources. Idempotent. Callers wanting durability must
// Save first.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance (0..2) to a similarity in 0..1.
func distanceToScore(distance float32) float32 {
	return 1.0 - distance/2.0
}
