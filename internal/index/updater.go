package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mediamind/mediamind/internal/analyze"
	"github.com/mediamind/mediamind/internal/scanner"
	"github.com/mediamind/mediamind/internal/store"
)

// ErrNilDependency is returned when the updater is constructed without a
// required collaborator.
var ErrNilDependency = errors.New("index: nil dependency")

// ErrLocked is returned when another process holds the data directory lock.
var ErrLocked = errors.New("index: another indexer is running against this data directory")

// Config configures the updater.
type Config struct {
	// Workers bounds concurrent file analysis.
	Workers int
	// Retry configures backoff for transient analyzer failures.
	Retry analyze.RetryConfig
	// DataDir is flock-guarded during a scan. Empty disables locking
	// (in-memory test setups).
	DataDir string
}

// FileFailure records one file that could not be processed this scan.
type FileFailure struct {
	Path   string
	Reason string
}

// Summary is the outcome of one ScanAndIndex run.
type Summary struct {
	Added    int
	Updated  int
	Removed  int
	Failed   int
	Failures []FileFailure
}

func (s *Summary) String() string {
	return fmt.Sprintf("added=%d updated=%d removed=%d failed=%d",
		s.Added, s.Updated, s.Removed, s.Failed)
}

// Updater drives the incremental pipeline: scan, diff against fingerprints,
// analyze changed files and keep the metadata store and vector index
// mutually consistent.
//
// Write ordering per file:
//   - new/modified: fingerprint, then record (indexed=true), then persisted
//     embedding, then vector. A record-write failure rolls the fresh
//     fingerprint back so the next scan re-detects the file; a failure past
//     the record demotes it to indexed=false instead of deleting, and the
//     next scan re-analyzes it.
//   - deleted: vector, then record, then fingerprint. The fingerprint goes
//     last so an interrupted deletion is re-detected and retried, and every
//     step tolerates already-removed state.
type Updater struct {
	meta     store.MetadataStore
	fps      store.FingerprintStore
	vectors  store.VectorIndex
	analyzer analyze.Analyzer
	scan     *scanner.Scanner
	cfg      Config
}

// NewUpdater wires the updater. All collaborators are required.
func NewUpdater(meta store.MetadataStore, fps store.FingerprintStore, vectors store.VectorIndex, analyzer analyze.Analyzer, scan *scanner.Scanner, cfg Config) (*Updater, error) {
	if meta == nil || fps == nil || vectors == nil || analyzer == nil || scan == nil {
		return nil, ErrNilDependency
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = analyze.DefaultRetryConfig()
	}
	return &Updater{
		meta:     meta,
		fps:      fps,
		vectors:  vectors,
		analyzer: analyzer,
		scan:     scan,
		cfg:      cfg,
	}, nil
}

// ScanAndIndex scans the roots, applies detected changes and returns the
// batch summary. Per-file problems are contained in the summary; the error
// return is reserved for batch-fatal conditions (closed store, lock
// contention, cancellation).
func (u *Updater) ScanAndIndex(ctx context.Context, roots []string) (*Summary, error) {
	if u.cfg.DataDir != "" {
		lock := NewFileLock(u.cfg.DataDir)
		acquired, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrLocked
		}
		defer func() { _ = lock.Unlock() }()
	}

	start := time.Now()

	files, err := u.scan.ScanAll(ctx, roots)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	fingerprints, err := u.fps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}

	changes := DetectChanges(files, fingerprints)
	changes, err = u.requeueUnindexed(ctx, files, changes)
	if err != nil {
		return nil, err
	}

	slog.Info("scan_changes_detected",
		slog.Int("files", len(files)),
		slog.Int("changes", len(changes)))

	summary := &Summary{}
	var mu sync.Mutex

	// Deletions run first, sequentially: they are cheap store operations
	// and must win over a same-path re-addition.
	rest := changes
	for len(rest) > 0 && rest[0].Type == ChangeDeleted {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		u.applyDeletion(ctx, rest[0], summary, &mu)
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rest = rest[1:]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)

	for _, change := range rest {
		change := change
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return u.applyUpsert(gctx, change, summary, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	if err := u.meta.SetState(ctx, store.StateKeyLastScan, time.Now().Format(time.RFC3339)); err != nil {
		slog.Warn("failed to record scan time", slog.String("error", err.Error()))
	}
	if err := u.vectors.Save(); err != nil {
		slog.Warn("failed to persist vector index", slog.String("error", err.Error()))
	}

	slog.Info("scan_complete",
		slog.Int("added", summary.Added),
		slog.Int("updated", summary.Updated),
		slog.Int("removed", summary.Removed),
		slog.Int("failed", summary.Failed),
		slog.Duration("elapsed", time.Since(start)))

	return summary, nil
}

// requeueUnindexed re-queues files whose fingerprint is current but whose
// record carries indexed=false: a previous run wrote the record and then
// failed on the vector side, so the file needs another analysis pass.
func (u *Updater) requeueUnindexed(ctx context.Context, files []scanner.FileInfo, changes []Change) ([]Change, error) {
	allIDs, err := u.meta.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list record ids: %w", err)
	}
	indexedIDs, err := u.meta.IndexedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed ids: %w", err)
	}

	unindexed := make(map[string]struct{}, len(allIDs)-len(indexedIDs))
	for _, id := range allIDs {
		unindexed[id] = struct{}{}
	}
	for _, id := range indexedIDs {
		delete(unindexed, id)
	}
	if len(unindexed) == 0 {
		return changes, nil
	}

	queued := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		queued[c.Path] = struct{}{}
	}

	for _, f := range files {
		if _, already := queued[f.Path]; already {
			continue
		}
		if _, needsWork := unindexed[GenerateFileID(f.Path)]; needsWork {
			changes = append(changes, Change{Type: ChangeModified, Path: f.Path, File: f})
		}
	}
	return changes, nil
}

// applyDeletion removes the triad for one path: vector, then record, then
// fingerprint. Any failure leaves the fingerprint in place so the deletion
// is retried on the next scan.
func (u *Updater) applyDeletion(ctx context.Context, change Change, summary *Summary, mu *sync.Mutex) {
	id := GenerateFileID(change.Path)

	if err := u.vectors.Remove(ctx, id); err != nil {
		u.recordFailure(summary, mu, change.Path, fmt.Sprintf("vector remove: %v", err))
		return
	}
	if err := u.meta.DeleteRecord(ctx, id); err != nil {
		u.recordFailure(summary, mu, change.Path, fmt.Sprintf("record delete: %v", err))
		return
	}
	if err := u.fps.Remove(ctx, change.Path); err != nil {
		u.recordFailure(summary, mu, change.Path, fmt.Sprintf("fingerprint remove: %v", err))
		return
	}

	mu.Lock()
	summary.Removed++
	mu.Unlock()

	slog.Debug("file_removed", slog.String("path", change.Path))
}

// applyUpsert analyzes one new/modified file and commits its triad.
// Returns a non-nil error only for batch-fatal conditions.
func (u *Updater) applyUpsert(ctx context.Context, change Change, summary *Summary, mu *sync.Mutex) error {
	path := change.Path
	id := GenerateFileID(path)

	var analysis *analyze.Analysis
	err := analyze.WithRetry(ctx, u.cfg.Retry, func() error {
		var aerr error
		analysis, aerr = u.analyzer.Analyze(ctx, path, change.File.FileType)
		return aerr
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// The fingerprint is left untouched: the file stays "changed" and
		// is retried on the next scan.
		u.recordFailure(summary, mu, path, failureReason(err))
		return nil
	}

	contentHash, err := HashFileContent(path)
	if err != nil {
		slog.Warn("content_hash_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		contentHash = ""
	}

	now := time.Now()
	if err := u.fps.Put(ctx, &store.Fingerprint{
		Path:        path,
		Size:        change.File.Size,
		ModTime:     change.File.ModTime,
		ContentHash: contentHash,
	}); err != nil {
		return u.containStoreError(summary, mu, path, "fingerprint put", err)
	}

	rec := &store.MediaRecord{
		ID:            id,
		Path:          path,
		FileType:      change.File.FileType,
		Size:          change.File.Size,
		ModTime:       change.File.ModTime,
		ContentHash:   contentHash,
		Description:   analysis.Description,
		SceneType:     analysis.SceneType,
		ExtractedText: analysis.ExtractedText,
		Tags:          analysis.Tags,
		Objects:       analysis.Objects,
		Indexed:       true,
		IndexedAt:     now,
	}
	if err := u.meta.UpsertRecord(ctx, rec); err != nil {
		// The fingerprint already matches the on-disk state, so leaving it
		// behind would make every later scan classify this file unchanged
		// and never index it. Roll it back so the next scan re-detects the
		// file as new.
		if !errors.Is(err, store.ErrClosed) {
			if rerr := u.fps.Remove(ctx, path); rerr != nil {
				slog.Warn("failed to roll back fingerprint",
					slog.String("path", path),
					slog.String("error", rerr.Error()))
			}
		}
		return u.containStoreError(summary, mu, path, "record upsert", err)
	}

	if err := u.indexVector(ctx, rec); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, store.ErrClosed) {
			return err
		}
		// Record survives but is demoted: it stays findable by keyword
		// search and is re-queued for vector indexing next scan.
		if derr := u.meta.SetIndexed(ctx, id, false); derr != nil {
			if errors.Is(derr, store.ErrClosed) {
				return derr
			}
			slog.Warn("failed to demote record",
				slog.String("id", id),
				slog.String("error", derr.Error()))
		}
		u.recordFailure(summary, mu, path, failureReason(err))
		return nil
	}

	mu.Lock()
	if change.Previous == nil && change.Type == ChangeAdded {
		summary.Added++
	} else {
		summary.Updated++
	}
	mu.Unlock()

	slog.Debug("file_indexed",
		slog.String("path", path),
		slog.String("id", id),
		slog.String("change", change.Type.String()))
	return nil
}

// indexVector embeds the record text, persists the embedding and inserts
// it into the vector index.
func (u *Updater) indexVector(ctx context.Context, rec *store.MediaRecord) error {
	var vec []float32
	err := analyze.WithRetry(ctx, u.cfg.Retry, func() error {
		var eerr error
		vec, eerr = u.analyzer.Embed(ctx, rec.SearchableText())
		return eerr
	})
	if err != nil {
		return err
	}

	// Persist before the graph insert so a rebuilt index never needs
	// re-analysis.
	if err := u.meta.SaveEmbedding(ctx, rec.ID, vec, u.analyzer.EmbedModel()); err != nil {
		return err
	}
	return u.vectors.Upsert(ctx, rec.ID, vec)
}

// containStoreError escalates closed-store errors and contains the rest as
// per-file failures.
func (u *Updater) containStoreError(summary *Summary, mu *sync.Mutex, path, op string, err error) error {
	if errors.Is(err, store.ErrClosed) {
		return err
	}
	u.recordFailure(summary, mu, path, fmt.Sprintf("%s: %v", op, err))
	return nil
}

func (u *Updater) recordFailure(summary *Summary, mu *sync.Mutex, path, reason string) {
	mu.Lock()
	summary.Failed++
	summary.Failures = append(summary.Failures, FileFailure{Path: path, Reason: reason})
	mu.Unlock()

	slog.Warn("file_failed",
		slog.String("path", path),
		slog.String("reason", reason))
}

func failureReason(err error) string {
	if reason, ok := analyze.ReasonOf(err); ok {
		return string(reason)
	}
	return err.Error()
}
