package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mediamind/mediamind/internal/store"
)

// ConsistencyChecker verifies that the metadata store, the fingerprint
// store and the vector index agree: every indexed record has exactly one
// vector, every vector belongs to an indexed record, and every fingerprint
// belongs to a record. Run at startup of the index command, before changes
// are applied.
type ConsistencyChecker struct {
	meta    store.MetadataStore
	fps     store.FingerprintStore
	vectors store.VectorIndex
}

// ConsistencyReport lists the discrepancies found.
type ConsistencyReport struct {
	// DanglingVectors are vector ids with no indexed record behind them.
	DanglingVectors []string
	// MissingVectors are indexed record ids with no vector entry.
	MissingVectors []string
	// OrphanFingerprints are fingerprint paths with no record at all. Left
	// alone they would pin the file as unchanged and it would never be
	// indexed.
	OrphanFingerprints []string
	// Restored counts missing vectors rebuilt from persisted embeddings.
	Restored int
	// Demoted counts records flipped to indexed=false because no
	// embedding survived; the next scan re-analyzes them.
	Demoted int
	// ForgottenFingerprints counts orphan fingerprints removed so the next
	// scan re-detects the files as new.
	ForgottenFingerprints int
}

// Consistent reports whether no discrepancies were found.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.DanglingVectors) == 0 && len(r.MissingVectors) == 0 &&
		len(r.OrphanFingerprints) == 0
}

// NewConsistencyChecker wires the checker.
func NewConsistencyChecker(meta store.MetadataStore, fps store.FingerprintStore, vectors store.VectorIndex) (*ConsistencyChecker, error) {
	if meta == nil || fps == nil || vectors == nil {
		return nil, ErrNilDependency
	}
	return &ConsistencyChecker{meta: meta, fps: fps, vectors: vectors}, nil
}

// Check computes the discrepancy report without modifying anything.
func (c *ConsistencyChecker) Check(ctx context.Context) (*ConsistencyReport, error) {
	indexedIDs, err := c.meta.IndexedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed records: %w", err)
	}

	indexed := make(map[string]struct{}, len(indexedIDs))
	for _, id := range indexedIDs {
		indexed[id] = struct{}{}
	}

	report := &ConsistencyReport{}

	vectorIDs := c.vectors.AllIDs()
	inVectors := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		inVectors[id] = struct{}{}
		if _, ok := indexed[id]; !ok {
			report.DanglingVectors = append(report.DanglingVectors, id)
		}
	}
	for _, id := range indexedIDs {
		if _, ok := inVectors[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}

	allIDs, err := c.meta.AllIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	known := make(map[string]struct{}, len(allIDs))
	for _, id := range allIDs {
		known[id] = struct{}{}
	}

	// A fingerprint may legitimately outlive its vector (demoted records
	// keep theirs), but never its record.
	fps, err := c.fps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	for _, fp := range fps {
		if _, ok := known[GenerateFileID(fp.Path)]; !ok {
			report.OrphanFingerprints = append(report.OrphanFingerprints, fp.Path)
		}
	}

	sort.Strings(report.DanglingVectors)
	sort.Strings(report.MissingVectors)
	sort.Strings(report.OrphanFingerprints)
	return report, nil
}

// Repair fixes the discrepancies: dangling vectors are removed, missing
// vectors are rebuilt from persisted embeddings when available, records
// without a usable embedding are demoted to indexed=false so the next scan
// re-analyzes them, and orphan fingerprints are forgotten so the next scan
// re-detects the files as new.
func (c *ConsistencyChecker) Repair(ctx context.Context) (*ConsistencyReport, error) {
	report, err := c.Check(ctx)
	if err != nil {
		return nil, err
	}
	if report.Consistent() {
		return report, nil
	}

	slog.Info("consistency_repair_start",
		slog.Int("dangling_vectors", len(report.DanglingVectors)),
		slog.Int("missing_vectors", len(report.MissingVectors)),
		slog.Int("orphan_fingerprints", len(report.OrphanFingerprints)))

	if len(report.DanglingVectors) > 0 {
		if err := c.vectors.Remove(ctx, report.DanglingVectors...); err != nil {
			return report, fmt.Errorf("failed to remove dangling vectors: %w", err)
		}
	}

	for _, id := range report.MissingVectors {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		vec, err := c.meta.GetEmbedding(ctx, id)
		if err == nil {
			if err := c.vectors.Upsert(ctx, id, vec); err == nil {
				report.Restored++
				continue
			} else {
				slog.Warn("failed to restore vector",
					slog.String("id", id),
					slog.String("error", err.Error()))
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			return report, fmt.Errorf("failed to load embedding for %s: %w", id, err)
		}

		if err := c.meta.SetIndexed(ctx, id, false); err != nil {
			return report, fmt.Errorf("failed to demote record %s: %w", id, err)
		}
		report.Demoted++
	}

	for _, path := range report.OrphanFingerprints {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := c.fps.Remove(ctx, path); err != nil {
			return report, fmt.Errorf("failed to forget fingerprint for %s: %w", path, err)
		}
		report.ForgottenFingerprints++
	}

	slog.Info("consistency_repair_done",
		slog.Int("restored", report.Restored),
		slog.Int("demoted", report.Demoted),
		slog.Int("forgotten_fingerprints", report.ForgottenFingerprints))

	return report, nil
}
