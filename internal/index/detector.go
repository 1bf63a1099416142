// Package index implements change detection, incremental updating and
// cross-store consistency checking.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/mediamind/mediamind/internal/scanner"
	"github.com/mediamind/mediamind/internal/store"
)

// ChangeType classifies a detected filesystem change.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeDeleted
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one detected difference between the fingerprint store and a
// fresh scan snapshot.
type Change struct {
	Type ChangeType
	Path string
	// File is the current filesystem state. Zero for deletions.
	File scanner.FileInfo
	// Previous is the stored fingerprint. Nil for additions.
	Previous *store.Fingerprint
}

// DetectChanges diffs a scan snapshot against the stored fingerprints.
// A file counts as modified when its size differs or its mtime differs
// after truncation to whole seconds; filesystems and the fingerprint store
// do not agree on sub-second precision, and a false modification only
// costs one re-analysis.
//
// The result is deterministic: deletions first, then modifications, then
// additions, path-sorted within each class. Deletions lead so that a
// rename never leaves two live records for one file.
func DetectChanges(files []scanner.FileInfo, fingerprints []*store.Fingerprint) []Change {
	known := make(map[string]*store.Fingerprint, len(fingerprints))
	for _, fp := range fingerprints {
		known[fp.Path] = fp
	}

	var changes []Change
	seen := make(map[string]struct{}, len(files))

	for _, f := range files {
		seen[f.Path] = struct{}{}

		fp, exists := known[f.Path]
		if !exists {
			changes = append(changes, Change{Type: ChangeAdded, Path: f.Path, File: f})
			continue
		}

		scanMod := f.ModTime.Truncate(time.Second)
		storedMod := fp.ModTime.Truncate(time.Second)
		if f.Size != fp.Size || !scanMod.Equal(storedMod) {
			changes = append(changes, Change{Type: ChangeModified, Path: f.Path, File: f, Previous: fp})
		}
	}

	for _, fp := range fingerprints {
		if _, stillThere := seen[fp.Path]; !stillThere {
			changes = append(changes, Change{Type: ChangeDeleted, Path: fp.Path, Previous: fp})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changeOrder(changes[i].Type) < changeOrder(changes[j].Type)
		}
		return changes[i].Path < changes[j].Path
	})

	return changes
}

func changeOrder(t ChangeType) int {
	switch t {
	case ChangeDeleted:
		return 0
	case ChangeModified:
		return 1
	default:
		return 2
	}
}

// GenerateFileID derives the stable record id for a path: the first 16 hex
// characters of its SHA-256. Stable across re-index; a moved file gets a
// new id (move = delete + add).
func GenerateFileID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:])[:16]
}

// hashHead is how much of a file feeds the content hash. Hashing whole
// multi-hundred-MB videos on every scan is not worth it; size and mtime
// already drive change detection, the hash is corroborating metadata.
const hashHead = 1 << 20

// HashFileContent hashes the first megabyte of the file.
func HashFileContent(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for hashing: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, hashHead)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
