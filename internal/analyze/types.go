// Package analyze runs AI analysis over media files via Ollama: vision and
// text models for descriptions/tags, and an embedding model for vectors.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mediamind/mediamind/internal/store"
)

// FailureReason classifies an analyzer failure for retry decisions.
type FailureReason string

const (
	// ReasonTimeout means the call exceeded its deadline. Retryable.
	ReasonTimeout FailureReason = "timeout"
	// ReasonUnreachable means the Ollama endpoint could not be reached.
	// Retryable.
	ReasonUnreachable FailureReason = "unreachable"
	// ReasonInvalidResponse means the endpoint answered but the payload was
	// unusable (bad status, empty body, wrong embedding dimension). Not
	// retryable: the same request would fail the same way.
	ReasonInvalidResponse FailureReason = "invalid-response"
)

// Failure is a typed analyzer error carrying its classification.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("analyzer %s: %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("analyzer %s", f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

// ReasonOf extracts the failure reason from err, if it carries one.
func ReasonOf(err error) (FailureReason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// Retryable reports whether err is a transient failure worth retrying.
func Retryable(err error) bool {
	reason, ok := ReasonOf(err)
	return ok && (reason == ReasonTimeout || reason == ReasonUnreachable)
}

// Analysis is the AI-derived metadata for one media file.
type Analysis struct {
	Description   string
	Tags          []string
	Objects       []string
	SceneType     string
	ExtractedText string
}

// Analyzer produces analyses and embeddings. Implementations never touch
// the stores; persisting results is the updater's job.
type Analyzer interface {
	// Analyze runs the model pipeline appropriate for the file type.
	Analyze(ctx context.Context, path string, fileType store.FileType) (*Analysis, error)
	// Embed encodes record text for indexing.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedQuery encodes a search query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	// Dimensions returns the embedding dimension.
	Dimensions() int
	// EmbedModel returns the embedding model identifier.
	EmbedModel() string
	Close() error
}

// RetryConfig configures exponential backoff for retryable failures.
type RetryConfig struct {
	MaxRetries   int           // retry attempts, not counting the initial try
	InitialDelay time.Duration // delay before first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // backoff growth factor
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}
