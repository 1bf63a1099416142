package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mediamind/mediamind/internal/store"
)

const (
	// DefaultHost is the stock Ollama endpoint.
	DefaultHost = "http://localhost:11434"
	// DefaultTimeout bounds each model call. Vision models on large images
	// can take a while on CPU-only hosts.
	DefaultTimeout = 120 * time.Second

	connPoolSize = 4

	// maxExtractedText caps the document text carried into the record and
	// the keyword index.
	maxExtractedText = 16 * 1024
)

// Config configures the Ollama analyzer.
type Config struct {
	// Host is the Ollama API endpoint.
	Host string
	// VisionModel analyzes images and video frames (e.g. llava:latest).
	VisionModel string
	// TextModel summarizes documents (e.g. llama3.1:latest).
	TextModel string
	// EmbedModel produces embeddings.
	EmbedModel string
	// Dimensions is the expected embedding dimension; 0 auto-detects from
	// a probe embedding at construction.
	Dimensions int
	// Timeout bounds each model call.
	Timeout time.Duration
	// SkipHealthCheck skips endpoint probing at construction (tests).
	SkipHealthCheck bool

	// FrameExtractor returns preview-frame bytes (JPEG) for a video path.
	// Frame decoding itself lives outside this package; the default looks
	// for a pre-extracted .jpg sidecar next to the video.
	FrameExtractor func(path string) ([]byte, error)
	// TextExtractor returns the text content of a document path. The
	// default reads .txt files directly and yields nothing for other
	// formats.
	TextExtractor func(path string) (string, error)
}

// OllamaAnalyzer implements Analyzer over the Ollama HTTP API.
type OllamaAnalyzer struct {
	client    *http.Client
	transport *http.Transport
	config    Config
	dims      int

	mu     sync.RWMutex
	closed bool
}

var _ Analyzer = (*OllamaAnalyzer)(nil)

// NewOllamaAnalyzer creates the analyzer and, unless skipped, probes the
// endpoint and detects the embedding dimension.
func NewOllamaAnalyzer(ctx context.Context, cfg Config) (*OllamaAnalyzer, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "llava:latest"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "llama3.1:latest"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.FrameExtractor == nil {
		cfg.FrameExtractor = sidecarFrameExtractor
	}
	if cfg.TextExtractor == nil {
		cfg.TextExtractor = plainTextExtractor
	}

	transport := &http.Transport{
		MaxIdleConns:        connPoolSize,
		MaxIdleConnsPerHost: connPoolSize,
		MaxConnsPerHost:     connPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: it would override the per-request context
	// timeouts set in doJSON.
	a := &OllamaAnalyzer{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		if err := a.healthCheck(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("failed to connect to Ollama at %s: %w", cfg.Host, err)
		}
		if a.dims == 0 {
			vec, err := a.Embed(checkCtx, "dimension detection")
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			a.dims = len(vec)
		}
	}

	return a, nil
}

// healthCheck verifies the endpoint answers /api/tags.
func (a *OllamaAnalyzer) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.Host+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return a.classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &Failure{Reason: ReasonInvalidResponse,
			Err: fmt.Errorf("model listing failed with status %d", resp.StatusCode)}
	}
	return nil
}

// Analyze dispatches to the pipeline for the file type. The primary output
// (description) must succeed; auxiliary prompts are best-effort and log a
// warning when they fail.
func (a *OllamaAnalyzer) Analyze(ctx context.Context, path string, fileType store.FileType) (*Analysis, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, fmt.Errorf("analyzer is closed")
	}
	a.mu.RUnlock()

	switch fileType {
	case store.FileTypeImage:
		return a.analyzeImage(ctx, path)
	case store.FileTypeVideo:
		return a.analyzeVideo(ctx, path)
	case store.FileTypeDocument:
		return a.analyzeDocument(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported file type %q", fileType)
	}
}

func (a *OllamaAnalyzer) analyzeImage(ctx context.Context, path string) (*Analysis, error) {
	imageB64, err := readImageBase64(path)
	if err != nil {
		return nil, err
	}
	return a.visionPipeline(ctx, path, imageB64, promptImageDescription)
}

func (a *OllamaAnalyzer) analyzeVideo(ctx context.Context, path string) (*Analysis, error) {
	frame, err := a.config.FrameExtractor(path)
	if err != nil || len(frame) == 0 {
		// No preview frame available: describe from the filename with the
		// text model so the record still gets searchable text.
		if err != nil {
			slog.Debug("video_frame_unavailable",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		desc, genErr := a.generate(ctx, a.config.TextModel,
			fmt.Sprintf(promptVideoFromFilename, filepath.Base(path)), "")
		if genErr != nil {
			return nil, genErr
		}
		return &Analysis{Description: strings.TrimSpace(desc)}, nil
	}

	frameB64 := base64.StdEncoding.EncodeToString(frame)
	return a.visionPipeline(ctx, path, frameB64, promptVideoDescription)
}

// visionPipeline runs the full vision prompt set over one base64 image.
func (a *OllamaAnalyzer) visionPipeline(ctx context.Context, path, imageB64, descPrompt string) (*Analysis, error) {
	desc, err := a.generate(ctx, a.config.VisionModel, descPrompt, imageB64)
	if err != nil {
		return nil, err
	}
	analysis := &Analysis{Description: strings.TrimSpace(desc)}

	if text, err := a.generate(ctx, a.config.VisionModel, promptImageTags, imageB64); err != nil {
		a.warnAux(path, "tags", err)
	} else {
		analysis.Tags = parseCommaList(text, 15)
	}

	if text, err := a.generate(ctx, a.config.VisionModel, promptImageObjects, imageB64); err != nil {
		a.warnAux(path, "objects", err)
	} else {
		analysis.Objects = parseCommaList(text, 10)
	}

	if text, err := a.generate(ctx, a.config.VisionModel, promptSceneType, imageB64); err != nil {
		a.warnAux(path, "scene", err)
	} else {
		analysis.SceneType = parseScene(text)
	}

	if text, err := a.generate(ctx, a.config.VisionModel, promptOCR, imageB64); err != nil {
		a.warnAux(path, "ocr", err)
	} else {
		analysis.ExtractedText = parseOCR(text)
	}

	return analysis, nil
}

func (a *OllamaAnalyzer) analyzeDocument(ctx context.Context, path string) (*Analysis, error) {
	content, err := a.config.TextExtractor(path)
	if err != nil {
		slog.Debug("document_text_unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()))
		content = ""
	}
	content = truncate(content, maxExtractedText)

	if content == "" {
		desc, genErr := a.generate(ctx, a.config.TextModel,
			fmt.Sprintf(promptDocumentFromFilename, filepath.Base(path)), "")
		if genErr != nil {
			return nil, genErr
		}
		return &Analysis{Description: strings.TrimSpace(desc)}, nil
	}

	summary, err := a.generate(ctx, a.config.TextModel,
		fmt.Sprintf(promptDocumentSummary, content), "")
	if err != nil {
		return nil, err
	}
	analysis := &Analysis{
		Description:   strings.TrimSpace(summary),
		ExtractedText: content,
	}

	if text, err := a.generate(ctx, a.config.TextModel,
		fmt.Sprintf(promptDocumentTags, content), ""); err != nil {
		a.warnAux(path, "tags", err)
	} else {
		analysis.Tags = parseCommaList(text, 10)
	}

	return analysis, nil
}

func (a *OllamaAnalyzer) warnAux(path, field string, err error) {
	slog.Warn("analyzer_aux_prompt_failed",
		slog.String("path", path),
		slog.String("field", field),
		slog.String("error", err.Error()))
}

// generate calls /api/generate with an optional base64 image.
func (a *OllamaAnalyzer) generate(ctx context.Context, model, prompt, imageB64 string) (string, error) {
	reqBody := generateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: false,
	}
	if imageB64 != "" {
		reqBody.Images = []string{imageB64}
	}

	var result generateResponse
	if err := a.doJSON(ctx, "/api/generate", reqBody, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.Response) == "" {
		return "", &Failure{Reason: ReasonInvalidResponse, Err: errors.New("empty model response")}
	}
	return result.Response, nil
}

// Embed encodes text via /api/embed. Empty input yields a zero vector
// without a network call.
func (a *OllamaAnalyzer) Embed(ctx context.Context, text string) ([]float32, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, fmt.Errorf("analyzer is closed")
	}
	a.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, a.dims), nil
	}

	var result embedResponse
	if err := a.doJSON(ctx, "/api/embed", embedRequest{Model: a.config.EmbedModel, Input: text}, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0]) == 0 {
		return nil, &Failure{Reason: ReasonInvalidResponse, Err: errors.New("empty embedding returned")}
	}

	raw := result.Embeddings[0]
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	a.mu.Lock()
	if a.dims == 0 {
		a.dims = len(vec)
	}
	dims := a.dims
	a.mu.Unlock()

	if len(vec) != dims {
		return nil, &Failure{Reason: ReasonInvalidResponse,
			Err: fmt.Errorf("embedding dimension %d, expected %d", len(vec), dims)}
	}
	return vec, nil
}

// EmbedQuery encodes a search query with the same model as record text.
func (a *OllamaAnalyzer) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return a.Embed(ctx, query)
}

// Dimensions returns the embedding dimension.
func (a *OllamaAnalyzer) Dimensions() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dims
}

// EmbedModel returns the embedding model identifier.
func (a *OllamaAnalyzer) EmbedModel() string {
	return a.config.EmbedModel
}

// Close releases HTTP resources. Idempotent.
func (a *OllamaAnalyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if a.transport != nil {
		a.transport.CloseIdleConnections()
	}
	return nil
}

// doJSON posts a JSON body with the per-request timeout and decodes the
// response, classifying failures into the typed taxonomy.
func (a *OllamaAnalyzer) doJSON(ctx context.Context, endpoint string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, a.config.Host+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Failure{Reason: ReasonInvalidResponse,
			Err: fmt.Errorf("%s failed with status %d: %s", endpoint, resp.StatusCode, string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Failure{Reason: ReasonInvalidResponse,
			Err: fmt.Errorf("failed to decode %s response: %w", endpoint, err)}
	}
	return nil
}

// classifyTransportError maps transport-level errors to the failure
// taxonomy. Caller cancellation propagates untyped so it is never retried
// or recorded as a file failure.
func (a *OllamaAnalyzer) classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: ReasonTimeout, Err: err}
	}
	return &Failure{Reason: ReasonUnreachable, Err: err}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func readImageBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// sidecarFrameExtractor looks for a pre-extracted preview frame next to the
// video: <video>.jpg first, then the video path with its extension swapped.
func sidecarFrameExtractor(path string) ([]byte, error) {
	candidates := []string{
		path + ".jpg",
		strings.TrimSuffix(path, filepath.Ext(path)) + ".jpg",
	}
	for _, candidate := range candidates {
		if data, err := os.ReadFile(candidate); err == nil {
			return data, nil
		}
	}
	return nil, nil // no frame; caller falls back to the text model
}

// plainTextExtractor reads .txt documents directly. Other formats need an
// external extractor hook.
func plainTextExtractor(path string) (string, error) {
	if strings.ToLower(filepath.Ext(path)) != ".txt" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// parseCommaList splits model output into trimmed lowercase terms.
func parseCommaList(text string, max int) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		p = strings.Trim(p, ".")
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == max {
			break
		}
	}
	return out
}

// parseScene keeps at most three words from the first line of the answer.
func parseScene(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	words := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// parseOCR maps the model's "no text found" sentinel to empty.
func parseOCR(text string) string {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "no text found") {
		return ""
	}
	return text
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
