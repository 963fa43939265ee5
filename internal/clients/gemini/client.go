// Package gemini wraps the Google generative AI SDK behind the three
// capabilities the backend needs: text embedding, grounded text
// generation, and OCR transcription of scanned documents.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/lexfind/lexfind-backend/internal/platform/logger"
	"github.com/lexfind/lexfind-backend/internal/platform/retry"
)

// ErrFileProcessing reports that an uploaded file never reached the ACTIVE
// state within the OCR polling window.
var ErrFileProcessing = errors.New("uploaded file did not become active")

const (
	defaultEmbedModel    = "text-embedding-004"
	defaultGenModel      = "gemini-1.5-flash"
	defaultOCRModel      = "gemini-1.5-flash"
	defaultFilePollEvery = 2 * time.Second
	defaultFilePollMax   = 30 * time.Second
)

// transcribePrompt asks for a verbatim transcription so downstream chunking
// and retrieval see the document's own words, not a summary of them.
const transcribePrompt = "Transcribe all text in this document verbatim. " +
	"Preserve the reading order and paragraph breaks. " +
	"Output only the transcribed text with no commentary."

type Config struct {
	APIKey     string
	EmbedModel string
	GenModel   string
	OCRModel   string

	FilePollInterval time.Duration
	FilePollTimeout  time.Duration
}

type Client struct {
	log *logger.Logger
	gen *genai.Client
	cfg Config
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel
	}
	if cfg.GenModel == "" {
		cfg.GenModel = defaultGenModel
	}
	if cfg.OCRModel == "" {
		cfg.OCRModel = defaultOCRModel
	}
	if cfg.FilePollInterval <= 0 {
		cfg.FilePollInterval = defaultFilePollEvery
	}
	if cfg.FilePollTimeout <= 0 {
		cfg.FilePollTimeout = defaultFilePollMax
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{
		log: log.With("client", "GeminiClient"),
		gen: gc,
		cfg: cfg,
	}, nil
}

func (c *Client) Close() error {
	if c.gen != nil {
		return c.gen.Close()
	}
	return nil
}

// EmbedBatch embeds all texts in one request and returns vectors in input
// order. Callers own fallback behavior for failed batches.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := c.gen.EmbeddingModel(c.cfg.EmbedModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	var resp *genai.BatchEmbedContentsResponse
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Retryable: isRetryableAPIError}, func(ctx context.Context) error {
		var err error
		resp, err = em.BatchEmbedContents(ctx, batch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("gemini batch embed: want %d embeddings, got %d", len(texts), len(out))
	}
	return out, nil
}

// EmbedOne embeds a single text, used for individual chunk retries and
// query embedding.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	em := c.gen.EmbeddingModel(c.cfg.EmbedModel)
	var resp *genai.EmbedContentResponse
	err := retry.Do(ctx, retry.Config{MaxAttempts: 3, BaseDelay: time.Second, Retryable: isRetryableAPIError}, func(ctx context.Context) error {
		var err error
		resp, err = em.EmbedContent(ctx, genai.Text(text))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embed: empty response")
	}
	return resp.Embedding.Values, nil
}

// GenerateText runs the generation model with an optional system
// instruction and returns the concatenated text parts of the first
// candidate.
func (c *Client) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := c.gen.GenerativeModel(c.cfg.GenModel)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return firstCandidateText(resp), nil
}

// Transcribe OCRs a local PDF or image through the Files API: upload, wait
// for ACTIVE, transcribe, then delete the remote file regardless of
// outcome. The whole sequence gets one retry before failing the ingestion.
func (c *Client) Transcribe(ctx context.Context, path, mimeType string) (string, error) {
	var out string
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, BaseDelay: 2 * time.Second, Retryable: retry.Always}, func(ctx context.Context) error {
		var err error
		out, err = c.transcribeOnce(ctx, path, mimeType)
		return err
	})
	return out, err
}

func (c *Client) transcribeOnce(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	uploaded, err := c.gen.UploadFile(ctx, "", f, &genai.UploadFileOptions{MIMEType: mimeType})
	if err != nil {
		return "", fmt.Errorf("gemini upload file: %w", err)
	}
	defer func() {
		if derr := c.gen.DeleteFile(context.WithoutCancel(ctx), uploaded.Name); derr != nil {
			c.log.Warn("delete uploaded file", "file", uploaded.Name, "error", derr)
		}
	}()

	active, err := c.waitFileActive(ctx, uploaded)
	if err != nil {
		return "", err
	}

	m := c.gen.GenerativeModel(c.cfg.OCRModel)
	resp, err := m.GenerateContent(ctx,
		genai.FileData{MIMEType: active.MIMEType, URI: active.URI},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return firstCandidateText(resp), nil
}

func (c *Client) waitFileActive(ctx context.Context, f *genai.File) (*genai.File, error) {
	deadline := time.Now().Add(c.cfg.FilePollTimeout)
	for f.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrFileProcessing, f.Name)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.FilePollInterval):
		}
		var err error
		f, err = c.gen.GetFile(ctx, f.Name)
		if err != nil {
			return nil, fmt.Errorf("gemini get file: %w", err)
		}
	}
	if f.State != genai.FileStateActive {
		return nil, fmt.Errorf("%w: %s state=%v", ErrFileProcessing, f.Name, f.State)
	}
	return f, nil
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func isRetryableAPIError(err error) bool {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code == 429 || ge.Code == 408 || ge.Code >= 500
	}
	return false
}
