// Package transcribe converts recorded audio to text with the OpenAI speech
// API.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// DefaultModel is the speech model used when none is configured.
const DefaultModel = "whisper-1"

// DefaultTimeout bounds one transcription request.
const DefaultTimeout = 60 * time.Second

// ErrUnavailable is returned when no API credential is configured.
var ErrUnavailable = errors.New("transcribe: transcriber unavailable")

// Transcriber converts audio bytes to text.
type Transcriber interface {
	// Available reports whether Transcribe can be attempted at all.
	Available() bool
	Transcribe(ctx context.Context, audio []byte, filename, mimetype string) (string, error)
}

// audioClient abstracts the SDK call, enabling test mocks.
type audioClient interface {
	transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error)
}

type sdkClient struct {
	client openai.Client
}

func (c *sdkClient) transcribe(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	res, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// OpenAI is a Transcriber backed by the OpenAI audio transcription endpoint.
type OpenAI struct {
	client  audioClient
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// Opts holds parameters for creating an OpenAI transcriber.
type Opts struct {
	APIKey  string
	Model   string        // defaults to DefaultModel
	Timeout time.Duration // defaults to DefaultTimeout
	Logger  *zap.Logger
	// For testing: inject a mock client instead of the real API.
	client audioClient
}

// New creates an OpenAI transcriber. Without an API key the transcriber is
// unavailable rather than an error, so audio messages can still be reported.
func New(opts Opts) *OpenAI {
	t := &OpenAI{
		client:  opts.client,
		model:   opts.Model,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
	if t.model == "" {
		t.model = DefaultModel
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	t.logger = t.logger.Named("transcribe")
	if t.client == nil && opts.APIKey != "" {
		t.client = &sdkClient{client: openai.NewClient(option.WithAPIKey(opts.APIKey))}
	}
	if t.client == nil {
		t.logger.Warn("no OpenAI API key configured; audio transcription disabled")
	}
	return t
}

// Available reports whether an API credential is configured.
func (t *OpenAI) Available() bool { return t.client != nil }

// Transcribe sends audio to the speech model and returns the transcript.
func (t *OpenAI) Transcribe(ctx context.Context, audio []byte, filename, mimetype string) (string, error) {
	if t.client == nil {
		return "", ErrUnavailable
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: no audio data")
	}
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	text, err := t.client.transcribe(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, mimetype),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		t.logger.Error("transcription failed", zap.String("file", filename), zap.Error(err))
		return "", fmt.Errorf("transcribe: %s: %w", filename, err)
	}
	t.logger.Info("transcribed",
		zap.String("file", filename),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(start)))
	return text, nil
}
