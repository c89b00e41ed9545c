package relay

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/aichorus/internal/capture"
	"github.com/zulandar/aichorus/internal/history"
	"github.com/zulandar/aichorus/internal/inbox"
	"github.com/zulandar/aichorus/internal/logging"
	"github.com/zulandar/aichorus/internal/report"
	"github.com/zulandar/aichorus/internal/transcribe"
	"go.uber.org/zap"
)

// Transcription error messages shown in the thread reply.
const (
	MsgTranscriptionDisabled = "Audio detected, but transcription disabled (OpenAI API key missing)."
	MsgTranscriptionFailed   = "Error during transcription with OpenAI API."
	MsgDownloadFailed        = "Failed to download audio file from Slack."
)

// DefaultRecordTimeout bounds the history write for one message.
const DefaultRecordTimeout = 10 * time.Second

// ErrNoThread means the message has no channel or thread to reply to.
var ErrNoThread = errors.New("relay: message has no channel or thread")

// Downloader fetches an authenticated Slack file.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Reporter posts the thread reply and screenshot follow-ups.
type Reporter interface {
	PostSummary(ctx context.Context, s report.Summary) (bool, error)
	PostScreenshot(ctx context.Context, channel, threadTS string, art capture.Artifact, displayName string) error
}

// Capturer snapshots a service's page, provided it still shows wantURL.
type Capturer interface {
	Capture(ctx context.Context, service, threadTS, wantURL string) (capture.Artifact, error)
}

// Recorder persists submission outcomes.
type Recorder interface {
	Record(ctx context.Context, sub *history.Submission) error
}

// BuildPrompt combines the message text and the audio transcript.
func BuildPrompt(originalText, transcript string) string {
	switch {
	case originalText != "" && transcript != "":
		return "Original Text:\n" + originalText + "\n\n---\n\nTranscript:\n" + transcript
	case originalText != "":
		return "Original Text:\n" + originalText
	case transcript != "":
		return "Transcript:\n" + transcript
	}
	return ""
}

// Outcome describes what Handle did with one message.
type Outcome struct {
	RequestID       string
	Prompt          string
	Transcript      string
	TranscriptError string
	Results         map[string]Result
	Replied         bool
	Screenshots     int
}

// Pipeline processes one inbound message end to end.
type Pipeline struct {
	orch        *Orchestrator
	transcriber transcribe.Transcriber
	downloader  Downloader
	reporter    Reporter
	capturer    Capturer
	recorder    Recorder
	logger      *zap.Logger
	newID       func() string
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Orchestrator *Orchestrator
	Reporter     Reporter
	Transcriber  transcribe.Transcriber // nil disables transcription
	Downloader   Downloader             // required when Transcriber is set
	Capturer     Capturer               // nil disables screenshots
	Recorder     Recorder               // nil disables history
	Logger       *zap.Logger
}

// NewPipeline validates opts and creates a Pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("relay: orchestrator is required")
	}
	if opts.Reporter == nil {
		return nil, errors.New("relay: reporter is required")
	}
	if opts.Transcriber != nil && opts.Downloader == nil {
		return nil, errors.New("relay: downloader is required for transcription")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		orch:        opts.Orchestrator,
		transcriber: opts.Transcriber,
		downloader:  opts.Downloader,
		reporter:    opts.Reporter,
		capturer:    opts.Capturer,
		recorder:    opts.Recorder,
		logger:      opts.Logger.Named("pipeline"),
		newID:       func() string { return uuid.NewString() },
	}, nil
}

// Handle transcribes, submits, replies, captures and records one message.
// The only error it returns is ErrNoThread; every other failure ends up in
// the reply.
func (p *Pipeline) Handle(ctx context.Context, m inbox.Message) (Outcome, error) {
	if m.ChannelID == "" || m.ThreadTS == "" {
		p.logger.Error("dropping message without channel or thread",
			zap.String("channel", m.ChannelID), zap.String("thread", m.ThreadTS))
		return Outcome{}, ErrNoThread
	}

	out := Outcome{RequestID: p.newID()}
	log := p.logger.With(
		zap.String("request", out.RequestID),
		zap.String("channel", m.ChannelID),
		zap.String("thread", m.ThreadTS))
	log.Info("processing message", zap.String("user", m.UserID), zap.Int("files", len(m.Files)))

	out.Transcript, out.TranscriptError = p.transcribe(ctx, m, log)
	text := strings.TrimSpace(m.Text)
	out.Prompt = BuildPrompt(text, out.Transcript)

	if out.Prompt == "" {
		log.Warn("no text or transcript; skipping submission")
		out.Results = map[string]Result{}
	} else {
		log.Info("submitting prompt", zap.String("prompt", logging.Preview(out.Prompt, 50)))
		out.Results = p.orch.Process(ctx, Request{ID: out.RequestID, Prompt: out.Prompt})
	}

	summary := report.Summary{
		Channel:         m.ChannelID,
		ThreadTS:        m.ThreadTS,
		OriginalText:    text,
		Transcript:      out.Transcript,
		TranscriptError: out.TranscriptError,
	}
	var succeeded []Result
	for _, t := range p.orch.Targets() {
		res, ok := out.Results[t.Driver.Name()]
		if !ok {
			continue
		}
		summary.Services = append(summary.Services, report.ServiceOutcome{
			Name:        res.Service,
			DisplayName: res.DisplayName,
			URL:         res.URL,
			Error:       res.Error,
		})
		if res.OK() {
			succeeded = append(succeeded, res)
		}
	}

	replied, err := p.reporter.PostSummary(ctx, summary)
	if err != nil {
		log.Error("summary reply failed", zap.Error(err))
	}
	out.Replied = replied

	if p.capturer != nil {
		for _, res := range succeeded {
			if p.screenshot(ctx, m, res, log) {
				out.Screenshots++
			}
		}
	}

	p.record(ctx, m, out, log)
	log.Info("message processed",
		zap.Int("services", len(out.Results)),
		zap.Int("linked", len(succeeded)),
		zap.Bool("replied", out.Replied),
		zap.Int("screenshots", out.Screenshots))
	return out, nil
}

// transcribe returns the transcript of the first audio attachment, or the
// user-facing reason there is none.
func (p *Pipeline) transcribe(ctx context.Context, m inbox.Message, log *zap.Logger) (string, string) {
	file, ok := m.AudioFile()
	if !ok {
		return "", ""
	}
	if p.transcriber == nil || !p.transcriber.Available() {
		log.Warn("audio attached but transcription is disabled", zap.String("file", file.Name))
		return "", MsgTranscriptionDisabled
	}
	audio, err := p.downloader.Download(ctx, file.DownloadURL)
	if err != nil || len(audio) == 0 {
		log.Error("audio download failed", zap.String("file", file.Name), zap.Error(err))
		return "", MsgDownloadFailed
	}
	text, err := p.transcriber.Transcribe(ctx, audio, file.Name, file.Mimetype)
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		log.Error("transcription failed", zap.String("file", file.Name), zap.Error(err))
		return "", MsgTranscriptionFailed
	}
	return text, ""
}

// screenshot captures and posts one service's page. Failures are logged
// and never stop the remaining services.
func (p *Pipeline) screenshot(ctx context.Context, m inbox.Message, res Result, log *zap.Logger) (ok bool) {
	log = log.With(zap.String("service", res.Service))
	defer func() {
		if r := recover(); r != nil {
			log.Error("screenshot panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	art, err := p.capturer.Capture(ctx, res.Service, m.ThreadTS, res.URL)
	if errors.Is(err, capture.ErrPageMoved) {
		log.Warn("page moved on to another conversation; skipping screenshot", zap.Error(err))
		return false
	}
	if err != nil {
		log.Warn("screenshot capture failed", zap.Error(err))
		return false
	}
	if err := p.reporter.PostScreenshot(ctx, m.ChannelID, m.ThreadTS, art, res.DisplayName); err != nil {
		log.Warn("screenshot post failed", zap.Error(err))
		return false
	}
	return true
}

func (p *Pipeline) record(ctx context.Context, m inbox.Message, out Outcome, log *zap.Logger) {
	if p.recorder == nil {
		return
	}
	sub := &history.Submission{
		RequestID:       out.RequestID,
		Channel:         m.ChannelID,
		ThreadTS:        m.ThreadTS,
		UserID:          m.UserID,
		Prompt:          logging.Preview(out.Prompt, 200),
		TranscriptError: out.TranscriptError,
	}
	for _, t := range p.orch.Targets() {
		res, ok := out.Results[t.Driver.Name()]
		if !ok {
			continue
		}
		sub.Results = append(sub.Results, history.ServiceResult{
			Service:    res.Service,
			URL:        res.URL,
			Error:      res.Error,
			Attempts:   res.Attempts,
			DurationMs: res.Duration.Milliseconds(),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultRecordTimeout)
	defer cancel()
	if err := p.recorder.Record(ctx, sub); err != nil {
		log.Warn("history record failed", zap.Error(err))
	}
}
