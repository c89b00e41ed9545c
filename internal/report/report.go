// Package report formats submission outcomes as a threaded Slack reply and
// uploads screenshots as follow-ups.
package report

import (
	"context"
	"fmt"
	"os"
	"strings"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/aichorus/internal/capture"
	"github.com/zulandar/aichorus/internal/logging"
	"github.com/zulandar/aichorus/internal/slackio"
	"go.uber.org/zap"
)

// previewLen is how much of the text the notification fallback shows.
const previewLen = 50

// Poster is the Slack surface the Reporter writes to.
type Poster interface {
	PostMessage(ctx context.Context, channel string, options ...slackapi.MsgOption) (string, error)
	UploadFile(ctx context.Context, u slackio.Upload) error
}

// ServiceOutcome is one service's line in the reply. Exactly one of URL or
// Error is set.
type ServiceOutcome struct {
	Name        string
	DisplayName string
	URL         string
	Error       string
}

// Summary is everything the reply reports for one message.
type Summary struct {
	Channel         string
	ThreadTS        string
	OriginalText    string
	Transcript      string
	TranscriptError string
	Services        []ServiceOutcome
}

// Message is a rendered reply.
type Message struct {
	Blocks   []slackapi.Block
	Fallback string
}

// Build renders s. It returns false when the reply would be empty.
func Build(s Summary) (Message, bool) {
	var blocks []slackapi.Block

	var buttons []slackapi.BlockElement
	for _, svc := range s.Services {
		if svc.URL == "" {
			continue
		}
		label := slackapi.NewTextBlockObject(slackapi.PlainTextType, svc.DisplayName, true, false)
		btn := slackapi.NewButtonBlockElement(fmt.Sprintf("link_%s_%s", svc.Name, s.ThreadTS), "", label)
		btn.URL = svc.URL
		buttons = append(buttons, btn)
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slackapi.NewActionBlock("", buttons...))
	}

	var errs []slackapi.MixedElement
	for _, svc := range s.Services {
		if svc.Error != "" {
			errs = append(errs, mrkdwn(fmt.Sprintf(":warning: *%s Error:* _%s_", svc.DisplayName, svc.Error)))
		}
	}

	var text string
	switch {
	case s.Transcript != "":
		text = fmt.Sprintf("*Transcript:*\n```\n%s\n```", s.Transcript)
	case s.OriginalText != "":
		text = fmt.Sprintf("*Original Text:*\n```\n%s\n```", s.OriginalText)
	case s.TranscriptError != "":
		text = fmt.Sprintf(":warning: *Transcription Failed:* _%s_", s.TranscriptError)
	}
	if s.TranscriptError != "" && s.OriginalText != "" {
		errs = append(errs, mrkdwn(fmt.Sprintf(":warning: *Transcription Failed:* _%s_", s.TranscriptError)))
	}

	if len(buttons) > 0 && (text != "" || len(errs) > 0) {
		blocks = append(blocks, slackapi.NewDividerBlock())
	}
	if text != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(mrkdwn(text), nil, nil))
	}
	if len(errs) > 0 {
		blocks = append(blocks, slackapi.NewContextBlock("", errs...))
	}
	if len(blocks) == 0 {
		return Message{}, false
	}
	return Message{Blocks: blocks, Fallback: fallback(s)}, true
}

func mrkdwn(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false)
}

// fallback is the plain-text notification preview.
func fallback(s Summary) string {
	var b strings.Builder
	b.WriteString("AI Chorus results:")
	switch {
	case s.Transcript != "":
		fmt.Fprintf(&b, " Transcript: %s", logging.Preview(s.Transcript, previewLen))
	case s.OriginalText != "":
		fmt.Fprintf(&b, " Original: %s", logging.Preview(s.OriginalText, previewLen))
	}
	for _, svc := range s.Services {
		if svc.URL != "" {
			fmt.Fprintf(&b, " (%s Link)", svc.DisplayName)
		}
	}
	return b.String()
}

// Reporter posts summaries and screenshots into Slack threads.
type Reporter struct {
	slack  Poster
	logger *zap.Logger
}

// New creates a Reporter.
func New(slack Poster, logger *zap.Logger) (*Reporter, error) {
	if slack == nil {
		return nil, fmt.Errorf("report: slack poster is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{slack: slack, logger: logger.Named("report")}, nil
}

// PostSummary posts the Block Kit summary into the thread. It reports
// whether a reply was posted; an empty summary posts nothing.
func (r *Reporter) PostSummary(ctx context.Context, s Summary) (bool, error) {
	msg, ok := Build(s)
	log := r.logger.With(zap.String("channel", s.Channel), zap.String("thread", s.ThreadTS))
	if !ok {
		log.Info("nothing to report; skipping reply")
		return false, nil
	}
	_, err := r.slack.PostMessage(ctx, s.Channel,
		slackapi.MsgOptionTS(s.ThreadTS),
		slackapi.MsgOptionText(msg.Fallback, false),
		slackapi.MsgOptionBlocks(msg.Blocks...),
		slackapi.MsgOptionDisableLinkUnfurl(),
		slackapi.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		return false, fmt.Errorf("report: post summary: %w", err)
	}
	log.Info("summary posted", zap.Int("blocks", len(msg.Blocks)))
	return true, nil
}

// PostScreenshot uploads one screenshot into the thread and deletes the
// local file. A file whose upload failed is left on disk for the sweeper.
func (r *Reporter) PostScreenshot(ctx context.Context, channel, threadTS string, art capture.Artifact, displayName string) error {
	err := r.slack.UploadFile(ctx, slackio.Upload{
		Channel:  channel,
		ThreadTS: threadTS,
		Path:     art.Path,
		Title:    fmt.Sprintf("%s screenshot", displayName),
		Comment:  fmt.Sprintf("%s screenshot", displayName),
	})
	if err != nil {
		r.logger.Warn("screenshot upload failed; file left orphaned",
			zap.String("service", art.Service), zap.String("path", art.Path), zap.Error(err))
		return fmt.Errorf("report: upload %s screenshot: %w", art.Service, err)
	}
	if err := os.Remove(art.Path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("delete uploaded screenshot", zap.String("path", art.Path), zap.Error(err))
	}
	r.logger.Info("screenshot posted", zap.String("service", art.Service))
	return nil
}
