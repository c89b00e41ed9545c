package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/aichorus/internal/capture"
	"github.com/zulandar/aichorus/internal/slackio"
)

// --- Mock poster ---

type mockPoster struct {
	mu        sync.Mutex
	posts     []string // channel per post
	uploads   []slackio.Upload
	postErr   error
	uploadErr error
}

func (m *mockPoster) PostMessage(ctx context.Context, channel string, options ...slackapi.MsgOption) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", m.postErr
	}
	m.posts = append(m.posts, channel)
	return "1700000000.000200", nil
}

func (m *mockPoster) UploadFile(ctx context.Context, u slackio.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return m.uploadErr
	}
	m.uploads = append(m.uploads, u)
	return nil
}

// --- Build ---

func blockTypes(blocks []slackapi.Block) []string {
	var out []string
	for _, b := range blocks {
		out = append(out, string(b.BlockType()))
	}
	return out
}

func TestBuild_LinksTextAndErrors(t *testing.T) {
	s := Summary{
		ThreadTS:     "1700000000.000100",
		OriginalText: "hello",
		Services: []ServiceOutcome{
			{Name: "chatgpt", DisplayName: "ChatGPT", URL: "https://chatgpt.com/c/1"},
			{Name: "claude", DisplayName: "Claude", Error: "Claude browser connection not available."},
			{Name: "gemini", DisplayName: "Gemini", URL: "https://gemini.google.com/app/2"},
		},
	}
	msg, ok := Build(s)
	if !ok {
		t.Fatal("expected a message")
	}
	want := []string{"actions", "divider", "section", "context"}
	if got := blockTypes(msg.Blocks); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("blocks = %v, want %v", got, want)
	}

	actions := msg.Blocks[0].(*slackapi.ActionBlock)
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("buttons = %d, want 2", len(actions.Elements.ElementSet))
	}
	btn := actions.Elements.ElementSet[0].(*slackapi.ButtonBlockElement)
	if btn.URL != "https://chatgpt.com/c/1" || btn.ActionID != "link_chatgpt_1700000000.000100" {
		t.Errorf("button = %+v", btn)
	}

	section := msg.Blocks[2].(*slackapi.SectionBlock)
	if section.Text.Text != "*Original Text:*\n```\nhello\n```" {
		t.Errorf("section = %q", section.Text.Text)
	}

	ctxBlock := msg.Blocks[3].(*slackapi.ContextBlock)
	if len(ctxBlock.ContextElements.Elements) != 1 {
		t.Fatalf("context elements = %d", len(ctxBlock.ContextElements.Elements))
	}
	errText := ctxBlock.ContextElements.Elements[0].(*slackapi.TextBlockObject).Text
	if errText != ":warning: *Claude Error:* _Claude browser connection not available._" {
		t.Errorf("error = %q", errText)
	}

	if msg.Fallback != "AI Chorus results: Original: hello (ChatGPT Link) (Gemini Link)" {
		t.Errorf("fallback = %q", msg.Fallback)
	}
}

func TestBuild_TranscriptWinsOverOriginal(t *testing.T) {
	msg, ok := Build(Summary{OriginalText: "hello", Transcript: "world"})
	if !ok {
		t.Fatal("expected a message")
	}
	if got := blockTypes(msg.Blocks); len(got) != 1 || got[0] != "section" {
		t.Fatalf("blocks = %v", got)
	}
	if text := msg.Blocks[0].(*slackapi.SectionBlock).Text.Text; !strings.HasPrefix(text, "*Transcript:*") {
		t.Errorf("section = %q", text)
	}
	if !strings.HasPrefix(msg.Fallback, "AI Chorus results: Transcript: world") {
		t.Errorf("fallback = %q", msg.Fallback)
	}
}

func TestBuild_TranscriptionErrorPlacement(t *testing.T) {
	// Only the error: it is the main section.
	msg, _ := Build(Summary{TranscriptError: "Failed to download audio file from Slack."})
	if got := blockTypes(msg.Blocks); len(got) != 1 || got[0] != "section" {
		t.Fatalf("blocks = %v", got)
	}
	if text := msg.Blocks[0].(*slackapi.SectionBlock).Text.Text; text != ":warning: *Transcription Failed:* _Failed to download audio file from Slack._" {
		t.Errorf("section = %q", text)
	}

	// With original text: the error moves to the context block.
	msg, _ = Build(Summary{OriginalText: "hi", TranscriptError: "Error during transcription with OpenAI API."})
	if got := blockTypes(msg.Blocks); strings.Join(got, ",") != "section,context" {
		t.Fatalf("blocks = %v", got)
	}
}

func TestBuild_NoDividerWithoutText(t *testing.T) {
	msg, _ := Build(Summary{Services: []ServiceOutcome{{Name: "chatgpt", DisplayName: "ChatGPT", URL: "u"}}})
	if got := blockTypes(msg.Blocks); len(got) != 1 || got[0] != "actions" {
		t.Errorf("blocks = %v", got)
	}
}

func TestBuild_Empty(t *testing.T) {
	if _, ok := Build(Summary{ThreadTS: "1.2"}); ok {
		t.Error("empty summary should produce no message")
	}
}

func TestFallback_TruncatesPreview(t *testing.T) {
	long := strings.Repeat("a", 80)
	got := fallback(Summary{OriginalText: long})
	if got != "AI Chorus results: Original: "+strings.Repeat("a", 50)+"..." {
		t.Errorf("fallback = %q", got)
	}
}

// --- Reporter ---

func TestNew_RequiresPoster(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("expected error for nil poster")
	}
}

func TestPostSummary(t *testing.T) {
	p := &mockPoster{}
	r, _ := New(p, nil)

	posted, err := r.PostSummary(context.Background(), Summary{Channel: "C1", ThreadTS: "1.2", OriginalText: "hi"})
	if err != nil || !posted {
		t.Fatalf("PostSummary = %v, %v", posted, err)
	}
	if len(p.posts) != 1 || p.posts[0] != "C1" {
		t.Errorf("posts = %v", p.posts)
	}

	posted, err = r.PostSummary(context.Background(), Summary{Channel: "C1", ThreadTS: "1.2"})
	if err != nil || posted {
		t.Errorf("empty summary posted = %v, err = %v", posted, err)
	}
	if len(p.posts) != 1 {
		t.Error("empty summary must not post")
	}

	p.postErr = errors.New("channel_not_found")
	if _, err := r.PostSummary(context.Background(), Summary{Channel: "C1", ThreadTS: "1.2", OriginalText: "hi"}); err == nil {
		t.Error("expected post error")
	}
}

func writeShot(t *testing.T) capture.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatgpt_x_1.2.png")
	if err := os.WriteFile(path, []byte("PNG"), 0644); err != nil {
		t.Fatal(err)
	}
	return capture.Artifact{Service: "chatgpt", Path: path, Data: []byte("PNG")}
}

func TestPostScreenshot_DeletesAfterUpload(t *testing.T) {
	p := &mockPoster{}
	r, _ := New(p, nil)
	art := writeShot(t)

	if err := r.PostScreenshot(context.Background(), "C1", "1.2", art, "ChatGPT"); err != nil {
		t.Fatalf("PostScreenshot: %v", err)
	}
	if len(p.uploads) != 1 || p.uploads[0].ThreadTS != "1.2" || !strings.Contains(p.uploads[0].Title, "ChatGPT") {
		t.Errorf("uploads = %+v", p.uploads)
	}
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Error("uploaded screenshot not deleted")
	}
}

func TestPostScreenshot_KeepsFileOnFailure(t *testing.T) {
	p := &mockPoster{uploadErr: errors.New("not_in_channel")}
	r, _ := New(p, nil)
	art := writeShot(t)

	if err := r.PostScreenshot(context.Background(), "C1", "1.2", art, "ChatGPT"); err == nil {
		t.Fatal("expected upload error")
	}
	if _, err := os.Stat(art.Path); err != nil {
		t.Errorf("orphaned screenshot removed: %v", err)
	}
}
