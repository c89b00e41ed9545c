package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/zulandar/aichorus/internal/browser"
	"github.com/zulandar/aichorus/internal/driver"
	"github.com/zulandar/aichorus/internal/registry"
	"github.com/zulandar/aichorus/internal/relay"
	"github.com/zulandar/aichorus/internal/retry"
)

type stubPages map[string]browser.Page

func (s stubPages) Acquire(ctx context.Context, name string) (browser.Page, func(), error) {
	p, ok := s[name]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", name, registry.ErrUnavailable)
	}
	return p, func() {}, nil
}

func chatGPTReadyPage() *browser.MockPage {
	p, _ := driver.ProfileFor("chatgpt", nil)
	page := browser.NewMockPage("https://chatgpt.com/")
	page.SetElement(p.Input, &browser.MockElement{Visible: true, Enabled: true})
	page.SetElement(p.Submit, &browser.MockElement{Visible: true, Enabled: true})
	return page
}

func TestSubmitOne(t *testing.T) {
	profile, _ := driver.ProfileFor("chatgpt", nil)
	target := relay.Target{Driver: driver.New(profile, nil)}

	page := chatGPTReadyPage()
	page.SetURL("https://chatgpt.com/c/abc")

	var buf bytes.Buffer
	err := submitOne(context.Background(), &buf, stubPages{"chatgpt": page}, []relay.Target{target}, retry.New(1, 0), "hello")
	if err != nil {
		t.Fatalf("submitOne: %v", err)
	}
	if !strings.Contains(buf.String(), "ChatGPT: https://chatgpt.com/c/abc (attempts: 1") {
		t.Errorf("output = %q", buf.String())
	}
	if got := page.Filled(profile.Input); got != "hello" {
		t.Errorf("filled = %q", got)
	}
}

func TestSubmitOne_Unavailable(t *testing.T) {
	profile, _ := driver.ProfileFor("claude", nil)
	target := relay.Target{Driver: driver.New(profile, nil)}

	err := submitOne(context.Background(), new(bytes.Buffer), stubPages{}, []relay.Target{target}, retry.New(1, 0), "hello")
	if err == nil || err.Error() != "Claude browser connection not available." {
		t.Errorf("err = %v", err)
	}
}
