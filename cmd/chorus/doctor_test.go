package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/aichorus/internal/config"
	"github.com/zulandar/aichorus/internal/doctor"
)

func TestCheckConfig(t *testing.T) {
	tests := []struct {
		name   string
		path   func(t *testing.T) string
		status string
		ok     bool
	}{
		{
			name:   "present",
			path:   func(t *testing.T) string { return writeConfig(t, "retry:\n  max_attempts: 2\n") },
			status: doctor.Pass,
			ok:     true,
		},
		{
			name:   "missing uses defaults",
			path:   func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			status: doctor.Warn,
			ok:     true,
		},
		{
			name:   "invalid",
			path:   func(t *testing.T) string { return writeConfig(t, "slack:\n  mode: carrier-pigeon\n") },
			status: doctor.Fail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, r := checkConfig(tt.path(t))
			if r.Status != tt.status {
				t.Errorf("status = %s (%s), want %s", r.Status, r.Detail, tt.status)
			}
			if (cfg != nil) != tt.ok {
				t.Errorf("cfg = %v", cfg)
			}
		})
	}
}

func TestCheckProfile(t *testing.T) {
	tests := []struct {
		name   string
		svc    config.ServiceConfig
		status string
		detail string
	}{
		{"builtin", config.ServiceConfig{Name: "gemini"}, doctor.Pass, "built-in"},
		{"override", config.ServiceConfig{Name: "chatgpt", Selectors: map[string]string{"submit": "#send"}}, doctor.Pass, "1 override(s)"},
		{"conflict", config.ServiceConfig{Name: "claude", Selectors: map[string]string{"indicator": "x", "completion_url": "/y/"}}, doctor.Fail, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkProfile(tt.svc)
			if r.Status != tt.status || !strings.Contains(r.Detail, tt.detail) {
				t.Errorf("result = %+v", r)
			}
		})
	}
}

func TestRunDoctor_UnreachableBrowsers(t *testing.T) {
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_SIGNING_SECRET", "")
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, `
services:
  - name: chatgpt
    endpoint: http://127.0.0.1:1
slack:
  bot_token: xoxb-test
  signing_secret: s3cret
`)
	cmd, buf := newTestCmd()
	err := runDoctor(cmd, path, true)
	if err == nil {
		t.Fatal("expected failure for unreachable browser")
	}
	out := buf.String()
	for _, want := range []string{
		"[PASS] Config file",
		"[FAIL] Browser chatgpt",
		"[PASS] Selectors chatgpt: built-in",
		"[PASS] Slack bot token: configured",
		"[WARN] OpenAI API key",
		"1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
