package history

import (
	"context"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Each sqlite :memory: connection is its own database.
	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", "x")
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Errorf("err = %v", err)
	}
}

func TestNormalizeMySQLDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{name: "plain", dsn: "root@tcp(127.0.0.1:3306)/chorus"},
		{name: "already set", dsn: "root@tcp(127.0.0.1:3306)/chorus?parseTime=true"},
		{name: "garbage", dsn: "tcp(", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMySQLDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeMySQLDSN: %v", err)
			}
			if !strings.Contains(got, "parseTime=true") || !strings.Contains(got, "/chorus") {
				t.Errorf("dsn = %q", got)
			}
		})
	}
}

func TestRecord_RequiresRequestID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Record(context.Background(), &Submission{Channel: "C1"}); err == nil {
		t.Error("expected error for missing request id")
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"req-1", "req-2", "req-3"} {
		sub := &Submission{
			RequestID: id,
			Channel:   "C1",
			ThreadTS:  "1.2",
			Prompt:    "hello",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Results: []ServiceResult{
				{Service: "gemini", Error: "Gemini browser connection not available."},
				{Service: "chatgpt", URL: "https://chatgpt.com/c/" + id, Attempts: 1, DurationMs: 1200},
			},
		}
		if err := s.Record(ctx, sub); err != nil {
			t.Fatalf("Record %s: %v", id, err)
		}
		if sub.ID == 0 {
			t.Fatalf("Record %s did not assign an id", id)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].RequestID != "req-3" || got[1].RequestID != "req-2" {
		t.Errorf("order = %s, %s", got[0].RequestID, got[1].RequestID)
	}
	results := got[0].Results
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Service != "chatgpt" || !results[0].Succeeded() {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Service != "gemini" || results[1].Succeeded() {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestRecord_DuplicateRequestID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Record(ctx, &Submission{RequestID: "dup", Channel: "C1", ThreadTS: "1"}); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := s.Record(ctx, &Submission{RequestID: "dup", Channel: "C1", ThreadTS: "1"}); err == nil {
		t.Error("expected unique violation")
	}
}

func TestRecent_DefaultLimit(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Recent(context.Background(), 0)
	if err != nil || len(got) != 0 {
		t.Errorf("Recent = %v, %v", got, err)
	}
}
