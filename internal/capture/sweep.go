package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper removes screenshots left behind by failed uploads.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	schedule cron.Schedule
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper for dir that runs on the cron expression and
// removes .png files older than maxAge.
func NewSweeper(dir, expr string, maxAge time.Duration, logger *zap.Logger) (*Sweeper, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("capture: sweep schedule %q: %w", expr, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("capture: sweep max age must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		schedule: sched,
		logger:   logger.Named("sweeper"),
		now:      time.Now,
	}, nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		wait := time.Until(s.schedule.Next(s.now()))
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if _, err := s.Sweep(); err != nil {
			s.logger.Warn("sweep failed", zap.Error(err))
		}
	}
}

// Sweep removes orphaned screenshots older than maxAge and returns how many
// were removed. A missing directory is not an error.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("capture: sweep: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("remove orphaned screenshot", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed orphaned screenshots", zap.Int("count", removed))
	}
	return removed, nil
}
