// Package relay fans a prompt out to every configured AI service and turns
// the per-service outcomes into a Slack thread reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
	"github.com/zulandar/aichorus/internal/driver"
	"github.com/zulandar/aichorus/internal/registry"
	"github.com/zulandar/aichorus/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLockTimeout bounds how long one submission waits for another
// message's run against the same service to finish.
const DefaultLockTimeout = 10 * time.Minute

// Pages hands out exclusive access to a service's live page.
type Pages interface {
	Acquire(ctx context.Context, name string) (browser.Page, func(), error)
}

// Submitter drives one service's web UI.
type Submitter interface {
	Name() string
	DisplayName() string
	Submit(ctx context.Context, page browser.Page, prompt string, opts driver.Options) (string, error)
}

// Target is one service the orchestrator submits to.
type Target struct {
	Driver  Submitter
	Options driver.Options
}

// Request is one prompt to fan out.
type Request struct {
	ID     string
	Prompt string
}

// Result is one service's outcome. Exactly one of URL or Error is set.
type Result struct {
	Service     string
	DisplayName string
	URL         string
	Error       string
	// Attempts counts driver invocations; zero when the service was
	// unavailable from the start.
	Attempts int
	Duration time.Duration
}

// OK reports whether the service produced a URL.
func (r Result) OK() bool { return r.URL != "" }

// Orchestrator runs every Target under the retry policy.
type Orchestrator struct {
	pages       Pages
	targets     []Target
	policy      retry.Policy
	parallel    bool
	lockTimeout time.Duration
	logger      *zap.Logger
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	Pages       Pages
	Targets     []Target
	Policy      retry.Policy
	Parallel    bool
	LockTimeout time.Duration // defaults to DefaultLockTimeout
	Logger      *zap.Logger
}

// NewOrchestrator validates opts and creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Pages == nil {
		return nil, fmt.Errorf("relay: pages are required")
	}
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("relay: at least one target is required")
	}
	seen := make(map[string]bool)
	for _, t := range opts.Targets {
		if t.Driver == nil {
			return nil, fmt.Errorf("relay: target driver is required")
		}
		if seen[t.Driver.Name()] {
			return nil, fmt.Errorf("relay: duplicate target %q", t.Driver.Name())
		}
		seen[t.Driver.Name()] = true
	}
	if opts.Policy.MaxAttempts <= 0 {
		opts.Policy = retry.New(retry.DefaultMaxAttempts, retry.DefaultDelay)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		pages:       opts.Pages,
		targets:     opts.Targets,
		policy:      opts.Policy,
		parallel:    opts.Parallel,
		lockTimeout: opts.LockTimeout,
		logger:      opts.Logger.Named("orchestrator"),
	}, nil
}

// Targets returns the configured targets in submission order.
func (o *Orchestrator) Targets() []Target {
	return append([]Target(nil), o.targets...)
}

// Process submits req.Prompt to every target and returns one Result per
// service. An empty prompt runs nothing and returns an empty map.
func (o *Orchestrator) Process(ctx context.Context, req Request) map[string]Result {
	results := make(map[string]Result, len(o.targets))
	if req.Prompt == "" {
		o.logger.Warn("empty prompt; skipping submission", zap.String("request", req.ID))
		return results
	}

	if !o.parallel {
		for _, t := range o.targets {
			results[t.Driver.Name()] = o.run(ctx, req, t)
		}
		return results
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, t := range o.targets {
		g.Go(func() error {
			res := o.run(ctx, req, t)
			mu.Lock()
			results[t.Driver.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// run is the per-service failure boundary: whatever happens, it returns a
// Result with exactly one of URL or Error set.
func (o *Orchestrator) run(ctx context.Context, req Request, t Target) (res Result) {
	name, display := t.Driver.Name(), t.Driver.DisplayName()
	log := o.logger.With(zap.String("service", name), zap.String("request", req.ID))
	start := time.Now()
	res = Result{Service: name, DisplayName: display}

	defer func() {
		if r := recover(); r != nil {
			log.Error("submission panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res.URL = ""
			res.Error = fmt.Sprintf("%s submission failed: unexpected error.", display)
		}
		res.Duration = time.Since(start)
	}()

	var url string
	unavailable := false
	ran := 0
	_, err := o.policy.Do(ctx, func(attempt int) error {
		lockCtx, cancel := context.WithTimeout(ctx, o.lockTimeout)
		page, release, err := o.pages.Acquire(lockCtx, name)
		cancel()
		if err != nil {
			if errors.Is(err, registry.ErrUnavailable) {
				unavailable = true
			}
			return retry.Permanent(err)
		}
		defer release()

		ran++
		log.Info("submitting", zap.Int("attempt", attempt))
		u, err := t.Driver.Submit(ctx, page, req.Prompt, t.Options)
		if err != nil {
			if errors.Is(err, browser.ErrClosed) {
				unavailable = true
				return retry.Permanent(err)
			}
			return err
		}
		if u == "" {
			return fmt.Errorf("%s returned an empty URL", name)
		}
		url = u
		return nil
	}, func(err error, next time.Duration) {
		log.Warn("attempt failed; retrying", zap.Error(err), zap.Duration("delay", next))
	})

	res.Attempts = ran
	switch {
	case err == nil:
		res.URL = url
		log.Info("submission succeeded", zap.String("url", url), zap.Int("attempts", res.Attempts))
	case unavailable:
		res.Error = fmt.Sprintf("%s browser connection not available.", display)
		log.Warn("service unavailable", zap.Error(err))
	case ran == 0:
		res.Error = fmt.Sprintf("%s submission failed: %v", display, err)
		log.Error("submission never started", zap.Error(err))
	default:
		res.Error = fmt.Sprintf("%s submission failed after %d attempt(s): %v", display, res.Attempts, err)
		log.Error("submission failed", zap.Int("attempts", res.Attempts), zap.Error(err))
	}
	return res
}
