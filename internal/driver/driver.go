// Package driver submits a prompt to one AI chat web UI and recovers the
// durable conversation URL. A single state machine runs every service; the
// per-service differences live in Profile data.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
	"go.uber.org/zap"
)

const (
	menuPause   = 300 * time.Millisecond
	toggleWait  = 3 * time.Second
	checkedWait = 5 * time.Second
)

// Options are the requested UI settings for one submission. Nil booleans
// leave the corresponding toggle untouched.
type Options struct {
	Model            string
	Search           *bool
	DeepResearch     *bool
	ExtendedThinking *bool
}

func (o Options) flag(option string) *bool {
	switch option {
	case OptSearch:
		return o.Search
	case OptDeepResearch:
		return o.DeepResearch
	case OptExtendedThinking:
		return o.ExtendedThinking
	}
	return nil
}

// Driver runs the submit sequence for one service profile.
type Driver struct {
	profile Profile
	logger  *zap.Logger
}

// New creates a Driver for profile. A nil logger disables logging.
func New(profile Profile, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		profile: profile,
		logger:  logger.Named("driver").With(zap.String("service", profile.Name)),
	}
}

// Name returns the service name.
func (d *Driver) Name() string { return d.profile.Name }

// DisplayName returns the user-facing service name.
func (d *Driver) DisplayName() string { return d.profile.DisplayName }

// Submit resets the conversation, applies opts, submits prompt and waits for
// the completion signal. It returns the page URL of the new conversation.
// Every failure, including a timeout on the page, is returned as an error.
func (d *Driver) Submit(ctx context.Context, page browser.Page, prompt string, opts Options) (string, error) {
	p := d.profile
	start := time.Now()
	d.logger.Info("submitting", zap.Int("prompt_len", len(prompt)))

	// 1. Reset.
	if p.NewChat.CSS != "" {
		if err := page.Click(p.NewChat, p.NewChatTimeout); err != nil {
			if errors.Is(err, browser.ErrClosed) {
				return "", fmt.Errorf("driver: %s: new chat: %w", p.Name, err)
			}
			d.logger.Info("new chat control not found; assuming fresh conversation", zap.Error(err))
		}
	}

	// 2. Await ready.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("driver: %s: %w", p.Name, err)
	}
	if err := page.WaitVisible(p.Input, p.InputTimeout); err != nil {
		return "", fmt.Errorf("driver: %s: await input: %w", p.Name, err)
	}
	page.Pause(p.Settle)

	// 3. Configure.
	for _, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("driver: %s: %w", p.Name, err)
		}
		d.configure(page, step, opts)
	}

	// 4. Fill.
	if err := page.Fill(p.Input, prompt, p.InputTimeout); err != nil {
		return "", fmt.Errorf("driver: %s: fill prompt: %w", p.Name, err)
	}
	page.Pause(p.Settle)

	// 5. Await submit-ready.
	if err := page.WaitEnabled(p.Submit, p.SubmitTimeout); err != nil {
		return "", fmt.Errorf("driver: %s: await submit: %w", p.Name, err)
	}

	// 6. Submit.
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("driver: %s: %w", p.Name, err)
	}
	if err := page.Click(p.Submit, p.SubmitTimeout); err != nil {
		return "", fmt.Errorf("driver: %s: click submit: %w", p.Name, err)
	}

	// 7. Await durable result.
	if err := d.awaitCompletion(page); err != nil {
		url := page.URL()
		if errors.Is(err, browser.ErrTimeout) && p.Salvage != nil && p.Salvage.MatchString(url) {
			d.logger.Warn("completion signal timed out; salvaging conversation URL",
				zap.String("url", url), zap.Error(err))
			return url, nil
		}
		return "", fmt.Errorf("driver: %s: await completion: %w", p.Name, err)
	}

	url := page.URL()
	d.logger.Info("submitted", zap.String("url", url), zap.Duration("took", time.Since(start)))
	return url, nil
}

func (d *Driver) awaitCompletion(page browser.Page) error {
	c := d.profile.Completion
	if c.URL != nil {
		return page.WaitURL(c.URL, c.Timeout)
	}
	return page.WaitVisible(c.Indicator, c.Timeout)
}

// configure applies one step. Failures are logged and the submission
// continues with whatever UI state resulted.
func (d *Driver) configure(page browser.Page, step Step, opts Options) {
	log := d.logger.With(zap.String("option", step.Option))
	var err error
	switch step.Kind {
	case StepModel:
		if opts.Model == "" {
			return
		}
		log = log.With(zap.String("model", opts.Model))
		err = d.selectModel(page, step, opts.Model)
	case StepAriaToggle:
		desired := opts.flag(step.Option)
		if desired == nil {
			return
		}
		err = d.ariaToggle(page, step, *desired)
	case StepPopoverCheckbox:
		desired := opts.flag(step.Option)
		if desired == nil {
			return
		}
		err = d.popoverToggle(page, step, *desired)
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
	}
	if err != nil {
		log.Warn("configure step failed; continuing with current UI state", zap.Error(err))
		return
	}
	log.Debug("configured")
}

func (d *Driver) selectModel(page browser.Page, step Step, model string) error {
	if err := page.Click(step.Open, step.Timeout); err != nil {
		return fmt.Errorf("open model switcher: %w", err)
	}
	page.Pause(menuPause)
	option := step.Control
	option.CSS = strings.ReplaceAll(option.CSS, "{model}", model)
	if err := page.Click(option, step.Timeout); err != nil {
		return fmt.Errorf("select model option: %w", err)
	}
	page.Pause(d.profile.Settle)
	return nil
}

func (d *Driver) ariaToggle(page browser.Page, step Step, desired bool) error {
	cur, err := page.Attribute(step.Control, "aria-pressed", step.Timeout)
	if err != nil {
		return fmt.Errorf("read toggle state: %w", err)
	}
	if (cur == "true") == desired {
		return nil
	}
	if err := page.Click(step.Control, step.Timeout); err != nil {
		return fmt.Errorf("click toggle: %w", err)
	}
	want := strconv.FormatBool(desired)
	if err := page.WaitAttribute(step.Control, "aria-pressed", want, toggleWait); err != nil {
		return fmt.Errorf("await toggle state: %w", err)
	}
	page.Pause(menuPause)
	return nil
}

func (d *Driver) popoverToggle(page browser.Page, step Step, desired bool) error {
	if err := page.Click(step.Open, step.Timeout); err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	// The popover closes when focus returns to the input.
	defer func() {
		if err := page.Click(d.profile.Input, step.Timeout); err != nil {
			d.logger.Debug("close settings popover", zap.Error(err))
		}
		page.Pause(menuPause)
	}()

	if err := page.WaitVisible(step.Control, step.Timeout); err != nil {
		return fmt.Errorf("await toggle: %w", err)
	}
	cur, err := page.IsChecked(step.State, step.Timeout)
	if err != nil {
		return fmt.Errorf("read toggle state: %w", err)
	}
	if cur == desired {
		return nil
	}
	if err := page.Click(step.Control, step.Timeout); err != nil {
		return fmt.Errorf("click toggle: %w", err)
	}
	if err := page.WaitChecked(step.State, desired, checkedWait); err != nil {
		return fmt.Errorf("await toggle state: %w", err)
	}
	return nil
}
