package driver

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/zulandar/aichorus/internal/browser"
)

// StepKind identifies how a configure step drives the UI.
type StepKind string

const (
	// StepModel opens a switcher and clicks the option for Options.Model.
	StepModel StepKind = "model"
	// StepAriaToggle flips an inline button whose state is aria-pressed.
	StepAriaToggle StepKind = "aria_toggle"
	// StepPopoverCheckbox opens a settings popover, flips a row whose state is
	// an embedded checkbox, then closes the popover.
	StepPopoverCheckbox StepKind = "popover_checkbox"
)

// Option keys a configure step reads from Options.
const (
	OptModel            = "model"
	OptSearch           = "search"
	OptDeepResearch     = "deep_research"
	OptExtendedThinking = "extended_thinking"
)

// Step is one optional configure action. Failures are never fatal.
type Step struct {
	Kind   StepKind
	Option string
	// Open is the switcher or popover button; empty for inline toggles.
	Open browser.Selector
	// Control is the element clicked to apply the option. For StepModel its
	// CSS is a template containing {model}.
	Control browser.Selector
	// State is the checkbox holding the current value (StepPopoverCheckbox).
	State   browser.Selector
	Timeout time.Duration
}

// Completion is the observable signal that a submission produced a durable
// conversation. Exactly one of URL or Indicator is set.
type Completion struct {
	URL       *regexp.Regexp
	Indicator browser.Selector
	Timeout   time.Duration
}

// Profile is the per-service data the generic driver runs on.
type Profile struct {
	Name        string
	DisplayName string

	NewChat        browser.Selector
	NewChatTimeout time.Duration
	Input          browser.Selector
	InputTimeout   time.Duration
	Submit         browser.Selector
	SubmitTimeout  time.Duration
	Steps          []Step
	Completion     Completion
	Salvage        *regexp.Regexp
	Settle         time.Duration
}

// Selector override keys accepted in service configuration.
const (
	KeyNewChat            = "new_chat"
	KeyInput              = "input"
	KeySubmit             = "submit"
	KeyIndicator          = "indicator"
	KeyCompletionURL      = "completion_url"
	KeySalvageURL         = "salvage_url"
	KeyModelSwitcher      = "model_switcher"
	KeyModelOption        = "model_option"
	KeySearchToggle       = "search_toggle"
	KeyDeepResearchToggle = "deep_research_toggle"
	KeySettingsButton     = "settings_button"
	KeyThinkingToggle     = "thinking_toggle"
	KeyThinkingCheckbox   = "thinking_checkbox"
)

const (
	defaultNewChatTimeout    = 10 * time.Second
	defaultInputTimeout      = 15 * time.Second
	defaultSubmitTimeout     = 10 * time.Second
	defaultCompletionTimeout = 90 * time.Second
	defaultStepTimeout       = 10 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

func chatGPT() Profile {
	conv := regexp.MustCompile(`/c/`)
	return Profile{
		Name:           "chatgpt",
		DisplayName:    "ChatGPT",
		NewChat:        browser.Selector{CSS: `button[data-testid="create-new-chat-button"]`, Last: true},
		NewChatTimeout: 10 * time.Second,
		Input:          browser.CSSSelector(`#prompt-textarea[contenteditable="true"]`),
		InputTimeout:   15 * time.Second,
		Submit:         browser.CSSSelector(`button[data-testid="send-button"]`),
		SubmitTimeout:  10 * time.Second,
		Steps: []Step{
			{
				Kind:    StepModel,
				Option:  OptModel,
				Open:    browser.Selector{CSS: `[data-testid="model-switcher-dropdown-button"]`, Last: true},
				Control: browser.CSSSelector(`div[data-testid="model-switcher-{model}"]`),
				Timeout: 10 * time.Second,
			},
			{
				Kind:    StepAriaToggle,
				Option:  OptSearch,
				Control: browser.CSSSelector(`[data-testid="composer-button-search"]`),
				Timeout: 5 * time.Second,
			},
			{
				Kind:    StepAriaToggle,
				Option:  OptDeepResearch,
				Control: browser.CSSSelector(`[data-testid="composer-button-deep-research"]`),
				Timeout: 5 * time.Second,
			},
		},
		Completion: Completion{URL: conv, Timeout: 60 * time.Second},
		Salvage:    conv,
		Settle:     defaultSettle,
	}
}

func claude() Profile {
	chat := regexp.MustCompile(`/chat/`)
	return Profile{
		Name:           "claude",
		DisplayName:    "Claude",
		NewChat:        browser.CSSSelector(`a[aria-label="New chat"][href="/new"]`),
		NewChatTimeout: 10 * time.Second,
		Input:          browser.CSSSelector(`.ProseMirror[contenteditable="true"]`),
		InputTimeout:   15 * time.Second,
		Submit:         browser.CSSSelector(`button[aria-label="Send message"]`),
		SubmitTimeout:  10 * time.Second,
		Steps: []Step{
			{
				Kind:    StepPopoverCheckbox,
				Option:  OptExtendedThinking,
				Open:    browser.CSSSelector(`button[data-testid="input-menu-tools"]`),
				Control: browser.CSSSelector(`button:has(p:text-is("Extended thinking"))`),
				State: browser.Selector{
					Within: `button:has(p:text-is("Extended thinking"))`,
					CSS:    `input[type="checkbox"]`,
				},
				Timeout: 10 * time.Second,
			},
		},
		Completion: Completion{URL: chat, Timeout: 90 * time.Second},
		Salvage:    chat,
		Settle:     defaultSettle,
	}
}

func gemini() Profile {
	return Profile{
		Name:           "gemini",
		DisplayName:    "Gemini",
		NewChat:        browser.CSSSelector(`expandable-button[data-test-id="new-chat-button"] button:not([disabled])`),
		NewChatTimeout: 5 * time.Second,
		Input:          browser.CSSSelector(`div.ql-editor[role="textbox"][aria-label="Enter a prompt here"]`),
		InputTimeout:   10 * time.Second,
		Submit:         browser.CSSSelector(`button[aria-label="Send message"]:not([aria-disabled="true"])`),
		SubmitTimeout:  10 * time.Second,
		Completion: Completion{
			Indicator: browser.Selector{CSS: "model-thoughts", First: true},
			Timeout:   90 * time.Second,
		},
		Salvage: regexp.MustCompile(`/app/[0-9a-fA-F]+`),
		Settle:  defaultSettle,
	}
}

// builtin maps service names to their reference profiles.
var builtin = map[string]func() Profile{
	"chatgpt": chatGPT,
	"claude":  claude,
	"gemini":  gemini,
}

// Builtin returns the names of services with reference profiles.
func Builtin() []string {
	return []string{"chatgpt", "claude", "gemini"}
}

// ProfileFor returns the profile for a service: the reference profile when
// one exists, with selector overrides applied on top. A service without a
// reference profile must supply input, submit and a completion signal.
func ProfileFor(name string, overrides map[string]string) (Profile, error) {
	var p Profile
	if fn, ok := builtin[name]; ok {
		p = fn()
	} else {
		p = Profile{
			Name:           name,
			DisplayName:    DisplayName(name),
			NewChatTimeout: defaultNewChatTimeout,
			InputTimeout:   defaultInputTimeout,
			SubmitTimeout:  defaultSubmitTimeout,
			Completion:     Completion{Timeout: defaultCompletionTimeout},
			Settle:         defaultSettle,
		}
	}
	if err := p.apply(overrides); err != nil {
		return Profile{}, fmt.Errorf("driver: %s: %w", name, err)
	}
	if err := p.validate(); err != nil {
		return Profile{}, fmt.Errorf("driver: %s: %w", name, err)
	}
	return p, nil
}

// DisplayName returns the user-facing name for a service ("chatgpt" ->
// "ChatGPT"); unknown names are capitalized.
func DisplayName(name string) string {
	if fn, ok := builtin[name]; ok {
		return fn().DisplayName
	}
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (p *Profile) apply(overrides map[string]string) error {
	if overrides[KeyIndicator] != "" && overrides[KeyCompletionURL] != "" {
		return fmt.Errorf("selectors %s and %s are mutually exclusive", KeyIndicator, KeyCompletionURL)
	}
	for key, val := range overrides {
		switch key {
		case KeyNewChat:
			p.NewChat = browser.CSSSelector(val)
		case KeyInput:
			p.Input = browser.CSSSelector(val)
		case KeySubmit:
			p.Submit = browser.CSSSelector(val)
		case KeyIndicator:
			p.Completion.URL = nil
			p.Completion.Indicator = browser.Selector{CSS: val, First: true}
		case KeyCompletionURL:
			re, err := regexp.Compile(val)
			if err != nil {
				return fmt.Errorf("selector %s: %w", key, err)
			}
			p.Completion.URL = re
			p.Completion.Indicator = browser.Selector{}
			if p.Salvage == nil {
				p.Salvage = re
			}
		case KeySalvageURL:
			re, err := regexp.Compile(val)
			if err != nil {
				return fmt.Errorf("selector %s: %w", key, err)
			}
			p.Salvage = re
		case KeyModelSwitcher:
			p.step(OptModel, StepModel).Open = browser.Selector{CSS: val, Last: true}
		case KeyModelOption:
			p.step(OptModel, StepModel).Control = browser.CSSSelector(val)
		case KeySearchToggle:
			p.step(OptSearch, StepAriaToggle).Control = browser.CSSSelector(val)
		case KeyDeepResearchToggle:
			p.step(OptDeepResearch, StepAriaToggle).Control = browser.CSSSelector(val)
		case KeySettingsButton:
			p.step(OptExtendedThinking, StepPopoverCheckbox).Open = browser.CSSSelector(val)
		case KeyThinkingToggle:
			s := p.step(OptExtendedThinking, StepPopoverCheckbox)
			s.Control = browser.CSSSelector(val)
			s.State.Within = val
		case KeyThinkingCheckbox:
			p.step(OptExtendedThinking, StepPopoverCheckbox).State.CSS = val
		default:
			return fmt.Errorf("unknown selector key %q", key)
		}
	}
	return nil
}

// step returns the configure step for option, appending an empty one of
// kind when the profile has none.
func (p *Profile) step(option string, kind StepKind) *Step {
	for i := range p.Steps {
		if p.Steps[i].Option == option {
			return &p.Steps[i]
		}
	}
	p.Steps = append(p.Steps, Step{Kind: kind, Option: option, Timeout: defaultStepTimeout})
	return &p.Steps[len(p.Steps)-1]
}

func (p Profile) validate() error {
	var errs []string
	if p.Input.CSS == "" {
		errs = append(errs, "input selector is required")
	}
	if p.Submit.CSS == "" {
		errs = append(errs, "submit selector is required")
	}
	if p.Completion.URL == nil && p.Completion.Indicator.CSS == "" {
		errs = append(errs, "completion_url or indicator is required")
	}
	for _, s := range p.Steps {
		switch s.Kind {
		case StepModel:
			if s.Open.CSS == "" || !strings.Contains(s.Control.CSS, "{model}") {
				errs = append(errs, "model step needs model_switcher and a model_option containing {model}")
			}
		case StepAriaToggle:
			if s.Control.CSS == "" {
				errs = append(errs, fmt.Sprintf("%s toggle selector is required", s.Option))
			}
		case StepPopoverCheckbox:
			if s.Open.CSS == "" || s.Control.CSS == "" || s.State.CSS == "" {
				errs = append(errs, "extended thinking step needs settings_button, thinking_toggle and thinking_checkbox")
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid profile: %s", strings.Join(errs, "; "))
	}
	return nil
}
