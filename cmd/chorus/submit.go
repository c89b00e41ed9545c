package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/config"
	"github.com/zulandar/aichorus/internal/relay"
	"github.com/zulandar/aichorus/internal/retry"
)

func newSubmitCmd() *cobra.Command {
	var (
		configPath string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "submit <service> <prompt...>",
		Short: "Submit one prompt to one service and print the conversation URL",
		Long: "Runs a single service driver against its live browser, with the configured retry policy, " +
			"and prints the resulting conversation URL. Useful for checking selectors after a UI change.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, configPath, args[0], strings.Join(args[1:], " "), model)
		},
	}

	configPathFlag(cmd, &configPath)
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

func runSubmit(cmd *cobra.Command, configPath, service, prompt, model string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	svc, ok := cfg.Service(strings.ToLower(service))
	if !ok {
		return fmt.Errorf("unknown service %q", service)
	}
	if model != "" {
		svc.Options.Model = model
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext(out)
	defer cancel()

	// Only the chosen service is dialled.
	enabled := true
	svc.Enabled = &enabled
	cfg.Services = []config.ServiceConfig{svc}

	targets, err := buildTargets(cfg, logger)
	if err != nil {
		return err
	}
	session, err := connectBrowsers(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer session.Close(logger)

	policy := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.Delay)
	return submitOne(ctx, out, session.registry, targets, policy, prompt)
}

// submitOne runs the single target through the orchestrator and prints
// its URL.
func submitOne(ctx context.Context, out io.Writer, pages relay.Pages, targets []relay.Target, policy retry.Policy, prompt string) error {
	orch, err := relay.NewOrchestrator(relay.OrchestratorOpts{
		Pages:   pages,
		Targets: targets,
		Policy:  policy,
	})
	if err != nil {
		return err
	}
	name := targets[0].Driver.Name()
	res := orch.Process(ctx, relay.Request{ID: "cli", Prompt: prompt})[name]
	if !res.OK() {
		return errors.New(res.Error)
	}
	fmt.Fprintf(out, "%s: %s (attempts: %d, took %s)\n", res.DisplayName, res.URL, res.Attempts, res.Duration.Round(time.Millisecond))
	return nil
}
