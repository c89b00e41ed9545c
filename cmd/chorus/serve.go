package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/slack-go/slack/slackevents"
	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/capture"
	"github.com/zulandar/aichorus/internal/config"
	"github.com/zulandar/aichorus/internal/frontdoor"
	"github.com/zulandar/aichorus/internal/history"
	"github.com/zulandar/aichorus/internal/inbox"
	"github.com/zulandar/aichorus/internal/relay"
	"github.com/zulandar/aichorus/internal/report"
	"github.com/zulandar/aichorus/internal/retry"
	"github.com/zulandar/aichorus/internal/slackio"
	"github.com/zulandar/aichorus/internal/transcribe"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack relay",
		Long: "Connects to every configured browser, then listens for Slack messages (Events API over " +
			"HTTP or Socket Mode) and relays each one to the AI services.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	configPathFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Slack.BotToken == "" {
		return fmt.Errorf("slack bot token is required (slack.bot_token or SLACK_BOT_TOKEN)")
	}
	if cfg.Slack.Mode == config.SlackModeEvents && cfg.Slack.SigningSecret == "" {
		return fmt.Errorf("slack signing secret is required in events mode (slack.signing_secret or SLACK_SIGNING_SECRET)")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext(out)
	defer cancel()

	targets, err := buildTargets(cfg, logger)
	if err != nil {
		return err
	}

	slack, err := slackio.NewClient(slackio.ClientOpts{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := slack.Connect(ctx); err != nil {
		return err
	}

	session, err := connectBrowsers(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer session.Close(logger)

	orch, err := relay.NewOrchestrator(relay.OrchestratorOpts{
		Pages:    session.registry,
		Targets:  targets,
		Policy:   retry.New(cfg.Retry.MaxAttempts, cfg.Retry.Delay),
		Parallel: cfg.Submission.IsParallel(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	reporter, err := report.New(slack, logger)
	if err != nil {
		return err
	}

	opts := relay.PipelineOpts{
		Orchestrator: orch,
		Reporter:     reporter,
		Transcriber: transcribe.New(transcribe.Opts{
			APIKey:  cfg.Transcription.APIKey,
			Model:   cfg.Transcription.Model,
			Timeout: cfg.Transcription.Timeout,
			Logger:  logger,
		}),
		Downloader: slack,
		Logger:     logger,
	}

	if cfg.History.Enabled() {
		store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
	}

	var bg sync.WaitGroup
	defer bg.Wait()

	if cfg.Screenshots.IsEnabled() {
		capturer, err := capture.New(capture.Opts{
			Pages:    session.registry,
			Dir:      cfg.Screenshots.Dir,
			Timeout:  cfg.Screenshots.Timeout,
			FullPage: cfg.Screenshots.IsFullPage(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		opts.Capturer = capturer

		sweeper, err := capture.NewSweeper(cfg.Screenshots.Dir, cfg.Screenshots.SweepCron, cfg.Screenshots.MaxAge, logger)
		if err != nil {
			return err
		}
		bg.Add(1)
		go func() {
			defer bg.Done()
			sweeper.Run(ctx)
		}()
	}

	pipeline, err := relay.NewPipeline(opts)
	if err != nil {
		return err
	}

	filter := inbox.Filter{BotUserID: slack.BotUserID(), Logger: logger}
	handler := messageHandler(ctx, filter, pipeline, logger)

	switch cfg.Slack.Mode {
	case config.SlackModeSocket:
		return runSocket(ctx, slack, handler, logger, out)
	default:
		srv, err := frontdoor.New(frontdoor.Opts{
			Addr:          cfg.HTTP.Addr,
			SigningSecret: cfg.Slack.SigningSecret,
			Handler:       handler,
			Status:        session.registry,
			Logger:        logger,
			Out:           out,
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}
}

// messageHandler filters inbound events and processes accepted messages on
// their own goroutine so the inbound transport is never blocked. In-flight
// messages are abandoned at shutdown.
func messageHandler(ctx context.Context, filter inbox.Filter, pipeline *relay.Pipeline, logger *zap.Logger) slackio.MessageHandler {
	return func(ev *slackevents.MessageEvent) {
		m := inbox.FromEvent(ev)
		if !filter.ShouldProcess(m) {
			return
		}
		go func() {
			if _, err := pipeline.Handle(ctx, m); err != nil {
				logger.Warn("message dropped", zap.Error(err))
			}
		}()
	}
}

func runSocket(ctx context.Context, slack *slackio.Client, handler slackio.MessageHandler, logger *zap.Logger, out io.Writer) error {
	api, ok := slack.API()
	if !ok {
		return fmt.Errorf("socket mode needs a token-built Slack client")
	}
	listener, err := slackio.NewListener(slackio.ListenerOpts{API: api, Handler: handler, Logger: logger})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Listening for Slack events over Socket Mode")
	return listener.Run(ctx)
}
