package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/config"
	"github.com/zulandar/aichorus/internal/doctor"
	"github.com/zulandar/aichorus/internal/driver"
	"github.com/zulandar/aichorus/internal/history"
	"github.com/zulandar/aichorus/internal/slackio"
)

func newDoctorCmd() *cobra.Command {
	var (
		configPath string
		skipSlack  bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check browsers, credentials and configuration",
		Long: "Runs diagnostic checks: config file, each service's remote-debugging endpoint (HTTP and CDP), " +
			"selector profiles, Slack credentials, the OpenAI key and the history store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, skipSlack)
		},
	}

	configPathFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&skipSlack, "skip-slack", false, "skip the Slack auth.test call")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, skipSlack bool) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "AI Chorus Doctor")
	fmt.Fprintln(out, "================")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, cfgResult := checkConfig(configPath)
	results := []doctor.Result{cfgResult}
	if cfg == nil {
		doctor.Print(out, results)
		return fmt.Errorf("1 check(s) failed")
	}

	for _, s := range cfg.EnabledServices() {
		results = append(results, doctor.CheckEndpoint(ctx, s.Name, s.Endpoint))
		results = append(results, checkProfile(s))
	}

	secrets := cfg.Slack.Mode == config.SlackModeEvents
	results = append(results,
		doctor.CheckSecret("Slack bot token", cfg.Slack.BotToken, true, "needed to post replies"),
		doctor.CheckSecret("Slack signing secret", cfg.Slack.SigningSecret, secrets, "needed to verify Events API requests"),
		doctor.CheckSecret("OpenAI API key", cfg.Transcription.APIKey, false, "voice messages will not be transcribed"),
	)
	if cfg.Slack.Mode == config.SlackModeSocket {
		results = append(results, doctor.CheckSecret("Slack app token", cfg.Slack.AppToken, true, "needed for Socket Mode"))
	}
	if !skipSlack && cfg.Slack.BotToken != "" {
		results = append(results, checkSlackAuth(ctx, cfg.Slack.BotToken))
	}
	if cfg.History.Enabled() {
		results = append(results, checkHistory(cfg.History))
	}

	if failed := doctor.Print(out, results); failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkConfig(path string) (*config.Config, doctor.Result) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, doctor.Result{Name: "Config file", Status: doctor.Fail, Detail: err.Error()}
	}
	_, statErr := os.Stat(path)
	cfg, err := config.Load(path, true)
	if err != nil {
		return nil, doctor.Result{Name: "Config file", Status: doctor.Fail, Detail: fmt.Sprintf("%s: %v", path, err)}
	}
	if os.IsNotExist(statErr) {
		return cfg, doctor.Result{Name: "Config file", Status: doctor.Warn, Detail: fmt.Sprintf("%s not found, using defaults", path)}
	}
	return cfg, doctor.Result{Name: "Config file", Status: doctor.Pass, Detail: path}
}

func checkProfile(s config.ServiceConfig) doctor.Result {
	name := fmt.Sprintf("Selectors %s", s.Name)
	if _, err := driver.ProfileFor(s.Name, s.Selectors); err != nil {
		return doctor.Result{Name: name, Status: doctor.Fail, Detail: err.Error()}
	}
	if len(s.Selectors) > 0 {
		return doctor.Result{Name: name, Status: doctor.Pass, Detail: fmt.Sprintf("%d override(s)", len(s.Selectors))}
	}
	return doctor.Result{Name: name, Status: doctor.Pass, Detail: "built-in"}
}

func checkSlackAuth(ctx context.Context, token string) doctor.Result {
	client, err := slackio.NewClient(slackio.ClientOpts{BotToken: token})
	if err != nil {
		return doctor.Result{Name: "Slack auth", Status: doctor.Fail, Detail: err.Error()}
	}
	if err := client.Connect(ctx); err != nil {
		return doctor.Result{Name: "Slack auth", Status: doctor.Fail, Detail: err.Error()}
	}
	return doctor.Result{Name: "Slack auth", Status: doctor.Pass, Detail: "bot user " + client.BotUserID()}
}

func checkHistory(h config.HistoryConfig) doctor.Result {
	store, err := history.Open(h.Driver, h.DSN)
	if err != nil {
		return doctor.Result{Name: "History store", Status: doctor.Fail, Detail: err.Error()}
	}
	store.Close()
	return doctor.Result{Name: "History store", Status: doctor.Pass, Detail: h.Driver}
}
