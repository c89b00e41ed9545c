package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/driver"
	"github.com/zulandar/aichorus/internal/history"
	"github.com/zulandar/aichorus/internal/logging"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent submissions",
		Long:  "Lists the most recent relayed messages and each service's outcome from the history store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, configPath, limit)
		},
	}

	configPathFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultRecentLimit, "number of submissions to show")
	return cmd
}

func runHistory(cmd *cobra.Command, configPath string, limit int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.History.Enabled() {
		return fmt.Errorf("history is disabled (set history.driver and history.dsn)")
	}
	store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	subs, err := store.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), subs)
	return nil
}

func printHistory(out io.Writer, subs []history.Submission) {
	if len(subs) == 0 {
		fmt.Fprintln(out, "No submissions recorded.")
		return
	}
	for _, s := range subs {
		fmt.Fprintf(out, "%s  %s  #%s thread %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), s.RequestID, s.Channel, s.ThreadTS)
		if s.Prompt != "" {
			fmt.Fprintf(out, "    prompt: %q\n", logging.Preview(s.Prompt, 60))
		}
		if s.TranscriptError != "" {
			fmt.Fprintf(out, "    transcription: %s\n", s.TranscriptError)
		}
		for _, r := range s.Results {
			if r.Succeeded() {
				fmt.Fprintf(out, "    %-8s ok    %s (%d attempt(s), %dms)\n", driver.DisplayName(r.Service), r.URL, r.Attempts, r.DurationMs)
			} else {
				fmt.Fprintf(out, "    %-8s error %s\n", driver.DisplayName(r.Service), r.Error)
			}
		}
	}
}
