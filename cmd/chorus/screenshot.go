package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/capture"
	"github.com/zulandar/aichorus/internal/registry"
)

func newScreenshotCmd() *cobra.Command {
	var (
		configPath string
		dir        string
	)

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the current page of every connected service",
		Long:  "Connects to every configured browser and saves a screenshot of each service's current page.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScreenshot(cmd, configPath, dir)
		},
	}

	configPathFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "output directory (default: screenshots.dir)")
	return cmd
}

func runScreenshot(cmd *cobra.Command, configPath, dir string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.Screenshots.Dir
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext(out)
	defer cancel()

	session, err := connectBrowsers(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer session.Close(logger)

	capturer, err := capture.New(capture.Opts{
		Pages:    session.registry,
		Dir:      dir,
		Timeout:  cfg.Screenshots.Timeout,
		FullPage: cfg.Screenshots.IsFullPage(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return captureAll(ctx, out, capturer, session.registry.Status())
}

// captureAll snapshots every connected service. One failure does not stop
// the others.
func captureAll(ctx context.Context, out io.Writer, capturer *capture.Capturer, statuses []registry.Status) error {
	saved, failed := 0, 0
	for _, st := range statuses {
		if !st.Connected {
			fmt.Fprintf(out, "  %-10s skipped (not connected)\n", st.Name)
			continue
		}
		art, err := capturer.Capture(ctx, st.Name, "manual", "")
		if err != nil {
			fmt.Fprintf(out, "  %-10s failed: %v\n", st.Name, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  %-10s %s\n", st.Name, art.Path)
		saved++
	}
	fmt.Fprintf(out, "%d screenshot(s) saved to %s\n", saved, capturer.Dir())
	if saved == 0 && failed > 0 {
		return fmt.Errorf("no screenshots captured")
	}
	return nil
}
