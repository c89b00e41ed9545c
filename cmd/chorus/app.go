package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/aichorus/internal/browser"
	"github.com/zulandar/aichorus/internal/config"
	"github.com/zulandar/aichorus/internal/driver"
	"github.com/zulandar/aichorus/internal/logging"
	"github.com/zulandar/aichorus/internal/registry"
	"github.com/zulandar/aichorus/internal/relay"
	"go.uber.org/zap"
)

// loadConfig reads .env and then the YAML config. A missing config file
// falls back to defaults plus environment.
func loadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(path, true)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(out io.Writer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// registryServices lists the enabled services as registry entries.
func registryServices(cfg *config.Config) []registry.Service {
	var out []registry.Service
	for _, s := range cfg.EnabledServices() {
		out = append(out, registry.Service{Name: s.Name, Endpoint: s.Endpoint})
	}
	return out
}

// driverOptions converts a service's configured options.
func driverOptions(o config.OptionsConfig) driver.Options {
	return driver.Options{
		Model:            o.Model,
		Search:           o.Search,
		DeepResearch:     o.DeepResearch,
		ExtendedThinking: o.ExtendedThinking,
	}
}

// buildTargets builds one driver per enabled service from its profile and
// selector overrides.
func buildTargets(cfg *config.Config, logger *zap.Logger) ([]relay.Target, error) {
	var targets []relay.Target
	for _, s := range cfg.EnabledServices() {
		profile, err := driver.ProfileFor(s.Name, s.Selectors)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", s.Name, err)
		}
		targets = append(targets, relay.Target{
			Driver:  driver.New(profile, logger),
			Options: driverOptions(s.Options),
		})
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("no services enabled")
	}
	return targets, nil
}

// browserSession is a playwright engine plus the registry dialled through it.
type browserSession struct {
	engine   *browser.Engine
	registry *registry.Registry
}

// connectBrowsers starts the playwright driver, connects every enabled
// service and prints the connection banner.
func connectBrowsers(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (*browserSession, error) {
	engine, err := browser.NewEngine()
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(registry.Opts{Dialer: engine, Logger: logger})
	if err != nil {
		engine.Stop()
		return nil, err
	}
	statuses := reg.ConnectAll(ctx, registryServices(cfg))
	printBanner(out, statuses)
	return &browserSession{engine: engine, registry: reg}, nil
}

// Close disconnects every service (the browsers keep running) and stops
// the playwright driver.
func (b *browserSession) Close(logger *zap.Logger) {
	if err := b.registry.DisconnectAll(); err != nil {
		logger.Warn("disconnect", zap.Error(err))
	}
	if err := b.engine.Stop(); err != nil {
		logger.Warn("stop playwright", zap.Error(err))
	}
}

// printBanner writes one line per service with its connection state.
func printBanner(out io.Writer, statuses []registry.Status) {
	fmt.Fprintln(out, "Browser connections")
	fmt.Fprintln(out, "===================")
	connected := 0
	for _, st := range statuses {
		state := "Connected"
		if st.Connected {
			connected++
		} else {
			state = "Failed"
			if st.Error != "" {
				state += " (" + st.Error + ")"
			}
		}
		fmt.Fprintf(out, "  %-10s %-28s %s\n", driver.DisplayName(st.Name), st.Endpoint, state)
	}
	fmt.Fprintf(out, "%d/%d services connected\n", connected, len(statuses))
}

// configPathFlag registers the shared --config flag.
func configPathFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "config", "c", defaultConfigPath, "path to AI Chorus config file")
}
