// Package main is the Fairweather operator CLI. It scores forecasts and
// searches for alternative dates directly against the configured provider,
// without going through the API server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fairweather/internal/alternatives"
	"fairweather/internal/app"
	"fairweather/internal/config"
	"fairweather/internal/external"
	"fairweather/internal/forecasts"
)

// deps are the collaborators a command needs. They are resolved lazily so
// commands such as profiles work without configuration.
type deps struct {
	provider forecasts.Provider
	finder   *alternatives.Finder
}

type loader func(envFile string, logOut io.Writer) (*deps, error)

type cli struct {
	output  string
	envFile string
	verbose bool
	load    loader
	cached  *deps
}

func main() {
	if err := newRootCmd(loadDeps).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(load loader) *cobra.Command {
	c := &cli{load: load}

	root := &cobra.Command{
		Use:          "fairweather",
		Short:        "Score event weather and find better dates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch c.output {
			case formatText, formatJSON, formatYAML:
				return nil
			}
			return fmt.Errorf("unknown output format %q (want %s)", c.output,
				strings.Join([]string{formatText, formatJSON, formatYAML}, ", "))
		},
	}
	root.PersistentFlags().StringVarP(&c.output, "output", "o", formatText, "output format: text, json or yaml")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", "", "dotenv file to load before the environment")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log provider activity to stderr")

	root.AddCommand(
		c.scoreCmd(),
		c.alternativesCmd(),
		c.seriesCmd(),
		c.profilesCmd(),
	)
	return root
}

func (c *cli) deps(cmd *cobra.Command) (*deps, error) {
	if c.cached != nil {
		return c.cached, nil
	}
	logOut := io.Discard
	if c.verbose {
		logOut = cmd.ErrOrStderr()
	}
	d, err := c.load(c.envFile, logOut)
	if err != nil {
		return nil, err
	}
	c.cached = d
	return d, nil
}

// loadDeps builds a cached OpenWeather provider and a finder from the
// environment. Stores and metrics are not needed by the CLI.
func loadDeps(envFile string, logOut io.Writer) (*deps, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := app.NewLogger(cfg.LogLevel, logOut)

	client := external.NewOpenWeatherClient(nil, external.OpenWeatherConfig{
		APIKey:  cfg.Weather.APIKey,
		BaseURL: cfg.Weather.BaseURL,
		Horizon: cfg.Weather.Horizon(),
		Logger:  logger,
	})
	provider := forecasts.NewCachedProvider(client, forecasts.CacheOptions{
		TTL:          cfg.Weather.CacheTTL,
		MaximumSize:  cfg.Weather.CacheSize,
		FetchTimeout: cfg.Weather.FetchTimeout,
	}, logger)
	finder := alternatives.NewFinder(provider, logger, alternatives.WithConcurrency(cfg.Finder.Concurrency))
	return &deps{provider: provider, finder: finder}, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
