// Command oauth-engine runs the token engine and administers its clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/oauth-engine"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type rootOptions struct {
	envFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "oauth-engine",
		Short:         "OAuth2 token engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(
		newServeCommand(opts),
		newClientCommand(opts),
		newKeygenCommand(),
		newSweepCommand(opts),
	)
	return root
}

// load reads the configuration and builds a logger for it.
func (o *rootOptions) load() (*oauth.Config, *slog.Logger, error) {
	cfg, err := oauth.LoadConfig(o.envFile)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	return cfg, logger, nil
}

// openEngine builds an engine for one-shot admin commands.
func (o *rootOptions) openEngine(ctx context.Context) (*oauth.Engine, *oauth.Config, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage == oauth.StorageMemory {
		logger.Warn("In-memory storage does not outlive this command")
	}
	engine, err := oauth.NewEngine(ctx, cfg, oauth.EngineOptions{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return engine, cfg, nil
}
