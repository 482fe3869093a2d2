// Command helix is a small command line client and HTTP proxy for the Twitch
// Helix API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/helix-client/internal/config"
	"github.com/Sternrassler/helix-client/pkg/client"
	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	client *client.Client
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "helix",
		Short:        "Query the Twitch Helix API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", getEnv("HELIX_CONFIG", ""), "path to a TOML config file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.tokenCmd())
	root.AddCommand(a.usersCmd())
	root.AddCommand(a.streamsCmd())
	root.AddCommand(a.gameCmd())
	root.AddCommand(a.followsCmd())
	root.AddCommand(a.chatlogCmd())
	root.AddCommand(a.proxyCmd())

	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Logging()
	if a.verbose {
		logCfg.Level = logging.LevelDebug
	}
	logging.Setup(logCfg)
	a.logger = logging.NewLogger(logging.ComponentClient)

	a.redis, err = cfg.Redis()
	if err != nil {
		return err
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisURL, err)
		}
		a.logger.Info().Str("redis", cfg.RedisURL).Msg("Connected to Redis")
	}

	clientCfg, err := cfg.ClientConfig(a.redis)
	if err != nil {
		return err
	}
	a.client, err = client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create helix client: %w", err)
	}
	return nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
