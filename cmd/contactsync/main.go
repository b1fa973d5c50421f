package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lendbridge/contactsync/client"
	"github.com/lendbridge/contactsync/internal/config"
	"github.com/lendbridge/contactsync/internal/logger"
)

var (
	debug       bool
	syncTimeout time.Duration
	log         = consoleLogger()
	cfg         *config.Config
)

func consoleLogger() zerolog.Logger {
	return logger.NewWithWriter("contactsync", zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "contactsync",
		Short:         "Local-first contact repertoire with background sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log = consoleLogger()
			var err error
			cfg, err = config.New(log)
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if debug {
				level = "debug"
			}
			log = logger.WithLevel(log, level)
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().DurationVar(&syncTimeout, "sync-timeout", 30*time.Second,
		"How long to wait for queued remote writes before exiting; 0 leaves them for the next run")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newInviteCmd())
	rootCmd.AddCommand(newUninviteCmd())
	rootCmd.AddCommand(newPullCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRetryCmd())
	rootCmd.AddCommand(newWatchCmd())

	return rootCmd
}

// withClient opens the engine, runs fn, waits for queued writes and closes.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	c, err := client.NewFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close failed")
		}
	}()

	if err := fn(ctx, c); err != nil {
		return err
	}
	return waitForSync(ctx, c)
}

func waitForSync(ctx context.Context, c *client.Client) error {
	if syncTimeout <= 0 || c.SyncState().Outstanding() == 0 {
		return nil
	}
	fctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	if err := c.Flush(fctx); err != nil {
		log.Warn().Err(err).Int("outstanding", c.SyncState().Outstanding()).
			Msg("remote writes still queued; they resume on the next run")
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return err
}
