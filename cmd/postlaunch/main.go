package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/postlaunch/internal/config"
)

const (
	appName = "postlaunch"
	version = "v1.0.0"
)

// cli carries state shared by every subcommand
type cli struct {
	configPath string
	flags      *config.Flags
	cfg        *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:     appName,
		Short:   "Launch tokens from verified social posts",
		Version: version,
		Long: `postlaunch turns an authenticated agent's social post into an on-chain
token launch: it verifies the post, validates the descriptor, reserves the
symbol, publishes metadata, creates, signs and broadcasts the launch batch, and
records the result in the launch ledger.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.load,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "postlaunch.yaml", "configuration file")
	c.flags = config.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(c))
	root.AddCommand(newSubmitCmd(c))
	root.AddCommand(newResumeCmd(c))
	root.AddCommand(newLedgerCmd(c))
	return root
}

// load reads .env, the config file, env overrides and flags, then configures
// logging. Validation is left to each command.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env")
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.flags.Apply(cfg)
	if err := setupLogging(cfg.Log); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func setupLogging(lc config.LogConfig) error {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	console := lc.Format == "console" || (lc.Format == "auto" && term.IsTerminal(int(os.Stderr.Fd())))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", appName).Logger()
	}
	return nil
}
