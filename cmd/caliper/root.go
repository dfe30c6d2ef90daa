package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"caliper/internal/config"
	"caliper/internal/errors"
	"caliper/internal/slogutil"
	"caliper/internal/version"
)

var (
	configPath string
	verbosity  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "caliper",
	Short: "Caliper - versioned metrics for Python packages",
	Long: `Caliper downloads every released version of a package, replays them as a
git history and extracts metrics across versions: changed lines, file counts and
the functions, classes and imports each version exposes.

The extracted facts can then back a trace of a Python program to find calls
that would break against other versions of a package.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("caliper version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: ./"+config.DefaultFileName+" when present)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log output (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all log output")
}

// env is what every command needs: the loaded config and a logger.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func (r *env) Close() {
	if r.closer != nil {
		_ = r.closer.Close()
	}
}

// loadEnv reads the config and builds the logger from it and the
// verbosity flags.
func loadEnv() (*env, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "loading config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ConfigInvalid, "invalid config", err)
	}

	level := slogutil.LevelFromVerbosity(verbosity, quiet, slogutil.LevelFromString(cfg.Logging.Level))
	w, closer, err := slogutil.Output(os.Stderr, cfg.Logging.File, cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
	if err != nil {
		return nil, errors.New(errors.ConfigInvalid, "logging.file", err)
	}
	return &env{cfg: cfg, logger: slogutil.NewLogger(w, level), closer: closer}, nil
}
