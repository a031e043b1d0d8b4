// Command kwalarm flags restricted keyword phrases in job postings.
//
//	kwalarm scan <file|url>       one-shot scan of a saved page or a fetch
//	kwalarm watch <url>           live scan of a Chrome tab
//	kwalarm serve [file|url]      HTTP and MCP control surface over one page
//	kwalarm keywords get|set|reset|list
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/kwalarm/config"
	"github.com/hazyhaar/kwalarm/keystore"
)

// errMatched makes scan exit with status 3 under --fail-on-match.
var errMatched = errors.New("restricted terms found")

var (
	configPath string
	logLevel   string
	siteFlag   string
)

var rootCmd = &cobra.Command{
	Use:           "kwalarm",
	Short:         "Flag restricted keyword phrases in job postings",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("KWALARM_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&siteFlag, "site", "", "resolve pages as this site (linkedin, indeed, glassdoor)")
}

func main() {
	err := rootCmd.Execute()
	switch {
	case err == nil:
	case errors.Is(err, errMatched):
		os.Exit(3)
	default:
		fmt.Fprintln(os.Stderr, "kwalarm:", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// env is the configuration shared by every subcommand.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func setup() (*env, error) {
	logger := newLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if siteFlag != "" {
		cfg.Site.Force = siteFlag
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) openStore() (*keystore.Store, error) {
	return keystore.Open(e.cfg.Store.Path,
		keystore.WithDefaults(e.cfg.Keywords),
		keystore.WithLogger(e.logger))
}
