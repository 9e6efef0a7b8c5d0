package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetcdn/internal/config"
	"github.com/BadgerOps/assetcdn/internal/resource"
)

var (
	// Global flags
	cfgPath   string
	siteURL   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger
)

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assetcdn",
		Short: "Resolve static asset paths to the fastest healthy mirror",
		Long: `assetcdn resolves logical asset paths (images, scripts, fonts) to delivery
URLs. It probes a list of CDN mirrors, ranks them by latency, and falls back to
the site's own origin when none respond or when the page runs on a local
development server.`,
		Example: `  assetcdn resolve images/avatar.png fonts/inter.woff2
  assetcdn health
  assetcdn detect --url http://localhost:3000/my-resume/fullstack
  assetcdn serve --listen 127.0.0.1:8080
  assetcdn config validate`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&siteURL, "site-url", "", "override site.url, the page location used for detection")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	cmd.AddCommand(
		newResolveCmd(),
		newHealthCmd(),
		newDetectCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

func loadConfig() error {
	if cfgPath == "" {
		var err error
		cfgPath, err = config.FindConfigFile()
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
	}

	if cfgPath != "" {
		var err error
		globalCfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		globalCfg = config.DefaultConfig()
	}

	if siteURL != "" {
		globalCfg.Site.URL = siteURL
	}

	if !quiet {
		logger.Debug("config loaded", "path", cfgPath, "mirrors", len(globalCfg.CDN.MirrorBaseURLs))
	}
	return nil
}

// newManager builds a resource manager from the loaded config.
func newManager(opts ...resource.Option) (*resource.Manager, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	l := logger
	if l == nil {
		l = slog.Default()
	}
	return resource.New(globalCfg, append([]resource.Option{resource.WithLogger(l)}, opts...)...)
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
