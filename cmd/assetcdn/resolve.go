package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetcdn/internal/resource"
)

var (
	resolveNoFallback    bool
	resolveNoCache       bool
	resolveLocalBasePath string
	resolveWait          time.Duration
)

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve PATH...",
		Short: "Resolve asset paths to delivery URLs",
		Long: `Run one mirror health check, then print the URL each path resolves to and
where it points (mirror, local or passthrough).

If the health check has not finished within --wait, paths resolve against
the primary mirror.`,
		Example: `  assetcdn resolve images/avatar.png
  assetcdn resolve --no-fallback scripts/app.js
  assetcdn resolve --site-url http://localhost:5173/ images/logo.svg`,
		Args: cobra.MinimumNArgs(1),
		RunE: resolveRun,
	}

	cmd.Flags().BoolVar(&resolveNoFallback, "no-fallback", false, "return paths unchanged instead of local URLs when no mirror is up")
	cmd.Flags().BoolVar(&resolveNoCache, "no-cache", false, "bypass the resolution cache")
	cmd.Flags().StringVar(&resolveLocalBasePath, "local-base-path", "", "base path for local URLs (overrides config and detection)")
	cmd.Flags().DurationVar(&resolveWait, "wait", 10*time.Second, "maximum time to wait for the health check")

	return cmd
}

func resolveRun(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveWait)
	defer cancel()
	if err := mgr.Initialize(ctx); err != nil {
		logger.Warn("health check incomplete, resolving against primary mirror", "error", err)
	}

	opts := resource.Options{
		EnableFallback: !resolveNoFallback,
		CacheURLs:      !resolveNoCache,
		LocalBasePath:  resolveLocalBasePath,
	}

	for _, p := range args {
		res := mgr.Resolve(p, opts)
		fmt.Printf("%-40s %-12s %s\n", p, res.Source, res.URL)
	}
	return nil
}
