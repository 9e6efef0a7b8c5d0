package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/assetcdn/internal/environment"
	"github.com/BadgerOps/assetcdn/internal/pathresolve"
)

var (
	detectURL  string
	detectHost string
)

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify a page location and derive its base path",
		Long: `Report whether a page location counts as local development and which
deployment base path local URLs would be built on.

Without --url or --host the configured site.url is used.`,
		Example: `  assetcdn detect --url http://localhost:3000/my-resume/fullstack
  assetcdn detect --url https://example.com/my-resume/docs/index.html
  assetcdn detect --host 127.0.0.1:8000`,
		RunE: detectRun,
	}

	cmd.Flags().StringVar(&detectURL, "url", "", "page URL to inspect")
	cmd.Flags().StringVar(&detectHost, "host", "", "host[:port] to classify")

	return cmd
}

func detectRun(cmd *cobra.Command, args []string) error {
	if detectHost != "" {
		host, port := environment.SplitHostPort(detectHost)
		class := environment.Deployed
		if environment.IsLocalDevelopment(host, port) {
			class = environment.LocalDevelopment
		}
		fmt.Printf("Host:           %s\n", host)
		fmt.Printf("Port:           %s\n", orNone(port))
		fmt.Printf("Classification: %s\n", class)
		return nil
	}

	location := detectURL
	var routes []string
	if globalCfg != nil {
		routes = globalCfg.Site.Routes
		if location == "" {
			location = globalCfg.Site.URL
		}
	}
	if location == "" {
		return fmt.Errorf("no location: pass --url or --host, or set site.url")
	}

	resolver := pathresolve.NewResolver(routes)
	base, err := resolver.ResolveBasePath(location)

	fmt.Printf("Location:       %s\n", location)
	fmt.Printf("Classification: %s\n", environment.Detect(location))
	fmt.Printf("Origin:         %s\n", orNone(pathresolve.Origin(location)))
	if err != nil {
		fmt.Printf("Base path:      (root, %v)\n", err)
	} else {
		fmt.Printf("Base path:      %s\n", orNone(base))
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
