package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/assetcdn/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect assetcdn configuration. Subcommands print the effective
configuration or check it for problems.`,
		Example: `  assetcdn config show
  assetcdn config validate --config ./assetcdn.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration in YAML format: the loaded file
over built-in defaults, with command-line overrides applied.`,
		Example: `  assetcdn config show
  assetcdn config show --config /etc/assetcdn/assetcdn.yaml`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	slog.Default().Debug("showing configuration")

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration for problems",
		Long: `Report every problem in the configuration: malformed or duplicate mirror
URLs, non-positive limits and an unparseable site.url. Exits non-zero if any
problem is found.`,
		Example: `  assetcdn config validate`,
		RunE:    configValidateRun,
	}
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	err := globalCfg.Validate()
	if err == nil {
		fmt.Printf("Configuration OK (%d mirrors)\n", len(globalCfg.Endpoints()))
		return nil
	}

	problems := configProblems(err)
	fmt.Printf("Configuration has %d problem(s):\n", len(problems))
	for _, p := range problems {
		fmt.Printf("  - %v\n", p)
	}
	return err
}

// configProblems splits a validation error into its individual problems.
func configProblems(err error) []error {
	var problems []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if errors.Is(e, config.ErrConfigurationInvalid) {
				continue
			}
			problems = append(problems, multierr.Errors(e)...)
		}
	}
	if len(problems) == 0 {
		problems = []error{err}
	}
	return problems
}
