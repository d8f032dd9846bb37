package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"encapsia.io/cli/internal/application/services"
)

// NewSettingsCommand creates the command group for the local settings file
func NewSettingsCommand(container *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and initialize the local CLI settings",
		Long: `Local settings live in a YAML file (default ~/.encapsia/config.yaml) and are
overridden by ENCAPSIA_* environment variables and command line flags.`,
	}

	cmd.AddCommand(newSettingsShowCommand(container))
	cmd.AddCommand(newSettingsPathCommand(container))
	cmd.AddCommand(newSettingsInitCommand(container))
	return cmd
}

func (c *CLIContainer) settings() *services.ConfigurationService {
	return services.NewConfigurationService(c.Backend.ConfigRepository(), c.Backend.Logger())
}

func newSettingsShowCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(c.Backend.Configuration())
			if err != nil {
				return fmt.Errorf("failed to marshal settings: %w", err)
			}
			fmt.Fprintf(c.stdout(), "# %s\n%s", c.settings().GetConfigurationPath(), data)
			return nil
		},
	}
}

func newSettingsPathCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the path of the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(c.stdout(), c.settings().GetConfigurationPath())
			return nil
		},
	}
}

func newSettingsInitCommand(c *CLIContainer) *cobra.Command {
	var force, current bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file",
		Long: `Write the default settings to the settings file. With --current the effective
settings are written instead, so flags and environment variables given now are
kept. An existing file is only replaced with --force, after a backup copy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc := c.settings()
			p := c.printer()

			cfg := c.Backend.Configuration()
			if !current {
				cfg = nil
			}
			backup, err := svc.InitializeConfiguration(cfg, force)
			if err != nil {
				return err
			}
			if backup != "" {
				p.Log("Backed up previous settings to %s", backup)
			}
			p.Output("Wrote %s", svc.GetConfigurationPath())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing settings file")
	cmd.Flags().BoolVar(&current, "current", false, "Write the effective settings instead of the defaults")
	return cmd
}
