package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"encapsia.io/cli/internal/application/ports"
)

// NewConfigCommand creates the server configuration command group
func NewConfigCommand(container *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Get and set server configuration",
		Long: `Read and change the configuration stored on the server. Values are JSON.

Examples:
  encapsia config get feature_flags
  encapsia config set max_upload_mb 50
  encapsia config set banner '{"text": "Maintenance tonight"}'
  encapsia config save backup.json
  encapsia config load backup.json`,
	}

	cmd.AddCommand(newConfigShowCommand(container))
	cmd.AddCommand(newConfigGetCommand(container))
	cmd.AddCommand(newConfigSetCommand(container))
	cmd.AddCommand(newConfigDeleteCommand(container))
	cmd.AddCommand(newConfigSaveCommand(container))
	cmd.AddCommand(newConfigLoadCommand(container))

	return cmd
}

func newConfigShowCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the entire configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServer(func(server ports.ServerAPI) error {
				all, err := server.GetAllConfig(cmd.Context())
				if err != nil {
					return err
				}
				return writeJSON(c.stdout(), all)
			})
		},
	}
}

func newConfigGetCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Show the value stored against KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServer(func(server ports.ServerAPI) error {
				value, err := server.GetConfig(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(c.stdout(), value)
			})
		},
	}
}

func newConfigSetCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store a JSON VALUE against KEY",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := json.RawMessage(args[1])
			if !json.Valid(value) {
				return fmt.Errorf("VALUE must be JSON; quote strings as '\"text\"'")
			}
			return c.withServer(func(server ports.ServerAPI) error {
				return server.SetConfig(cmd.Context(), args[0], value)
			})
		},
	}
}

func newConfigDeleteCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete the value stored against KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServer(func(server ports.ServerAPI) error {
				return server.DeleteConfig(cmd.Context(), args[0])
			})
		},
	}
}

func newConfigSaveCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "save FILE",
		Short: "Save the entire configuration to FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withServer(func(server ports.ServerAPI) error {
				all, err := server.GetAllConfig(cmd.Context())
				if err != nil {
					return err
				}
				f, err := os.Create(args[0])
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", args[0], err)
				}
				defer f.Close()
				if err := writeJSON(f, all); err != nil {
					return err
				}
				c.printer().Log("Saved %d keys to %s", len(all), args[0])
				return nil
			})
		},
	}
}

func newConfigLoadCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "load FILE",
		Short: "Merge the configuration in FILE into the server configuration",
		Long: `Merge the keys of a JSON object into the server configuration. Comments and
trailing commas are allowed in FILE.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := readConfigFile(args[0])
			if err != nil {
				return err
			}
			return c.withServer(func(server ports.ServerAPI) error {
				if err := server.SetConfigMulti(cmd.Context(), values); err != nil {
					return err
				}
				c.printer().Log("Loaded %d keys from %s", len(values), args[0])
				return nil
			})
		},
	}
}

// readConfigFile reads a JSON object of configuration values, allowing comments
func readConfigFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(jsonc.ToJSON(data), &values); err != nil {
		return nil, fmt.Errorf("%s must hold a JSON object: %w", path, err)
	}
	return values, nil
}

func (c *CLIContainer) withServer(fn func(server ports.ServerAPI) error) error {
	server, err := c.Backend.Server()
	if err != nil {
		return err
	}
	return fn(server)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}
