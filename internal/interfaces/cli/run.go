package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command group
func NewRunCommand(c *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a server task or view",
	}
	cmd.AddCommand(newRunTaskCommand(c))
	cmd.AddCommand(newRunViewCommand(c))
	return cmd
}

func newRunTaskCommand(c *CLIContainer) *cobra.Command {
	var upload, saveAs string

	cmd := &cobra.Command{
		Use:   "task NAMESPACE FUNCTION [NAME=VALUE...]",
		Short: "Run a task in a plugin namespace",
		Long: `Run FUNCTION in the plugin NAMESPACE and print its output.

Every argument is named and every value is sent as a string in the URL, for
example:

  encapsia run task example_ns jobs.refresh x=3 "greeting=hello stranger"

--upload sends a file as the task's data.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseTaskParams(args[2:])
			if err != nil {
				return err
			}
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}
			p := c.printer()
			p.Log("Running task %s", args[0])

			result, err := server.RunTaskWithData(cmd.Context(), args[0], args[1], params, upload)
			if result == nil {
				return err
			}
			text := taskText(result)
			if err != nil {
				if text != "" {
					p.Error("%s", text)
				}
				return err
			}
			if saveAs != "" {
				if err := os.WriteFile(saveAs, []byte(text), 0o644); err != nil {
					return fmt.Errorf("failed to save result: %w", err)
				}
				p.Log("Saved result to %s", saveAs)
				return nil
			}
			if text != "" {
				p.Output("%s", text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&upload, "upload", "", "File to send to the task as its data")
	cmd.Flags().StringVar(&saveAs, "save-as", "", "File to save the result in instead of printing it")
	return cmd
}

// parseTaskParams reads NAME=VALUE arguments, trimming space around both parts
func parseTaskParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid task argument %q: expected NAME=VALUE", arg)
		}
		params[name] = strings.TrimSpace(value)
	}
	return params, nil
}

func newRunViewCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "view NAMESPACE FUNCTION [ARG...]",
		Short: "Run a view in a plugin namespace",
		Long: `Call the view FUNCTION in the plugin NAMESPACE and print its JSON answer.
ARGs are passed as URL path segments.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}
			out, err := server.RunView(cmd.Context(), args[0], args[1], args[2:])
			if err != nil {
				return err
			}
			c.printJSON(out)
			return nil
		},
	}
}

// NewWhoAmICommand creates the whoami command
func NewWhoAmICommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print information about the owner of the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}
			out, err := server.WhoAmI(cmd.Context())
			if err != nil {
				return err
			}
			c.printJSON(out)
			return nil
		},
	}
}

func (c *CLIContainer) printJSON(raw []byte) {
	if len(raw) == 0 {
		return
	}
	fmt.Fprintln(c.stdout(), indentJSON(raw))
}

