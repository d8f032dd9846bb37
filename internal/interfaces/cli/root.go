package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/infrastructure/config"
)

var (
	Version   = "dev"     // Overridden by ldflags
	BuildTime = "unknown" // Overridden by ldflags
)

// GlobalOptions are the persistent flags every command shares
type GlobalOptions struct {
	Debug        bool
	LogLevel     string
	ConfigFile   string
	PluginsDir   string
	Sources      []string
	SearchPolicy string
	Host         string
	HostEnvVar   string
	TokenEnvVar  string
}

// Backend builds the collaborators commands run against. Configure is called
// once the persistent flags are parsed.
type Backend interface {
	Configure(opts GlobalOptions) error
	Configuration() *ports.Configuration
	ConfigRepository() ports.ConfigurationRepository
	Logger() ports.LoggingGateway
	Store() ports.ArchiveStore
	Builder() ports.ArchiveBuilder

	// Resolver searches the given source descriptors, or the configured
	// sources when descriptors is empty
	Resolver(descriptors []string) (ports.ArchiveResolver, error)

	// Server returns the API client, locating credentials on first use
	Server() (ports.ServerAPI, error)

	// PartTracker remembers which plugin parts were sent by dev-update
	PartTracker() ports.PartTracker

	// WebappFetcher reads legacy webapp builds from an S3 bucket or prefix
	WebappFetcher(s3Directory string) (ports.WebappFetcher, error)
}

// CLIContainer holds all the dependencies for CLI commands
type CLIContainer struct {
	Backend Backend
	Out     io.Writer
	Err     io.Writer

	// Interactive enables the spinner progress display. Nil means detect
	// whether Out is a terminal.
	Interactive *bool

	opts GlobalOptions
}

func (c *CLIContainer) stdout() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *CLIContainer) stderr() io.Writer {
	if c.Err == nil {
		return os.Stderr
	}
	return c.Err
}

// globalFlagSet registers the persistent flags on a standalone flag set
func globalFlagSet(opts *GlobalOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet("global", pflag.ContinueOnError)
	fs.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&opts.ConfigFile, "config", "", "Config file path (default is $HOME/.encapsia/config.yaml)")
	fs.StringVar(&opts.PluginsDir, "plugins-dir", "", "Local plugins store directory")
	fs.StringArrayVar(&opts.Sources, "source", nil, "Upstream source (directory, archive URL or s3://bucket/prefix); repeatable, replaces configured sources")
	fs.StringVar(&opts.SearchPolicy, "search-policy", "", "Upstream search policy (first-match or merge-all)")
	fs.StringVar(&opts.Host, "host", "", "Name of the server entry in ~/.encapsia/credentials.toml")
	fs.StringVar(&opts.HostEnvVar, "host-env-var", config.DefaultHostEnvVar, "Environment variable holding the server hostname")
	fs.StringVar(&opts.TokenEnvVar, "token-env-var", config.DefaultTokenEnvVar, "Environment variable holding the server token")
	return fs
}

// NewRootCommand creates the encapsia command tree
func NewRootCommand(container *CLIContainer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "encapsia",
		Short: "Encapsia CLI - manage plugins and server configuration",
		Long: `Encapsia CLI keeps a local store of plugin archives in step with
upstream sources and installs plugins on Encapsia servers.

Plugins are requested as NAME[+VARIANT][@CONSTRAINT], where the constraint is
an exact version, a version prefix such as 1.2, "latest" (the default),
"latest-pre" or "existing".`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if container.Backend == nil {
				return nil
			}
			if err := container.Backend.Configure(container.opts); err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return nil
		},
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} version {{.Version}}\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
		BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH))
	rootCmd.SetOut(container.stdout())
	rootCmd.SetErr(container.stderr())

	rootCmd.PersistentFlags().AddFlagSet(globalFlagSet(&container.opts))

	rootCmd.AddCommand(NewPluginsCommand(container))
	rootCmd.AddCommand(NewConfigCommand(container))
	rootCmd.AddCommand(NewSettingsCommand(container))
	rootCmd.AddCommand(NewRunCommand(container))
	rootCmd.AddCommand(NewWhoAmICommand(container))
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "encapsia version %s\nBuild time: %s\nGo version: %s\nPlatform: %s/%s\n",
				Version, BuildTime, goVersion(), runtime.GOOS, runtime.GOARCH)
		},
	}
}

// goVersion returns the Go version used to build the binary
func goVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.GoVersion
	}
	return "unknown"
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context, container *CLIContainer) {
	rootCmd := NewRootCommand(container)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(container.stderr(), errorStyle.Render(fmt.Sprintf("Error: %v", err)))
		os.Exit(1)
	}
}
