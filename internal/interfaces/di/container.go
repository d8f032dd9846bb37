package di

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/infrastructure/api"
	"encapsia.io/cli/internal/infrastructure/builder"
	"encapsia.io/cli/internal/infrastructure/config"
	"encapsia.io/cli/internal/infrastructure/logging"
	"encapsia.io/cli/internal/infrastructure/store"
	"encapsia.io/cli/internal/infrastructure/upstream"
	"encapsia.io/cli/internal/interfaces/cli"
)

// Container holds all application dependencies. Components are built by
// Configure once the command line flags are known.
type Container struct {
	// Configuration
	ConfigRepo *config.CompositeConfigRepository
	Config     *ports.Configuration

	// Infrastructure
	Log           *logging.HCLogGateway
	ArchiveStore  *store.FilesystemStore
	SourceFactory *upstream.SourceFactory
	ArchiveBuild  *builder.TarballBuilder
	Tracker       *builder.FileTracker
	credentialOps config.CredentialOptions

	// CLI
	CLIContainer *cli.CLIContainer

	logOutput io.Writer

	serverOnce sync.Once
	server     *api.EncapsiaGateway
	serverErr  error
}

// NewContainer creates the dependency injection container. Logs go to stderr.
func NewContainer() *Container {
	return NewContainerWithOutput(os.Stdout, os.Stderr)
}

// NewContainerWithOutput creates a container writing command output to out and logs to errOut
func NewContainerWithOutput(out, errOut io.Writer) *Container {
	c := &Container{logOutput: errOut}
	c.CLIContainer = &cli.CLIContainer{
		Backend: c,
		Out:     out,
		Err:     errOut,
	}
	return c
}

// GetCLIContainer returns the CLI container for command execution
func (c *Container) GetCLIContainer() *cli.CLIContainer {
	return c.CLIContainer
}

// Configure loads the configuration with the flag overrides applied and
// wires the components that depend on it
func (c *Container) Configure(opts cli.GlobalOptions) error {
	c.ConfigRepo = config.NewCompositeConfigRepositoryWithFile(opts.ConfigFile)
	c.ConfigRepo.AddSource(config.NewStaticConfigSource("flags", 0, flagConfiguration(opts)))

	appConfig, err := c.ConfigRepo.Load()
	if err != nil {
		return err
	}
	c.Config = appConfig

	c.Log = logging.NewHCLogGateway(c.logOutput, ports.ParseLogLevel(appConfig.LogLevel))
	c.Log.Log(ports.LogLevelDebug, "Configuration loaded", map[string]interface{}{
		"config_file":   c.ConfigRepo.GetConfigPath(),
		"plugins_dir":   appConfig.PluginsDir,
		"sources":       appConfig.Sources,
		"search_policy": appConfig.SearchPolicy,
	})

	c.ArchiveStore = store.NewFilesystemStore(appConfig.PluginsDir, c.Log.Named("store"))
	c.SourceFactory = &upstream.SourceFactory{
		HTTPClient: &http.Client{Timeout: appConfig.RequestTimeout},
		UserAgent:  userAgent(),
		S3Options: upstream.S3Options{
			Region:    appConfig.S3.Region,
			Endpoint:  appConfig.S3.Endpoint,
			PathStyle: appConfig.S3.PathStyle,
		},
		Logger: c.Log.Named("upstream"),
	}
	c.ArchiveBuild = builder.NewTarballBuilder()
	c.Tracker = builder.NewFileTracker()
	c.credentialOps = config.CredentialOptions{
		Host:        opts.Host,
		HostEnvVar:  opts.HostEnvVar,
		TokenEnvVar: opts.TokenEnvVar,
	}
	return nil
}

// flagConfiguration turns the persistent flags into a configuration source
func flagConfiguration(opts cli.GlobalOptions) *ports.Configuration {
	cfg := &ports.Configuration{
		PluginsDir:   opts.PluginsDir,
		Sources:      opts.Sources,
		SearchPolicy: opts.SearchPolicy,
		LogLevel:     opts.LogLevel,
	}
	if opts.Debug {
		cfg.LogLevel = string(ports.LogLevelDebug)
	}
	return cfg
}

// Configuration returns the loaded configuration
func (c *Container) Configuration() *ports.Configuration {
	return c.Config
}

// ConfigRepository returns the repository the configuration was loaded from
func (c *Container) ConfigRepository() ports.ConfigurationRepository {
	return c.ConfigRepo
}

// Logger returns the logging gateway
func (c *Container) Logger() ports.LoggingGateway {
	return c.Log
}

// Store returns the local plugin store
func (c *Container) Store() ports.ArchiveStore {
	return c.ArchiveStore
}

// Builder returns the archive builder
func (c *Container) Builder() ports.ArchiveBuilder {
	return c.ArchiveBuild
}

// PartTracker returns the dev-update part tracker
func (c *Container) PartTracker() ports.PartTracker {
	return c.Tracker
}

// WebappFetcher reads legacy webapps through the shared S3 client
func (c *Container) WebappFetcher(s3Directory string) (ports.WebappFetcher, error) {
	tree, err := c.SourceFactory.Tree(s3Directory)
	if err != nil {
		return nil, err
	}
	return builder.NewLegacyWebapps(tree), nil
}

// Resolver creates a resolver over descriptors, or over the configured
// sources with the configured policy when descriptors is empty
func (c *Container) Resolver(descriptors []string) (ports.ArchiveResolver, error) {
	policy := upstream.PolicyFirstMatch
	if len(descriptors) == 0 {
		descriptors = c.Config.Sources
		p, err := upstream.ParseSearchPolicy(c.Config.SearchPolicy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	sources, err := c.SourceFactory.ParseAll(descriptors)
	if err != nil {
		return nil, err
	}
	return upstream.NewResolver(sources, policy, c.Log.Named("upstream")), nil
}

// Server returns the API gateway, locating credentials on first use
func (c *Container) Server() (ports.ServerAPI, error) {
	c.serverOnce.Do(func() {
		creds, err := config.LoadCredentials(c.credentialOps)
		if err != nil {
			c.serverErr = err
			return
		}

		retry := api.DefaultRetryPolicy()
		retry.MaxAttempts = c.Config.RetryAttempts
		c.server = api.NewEncapsiaGateway(creds.Host, creds.Token, c.Log.Named("api"), api.GatewayOptions{
			UserAgent:    userAgent(),
			Timeout:      c.Config.RequestTimeout,
			RetryPolicy:  retry,
			PollInterval: c.Config.PollInterval,
		})
		c.Log.Log(ports.LogLevelDebug, "Using server", map[string]interface{}{
			"host": creds.Host,
		})
	})
	if c.serverErr != nil {
		return nil, fmt.Errorf("cannot reach a server: %w", c.serverErr)
	}
	return c.server, nil
}

func userAgent() string {
	return "encapsia-cli/" + cli.Version
}

var _ cli.Backend = (*Container)(nil)
