package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/application/services"
	"encapsia.io/cli/internal/core/plugin"
	"encapsia.io/cli/internal/infrastructure/upstream"
)

// batchFlags are shared by the commands that process several items
type batchFlags struct {
	bestEffort bool
	force      bool
	versions   string
}

func (f *batchFlags) register(fs *pflag.FlagSet, withVersions, withForce bool) {
	fs.BoolVar(&f.bestEffort, "best-effort", false, "Keep going after a failed item instead of skipping the rest")
	if withForce {
		fs.BoolVar(&f.force, "force", false, "Fetch or build again, replacing archives already in the local store")
	}
	if withVersions {
		fs.StringVar(&f.versions, "versions", "", "TOML file of plugin versions, as written by 'plugins freeze'")
	}
}

func (f *batchFlags) policy() services.BatchPolicy {
	return services.PolicyFor(f.bestEffort)
}

// NewPluginsCommand creates the plugins command group
func NewPluginsCommand(container *CLIContainer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Fetch, build and install plugins",
		Long: `Manage the local store of plugin archives and the plugins installed on a server.

The local store (default ~/.encapsia/plugins-cache) holds archives named
plugin-NAME-VERSION[+VARIANT].tar.gz. Requests are resolved against the store
first and then against the upstream sources, in order.

A request is NAME[+VARIANT][@CONSTRAINT]. CONSTRAINT is a full version (exact),
a version prefix such as 1 or 1.2 (newest match), latest, latest-pre or
existing. Anything that parses as a full version is exact: foo@1.2.3-rc asks
for 1.2.3-rc only. Use foo@1.2.3-rc. or foo@1.2.3- for the newest prerelease
of a family.`,
	}

	cmd.AddCommand(newFetchCommand(container))
	cmd.AddCommand(newInstallCommand(container))
	cmd.AddCommand(newUninstallCommand(container))
	cmd.AddCommand(newListCommand(container))
	cmd.AddCommand(newRemoveCommand(container))
	cmd.AddCommand(newAddCommand(container))
	cmd.AddCommand(newBuildCommand(container))
	cmd.AddCommand(newFreezeCommand(container))
	cmd.AddCommand(newInfoCommand(container))
	cmd.AddCommand(newCreateNamespaceCommand(container))
	cmd.AddCommand(newDestroyNamespaceCommand(container))
	cmd.AddCommand(newDevUpdateCommand(container))
	cmd.AddCommand(newBuildFromLegacyS3Command(container))

	return cmd
}

func newFetchCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "fetch [REQUEST...]",
		Short: "Fetch plugins into the local store",
		Long: `Make sure the local store holds an archive for every request, fetching from
the upstream sources when it does not.

Examples:
  encapsia plugins fetch launch                 # newest stable release
  encapsia plugins fetch launch@1.2 dashboard+eu
  encapsia plugins fetch --versions versions.toml --best-effort`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := collectRequests(args, flags.versions)
			if err != nil {
				return err
			}
			resolver, err := c.resolver(nil)
			if err != nil {
				return err
			}
			result := c.reconcile(cmd.Context(), resolver, reqs, flags)
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), true, true)
	return cmd
}

func newInstallCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}
	var installBestEffort bool

	cmd := &cobra.Command{
		Use:   "install [REQUEST...]",
		Short: "Fetch plugins and install them on the server",
		Long: `Fetch every request into the local store, then install the archives on the
server in order.

--best-effort applies to fetching; --install-best-effort to installing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := collectRequests(args, flags.versions)
			if err != nil {
				return err
			}
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}
			resolver, err := c.resolver(nil)
			if err != nil {
				return err
			}

			fetched := c.reconcile(cmd.Context(), resolver, reqs, flags)
			if fetched.Failed() && flags.policy() == services.AbortOnFirstError {
				return fetched.Err()
			}
			entries := fetched.Entries()
			if len(entries) == 0 {
				return fetched.Err()
			}

			installed := c.withProgress(func(emit services.EmitFunc) services.BatchResult {
				return services.NewInstallService(server, c.Backend.Logger(), emit).
					InstallMany(cmd.Context(), entries, services.PolicyFor(installBestEffort))
			})
			c.printTaskOutput(installed)
			return errors.Join(fetched.Err(), installed.Err())
		},
	}

	flags.register(cmd.Flags(), true, true)
	cmd.Flags().BoolVar(&installBestEffort, "install-best-effort", false, "Keep installing after a failed install")
	return cmd
}

func newUninstallCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "uninstall NAME...",
		Short: "Uninstall plugins from the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if err := plugin.ValidateName(name); err != nil {
					return err
				}
			}
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}

			result := c.withProgress(func(emit services.EmitFunc) services.BatchResult {
				return services.NewInstallService(server, c.Backend.Logger(), emit).
					UninstallMany(cmd.Context(), args, flags.policy())
			})
			c.printTaskOutput(result)
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), false, false)
	return cmd
}

func newListCommand(c *CLIContainer) *cobra.Command {
	var latest, prereleases bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the archives in the local store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := c.printer()
			store := c.Backend.Store()
			entries, err := services.NewStoreService(store, c.Backend.Logger()).List(latest, prereleases)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				p.Log("No plugins in %s", store.Dir())
				return nil
			}

			rows := make([][]string, len(entries))
			for i, e := range entries {
				variant := e.ID.Variant
				if variant == "" {
					variant = "-"
				}
				rows[i] = []string{e.ID.Name, variant, e.ID.Version.String(), humanSize(e.Size), filepath.Base(e.Path)}
			}
			p.Table([]string{"NAME", "VARIANT", "VERSION", "SIZE", "FILE"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "Only show the newest archive of each plugin and variant")
	cmd.Flags().BoolVar(&prereleases, "prereleases", false, "Let prereleases count as newest with --latest")
	return cmd
}

func newRemoveCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "rm ARCHIVE...",
		Short: "Remove archives from the local store",
		Long: `Remove exact archives from the local store. Archives are named
NAME[+VARIANT]@VERSION or by their filename.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseArchiveIDs(args)
			if err != nil {
				return err
			}

			result := c.withProgress(func(emit services.EmitFunc) services.BatchResult {
				return services.NewStoreService(c.Backend.Store(), c.Backend.Logger()).
					RemoveMany(cmd.Context(), ids, flags.policy(), emit)
			})
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), false, false)
	return cmd
}

func newAddCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "add PATH_OR_URL...",
		Short: "Add archives from files or URLs to the local store",
		Long: `Copy plugin archives into the local store. Each argument is a path, an
http(s) URL or an s3://bucket/key naming a plugin archive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors := make([]string, 0, len(args))
			reqs := make([]plugin.VersionRequest, 0, len(args))
			for _, arg := range args {
				descriptor, id, err := splitArchiveLocation(arg)
				if err != nil {
					return err
				}
				descriptors = append(descriptors, descriptor)
				reqs = append(reqs, plugin.ExactRequest(id))
			}

			resolver, err := c.resolver(descriptors)
			if err != nil {
				return err
			}
			result := c.reconcile(cmd.Context(), resolver, reqs, flags)
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), false, true)
	return cmd
}

func newBuildCommand(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}

	cmd := &cobra.Command{
		Use:   "build SRC_DIR...",
		Short: "Build plugin archives from source directories into the local store",
		Long: `Build a plugin archive from each source directory. A source directory holds
plugin.toml and any of webfiles, views, tasks, wheels and schedules.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result := c.withProgress(func(emit services.EmitFunc) services.BatchResult {
				return services.NewBuildService(c.Backend.Builder(), c.Backend.Store(), c.Backend.Logger(), flags.force, emit).
					BuildMany(cmd.Context(), args, flags.policy())
			})
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), false, true)
	return cmd
}

func newFreezeCommand(c *CLIContainer) *cobra.Command {
	var output string
	var prereleases bool

	cmd := &cobra.Command{
		Use:   "freeze",
		Short: "Write a versions file pinning the newest stored archives",
		Long: `Write a TOML versions file with one exact entry per plugin in the local
store. The file can be passed back to fetch and install with --versions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := c.printer()
			reqs, dropped, err := services.NewStoreService(c.Backend.Store(), c.Backend.Logger()).Freeze(prereleases)
			if err != nil {
				return err
			}
			for _, id := range dropped {
				p.Log("Not frozen: %s (only one variant per plugin)", id)
			}

			var w io.Writer = c.stdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create versions file: %w", err)
				}
				defer f.Close()
				w = f
			}
			if err := plugin.WriteManifest(w, reqs); err != nil {
				return err
			}
			if output != "" && output != "-" {
				p.Log("Wrote %d plugins to %s", len(reqs), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "File to write (default stdout)")
	cmd.Flags().BoolVar(&prereleases, "prereleases", false, "Pin prereleases when they are the newest stored archive")
	return cmd
}

func newInfoCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:     "info",
		Aliases: []string{"status"},
		Short:   "Show the plugin namespaces installed on the server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTask("Fetching list of namespaces", func(server ports.ServerAPI) (*ports.TaskResult, error) {
				return server.ListNamespaces(cmd.Context())
			})
		},
	}
}

func newCreateNamespaceCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "dev-create-namespace NAMESPACE [N_TASK_WORKERS]",
		Short: "Create a namespace on the server. Only useful during development.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 1 {
					return fmt.Errorf("N_TASK_WORKERS must be a positive integer, got %q", args[1])
				}
				workers = n
			}
			return c.runTask("Creating namespace", func(server ports.ServerAPI) (*ports.TaskResult, error) {
				return server.CreateNamespace(cmd.Context(), args[0], workers)
			})
		},
	}
}

func newDestroyNamespaceCommand(c *CLIContainer) *cobra.Command {
	return &cobra.Command{
		Use:   "dev-destroy-namespace NAMESPACE",
		Short: "Destroy a namespace on the server. Only useful during development.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runTask("Destroying namespace", func(server ports.ServerAPI) (*ports.TaskResult, error) {
				return server.DestroyNamespace(cmd.Context(), args[0])
			})
		},
	}
}

func newDevUpdateCommand(c *CLIContainer) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "dev-update [DIRECTORY]",
		Short: "Send the plugin parts changed since the last update to the server",
		Long: `Upload the parts of a plugin source directory (default the current
directory) that changed since they were last sent, as one archive holding
plugin.toml and the changed parts. Upload times are kept in
.encapsia/last_uploaded_plugin_parts.toml inside the directory and are only
updated when the server accepts the parts. Only useful during development.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			server, err := c.Backend.Server()
			if err != nil {
				return err
			}

			p := c.printer()
			svc := services.NewDevUpdateService(c.Backend.Builder(), c.Backend.PartTracker(), server, c.Backend.Logger())
			result, err := svc.Update(cmd.Context(), dir, force)
			for _, part := range result.Parts {
				p.Log("Including: %s", part)
			}
			if result.Task != nil {
				if text := taskText(result.Task); text != "" {
					if err != nil {
						p.Error("%s", text)
					} else {
						p.Output("%s", text)
					}
				}
			}
			if err != nil {
				return err
			}
			if len(result.Parts) == 0 {
				p.Log("Nothing to do.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Send every part of the plugin")
	return cmd
}

func newBuildFromLegacyS3Command(c *CLIContainer) *cobra.Command {
	flags := &batchFlags{}
	var email, s3Directory string

	cmd := &cobra.Command{
		Use:   "build-from-legacy-s3",
		Short: "Build plugins from legacy webapps kept on S3",
		Long: `Build a plugin archive for each webapp named in the versions file. Webapps
are read from s3://S3_DIRECTORY/NAME/VERSION/; their views and tasks
directories become plugin parts and everything else becomes webfiles.

The versions file maps each webapp to one exact version:

  inspector = "1.4.0"
  reports = "2.0.0"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := services.ReadWebappVersions(flags.versions)
			if err != nil {
				return err
			}
			fetcher, err := c.Backend.WebappFetcher(s3Directory)
			if err != nil {
				return err
			}

			result := c.withProgress(func(emit services.EmitFunc) services.BatchResult {
				return services.NewLegacyBuildService(fetcher, c.Backend.Builder(), c.Backend.Store(), c.Backend.Logger(), email, flags.force, emit).
					BuildMany(cmd.Context(), ids, flags.policy())
			})
			return result.Err()
		},
	}

	flags.register(cmd.Flags(), true, true)
	cmd.Flags().StringVar(&email, "email", "", "Email recorded as the creator of the plugins")
	cmd.Flags().StringVar(&s3Directory, "s3-directory", "ice-webapp-builds", "Bucket, or s3://bucket/prefix, holding the webapp builds")
	_ = cmd.MarkFlagRequired("versions")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// collectRequests parses request arguments followed by the entries of a versions file
func collectRequests(args []string, versionsFile string) ([]plugin.VersionRequest, error) {
	var reqs []plugin.VersionRequest
	for _, arg := range args {
		req, err := plugin.ParseRequest(arg)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	if versionsFile != "" {
		fromFile, err := plugin.ReadManifestFile(versionsFile)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, fromFile...)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no plugins requested: give REQUEST arguments or --versions")
	}
	return reqs, nil
}

// parseArchiveIDs reads exact archive ids from NAME[+VARIANT]@VERSION or filenames
func parseArchiveIDs(args []string) ([]plugin.ArchiveID, error) {
	ids := make([]plugin.ArchiveID, 0, len(args))
	for _, arg := range args {
		if base := filepath.Base(arg); plugin.LooksLikeArchive(base) {
			arg = base
		}
		req, err := plugin.ParseRequest(arg)
		if err != nil {
			return nil, err
		}
		id, ok := req.ArchiveID()
		if !ok {
			return nil, fmt.Errorf("%w: %q does not name one archive (use NAME[+VARIANT]@VERSION)", plugin.ErrInvalidRequest, arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// splitArchiveLocation returns a source descriptor offering the archive at
// arg and the archive id read from its name
func splitArchiveLocation(arg string) (string, plugin.ArchiveID, error) {
	var parent, name string
	switch upstream.KindOf(arg) {
	case upstream.SourceURL:
		u, err := url.Parse(arg)
		if err != nil {
			return "", plugin.ArchiveID{}, fmt.Errorf("invalid URL %q: %w", arg, err)
		}
		parent, name = arg, path.Base(u.Path)
	case upstream.SourceS3:
		i := strings.LastIndex(arg, "/")
		parent, name = arg[:i+1], arg[i+1:]
	default:
		info, err := os.Stat(arg)
		if err != nil {
			return "", plugin.ArchiveID{}, fmt.Errorf("cannot add %s: %w", arg, err)
		}
		if info.IsDir() {
			return "", plugin.ArchiveID{}, fmt.Errorf("cannot add %s: is a directory", arg)
		}
		parent, name = arg, filepath.Base(arg)
	}

	id, err := plugin.ParseFilename(name)
	if err != nil {
		return "", plugin.ArchiveID{}, err
	}
	return parent, id, nil
}

func (c *CLIContainer) resolver(descriptors []string) (ports.ArchiveResolver, error) {
	if len(descriptors) == 0 && len(c.Backend.Configuration().Sources) == 0 {
		c.printer().Log("No upstream sources configured; only the local store is searched")
	}
	return c.Backend.Resolver(descriptors)
}

// reconcile makes sure every request is satisfied by the local store
func (c *CLIContainer) reconcile(ctx context.Context, resolver ports.ArchiveResolver, reqs []plugin.VersionRequest, flags *batchFlags) services.BatchResult {
	return c.withProgress(func(emit services.EmitFunc) services.BatchResult {
		svc := services.NewReconcileService(c.Backend.Store(), resolver, c.Backend.Logger(), services.ReconcileOptions{
			Force: flags.force,
			Emit:  emit,
		})
		return svc.ReconcileBatch(ctx, reqs, flags.policy())
	})
}

// withProgress runs a batch behind the progress display and prints a summary
func (c *CLIContainer) withProgress(run func(emit services.EmitFunc) services.BatchResult) services.BatchResult {
	prog := c.startProgress()
	result := run(prog.Emit)
	prog.Close()

	c.printer().Log("%s", summarize(result))
	return result
}

// printTaskOutput shows what the server said about failed tasks
func (c *CLIContainer) printTaskOutput(result services.BatchResult) {
	p := c.printer()
	for _, o := range result.Outcomes {
		if o.Failed() && o.Output != "" {
			p.Error("%s: %s", o.Subject, o.Output)
		}
	}
}

// runTask runs one server task and prints its output
func (c *CLIContainer) runTask(description string, run func(server ports.ServerAPI) (*ports.TaskResult, error)) error {
	server, err := c.Backend.Server()
	if err != nil {
		return err
	}
	p := c.printer()
	p.Log("%s", description)

	result, err := run(server)
	if result != nil {
		if text := taskText(result); text != "" {
			if err != nil {
				p.Error("%s", text)
			} else {
				p.Output("%s", text)
			}
		}
	}
	return err
}

// taskText returns the task output, or its indented result when there is no output
func taskText(result *ports.TaskResult) string {
	if result.Output != "" {
		return strings.TrimRight(result.Output, "\n")
	}
	if len(result.Result) == 0 || string(result.Result) == "null" {
		return ""
	}
	return indentJSON(result.Result)
}

func indentJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
