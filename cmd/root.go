// Package cmd provides the CLI commands for docsync.
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Logger defines the logging interface used by the commands.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields map[string]interface{})
}

// Controller runs clone, sync and push and reports an Outcome for each.
type Controller interface {
	Clone(ctx context.Context, trigger domain.Trigger) domain.Outcome
	Sync(ctx context.Context, trigger domain.Trigger) domain.Outcome
	Push(ctx context.Context, trigger domain.Trigger) domain.Outcome
}

// Scheduler runs the long-lived loop until its context is cancelled.
type Scheduler interface {
	Run(ctx context.Context) domain.Outcome
}

// TokenStore persists access tokens keyed by remote URL.
type TokenStore interface {
	Set(remoteURL, token string) error
	Delete(remoteURL string) error
}

// Dependencies holds all injectable dependencies for the commands.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger instance.
	LoggerFactory func() Logger

	// ConfigLoader loads application configuration for the given settings file and working directory.
	ConfigLoader func(ctx context.Context, path, workDir string) (*AppConfig, error)

	// ControllerFactory creates the controller for the given settings.
	ControllerFactory func(settings domain.Settings, log Logger) Controller

	// WatcherFactory starts watching the working directory.
	WatcherFactory func(settings domain.Settings, log Logger) (domain.ChangeSource, error)

	// SchedulerFactory creates the run loop. changes is nil when watching is disabled.
	SchedulerFactory func(ctrl Controller, settings domain.Settings, changes domain.ChangeSource, log Logger) Scheduler

	// TokenStoreFactory opens the token store used by the token commands.
	TokenStoreFactory func() TokenStore

	// Stdin is read by "token set".
	Stdin io.Reader

	// Stdout is the writer for standard output.
	Stdout io.Writer

	// Stderr is the writer for standard error (for warnings/errors).
	Stderr io.Writer
}

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	// Settings is passed to the ControllerFactory after flag overrides.
	Settings domain.Settings

	// LogLevel is the log level setting.
	LogLevel string

	// LogAppName is the application name for logging.
	LogAppName string

	// Warnings are non-fatal problems found while loading, such as an unreachable token source.
	Warnings []error
}

// rootOptions holds the flags of one command tree.
type rootOptions struct {
	configPath string
	branch     string
	remote     string
	embedded   bool
	verbose    bool
	interval   time.Duration
	watch      bool
}

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main or via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for docsync.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "docsync",
		Short: "Keep a notes directory in sync with a remote git repository",
		Long: `docsync keeps a directory of notes in sync with a single branch of a
remote git repository over HTTPS.

Sync overwrites the directory with the remote branch. Push commits every
local change and sends it to the remote. The run command does both on a
schedule until interrupted.

The git binary is used when available; otherwise a built-in implementation
takes over.

Examples:
  # Set up the current directory from the remote
  docsync clone --remote https://github.com/me/notes.git

  # Replace local content with the remote branch
  docsync sync ~/notes

  # Commit and push local changes
  docsync push ~/notes

  # Sync at start, then push every 5 minutes and after edits
  docsync run ~/notes --interval 5m --watch`,
		SilenceUsage: true,
	}
	if deps != nil {
		if deps.Stdout != nil {
			rootCmd.SetOut(deps.Stdout)
		}
		if deps.Stderr != nil {
			rootCmd.SetErr(deps.Stderr)
		}
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to the settings file")
	flags.StringVar(&opts.branch, "branch", "", "Branch to track (overrides settings)")
	flags.StringVar(&opts.remote, "remote", "", "HTTPS URL of the remote repository (overrides settings)")
	flags.BoolVar(&opts.embedded, "embedded", false, "Use the built-in git implementation even if git is installed")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose/debug logging")

	rootCmd.AddCommand(
		newOperationCmd(deps, opts, domain.OperationClone, "Prepare the directory as a checkout of the remote branch"),
		newOperationCmd(deps, opts, domain.OperationSync, "Overwrite the directory with the remote branch"),
		newOperationCmd(deps, opts, domain.OperationPush, "Commit local changes and push them"),
		newRunCmd(deps, opts),
		newTokenCmd(deps, opts),
	)

	return rootCmd
}

func newOperationCmd(deps *Dependencies, opts *rootOptions, op domain.Operation, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " [dir]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, args, deps, opts, op)
		},
	}
}

func newRunCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Sync at start, then push periodically until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(cmd, args, deps, opts)
		},
	}
	runCmd.Flags().DurationVar(&opts.interval, "interval", 0, "Period between automatic pushes (overrides settings)")
	runCmd.Flags().BoolVar(&opts.watch, "watch", false, "Also push shortly after files change")
	return runCmd
}

func newTokenCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the access token stored in the OS keyring",
	}
	tokenCmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the access token read from stdin for the configured remote",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTokenSet(cmd, deps, opts)
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the stored access token for the configured remote",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTokenDelete(cmd, deps, opts)
			},
		},
	)
	return tokenCmd
}

// session is the state shared by every command after setup.
type session struct {
	ctx      context.Context
	log      Logger
	settings domain.Settings
}

// setup resolves the directory, initializes logging and loads configuration.
func setup(cmd *cobra.Command, args []string, deps *Dependencies, opts *rootOptions) (*session, error) {
	if deps == nil {
		return nil, errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	workDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving directory %s: %w", dir, err)
	}

	stderr := stderrOf(deps)

	// Set log level based on verbose flag (best-effort)
	if opts.verbose {
		if err := os.Setenv("LOG_LEVEL", "debug"); err != nil {
			writeWarningf(stderr, "warning: could not set log level: %v\n", err)
		}
	}

	log := deps.LoggerFactory()

	cfg, err := deps.ConfigLoader(ctx, opts.configPath, workDir)
	if err != nil {
		log.Error(ctx, "failed to load configuration", err, nil)
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn(ctx, "token source unavailable", map[string]interface{}{
			"error": w.Error(),
		})
	}

	settings := cfg.Settings
	settings.WorkDir = workDir
	if opts.branch != "" {
		settings.Branch = opts.branch
	}
	if opts.remote != "" {
		settings.RemoteURL = opts.remote
	}
	if opts.embedded {
		settings.ForceEmbedded = true
	}
	if opts.interval > 0 {
		settings.PushInterval = opts.interval
	}
	if opts.watch {
		settings.Watch = true
	}

	log.Debug(ctx, "configuration loaded", map[string]interface{}{
		"work_dir":   settings.WorkDir,
		"remote_url": settings.RemoteURL,
		"branch":     settings.TrackedBranch(),
		"embedded":   settings.ForceEmbedded,
		"has_token":  settings.Token != "",
	})

	return &session{ctx: ctx, log: log, settings: settings}, nil
}

// runOperation executes a single clone, sync or push.
func runOperation(cmd *cobra.Command, args []string, deps *Dependencies, opts *rootOptions, op domain.Operation) error {
	s, err := setup(cmd, args, deps, opts)
	if err != nil {
		return err
	}

	ctrl := deps.ControllerFactory(s.settings, s.log)

	var out domain.Outcome
	switch op {
	case domain.OperationClone:
		out = ctrl.Clone(s.ctx, domain.TriggerManual)
	case domain.OperationSync:
		out = ctrl.Sync(s.ctx, domain.TriggerManual)
	default:
		out = ctrl.Push(s.ctx, domain.TriggerManual)
	}

	if !out.Succeeded() {
		return fmt.Errorf("%s failed: %w", op, out.Err)
	}
	return nil
}

// runLoop runs the scheduler until SIGINT or SIGTERM.
func runLoop(cmd *cobra.Command, args []string, deps *Dependencies, opts *rootOptions) error {
	s, err := setup(cmd, args, deps, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var changes domain.ChangeSource
	if s.settings.Watch {
		changes, err = deps.WatcherFactory(s.settings, s.log)
		if err != nil {
			s.log.Error(ctx, "failed to start watcher", err, map[string]interface{}{
				"work_dir": s.settings.WorkDir,
			})
			return fmt.Errorf("watch error: %w", err)
		}
		defer func() {
			if closeErr := changes.Close(); closeErr != nil {
				s.log.Warn(ctx, "failed to close watcher", map[string]interface{}{
					"error": closeErr.Error(),
				})
			}
		}()
	}

	ctrl := deps.ControllerFactory(s.settings, s.log)
	deps.SchedulerFactory(ctrl, s.settings, changes, s.log).Run(ctx)
	return nil
}

func runTokenSet(cmd *cobra.Command, deps *Dependencies, opts *rootOptions) error {
	s, err := setup(cmd, nil, deps, opts)
	if err != nil {
		return err
	}
	if s.settings.RemoteURL == "" {
		return domain.ErrRemoteURLNotConfigured
	}

	stdin := deps.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return errors.New("no token provided on stdin")
	}

	if err := deps.TokenStoreFactory().Set(s.settings.RemoteURL, token); err != nil {
		s.log.Error(s.ctx, "failed to store token", err, map[string]interface{}{
			"remote_url": s.settings.RemoteURL,
		})
		return fmt.Errorf("keyring error: %w", err)
	}
	s.log.Info(s.ctx, "token stored", map[string]interface{}{
		"remote_url": s.settings.RemoteURL,
	})
	return nil
}

func runTokenDelete(cmd *cobra.Command, deps *Dependencies, opts *rootOptions) error {
	s, err := setup(cmd, nil, deps, opts)
	if err != nil {
		return err
	}
	if s.settings.RemoteURL == "" {
		return domain.ErrRemoteURLNotConfigured
	}

	if err := deps.TokenStoreFactory().Delete(s.settings.RemoteURL); err != nil {
		return fmt.Errorf("keyring error: %w", err)
	}
	return nil
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func stderrOf(deps *Dependencies) io.Writer {
	if deps.Stderr != nil {
		return deps.Stderr
	}
	return os.Stderr
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		return
	}
}
