// Command todosync manages a categorized todo list that lives in a local
// SQLite store and is kept in sync with a remote JSON document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/todosync/internal/auth"
	"github.com/mschirtzinger/todosync/internal/config"
	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/logging"
	"github.com/mschirtzinger/todosync/internal/remote"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/ui"
)

// Set by the linker.
var (
	version = "dev"
	commit  = "none"
)

// app carries state shared by all commands of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	offline    bool
	color      string

	settings *viper.Viper
	cfg      *config.Config
	logs     *logging.Logs
	printer  *ui.Printer
	creds    *auth.Store

	local *localstore.SQLite
	coord *todosync.Coordinator
}

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := run(context.Background(), a, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one command line and releases everything it opened.
func run(ctx context.Context, a *app, args []string) error {
	defer a.close()
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "todosync",
		Short: "Offline-first todo lists synced to a remote JSON document",
		Long: `todosync keeps a categorized todo list in a local SQLite store and
reconciles it with a remote JSON document using last-write-wins on the
document's lastUpdate timestamp.

Every change is saved locally first. When a remote is configured it is then
reconciled: a newer remote copy is adopted, otherwise the local copy is
published. Without network access the local copy stays authoritative.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.SetIn(a.stdin)
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: todosync.yaml in the config search path)")
	flags.String("local", "", "local store path, or :memory:")
	flags.String("remote", "", "remote document URL")
	flags.String("token", "", "remote access key (X-Master-Key)")
	flags.Duration("timeout", 0, "remote request timeout")
	flags.BoolP("verbose", "v", false, "log sync activity to stderr")
	flags.String("log-file", "", "write logs to a rotating file")
	flags.BoolVar(&a.offline, "offline", false, "do not contact the remote store")
	flags.StringVar(&a.color, "color-mode", string(ui.ColorAuto), "colorize output: auto, always or never")

	rootCmd.AddGroup(
		&cobra.Group{ID: "todo", Title: "Todo Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(categoryCmd(a))
	rootCmd.AddCommand(itemCmd(a))
	rootCmd.AddCommand(clearCmd(a))
	rootCmd.AddCommand(syncCmd(a))
	rootCmd.AddCommand(statusCmd(a))
	rootCmd.AddCommand(daemonCmd(a))
	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(exportCmd(a))
	rootCmd.AddCommand(importCmd(a))
	rootCmd.AddCommand(loginCmd(a))
	rootCmd.AddCommand(logoutCmd(a))
	rootCmd.AddCommand(configCmd(a))
	rootCmd.AddCommand(versionCmd(a))

	return rootCmd
}

// setup loads configuration and logging. Stores are opened lazily by the
// commands that need them.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, a.configPath)
	if err != nil {
		return err
	}
	a.settings = v
	a.cfg = cfg

	logs, err := logging.Setup(logging.Options{
		Verbose:    cfg.Log.Verbose,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Stderr:     a.stderr,
	})
	if err != nil {
		return err
	}
	a.logs = logs

	switch mode := ui.ColorMode(a.color); mode {
	case ui.ColorAuto, ui.ColorAlways, ui.ColorNever:
		a.printer = ui.NewPrinter(a.stdout, a.stderr, mode)
	default:
		return fmt.Errorf("invalid --color-mode %q (want auto, always or never)", a.color)
	}

	if a.creds == nil {
		dir, err := auth.DefaultDir()
		if err != nil {
			return err
		}
		a.creds = auth.NewStore(dir)
	}
	return nil
}

func (a *app) close() {
	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logs.Logger("todosync").Printf("Failed to close local store: %v", err)
		}
		a.local = nil
	}
	a.coord = nil
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
}

// remoteToken returns the configured token, falling back to stored
// credentials from "todosync login".
func (a *app) remoteToken() (string, error) {
	if a.cfg.Remote.Token != "" {
		return a.cfg.Remote.Token, nil
	}
	ti, err := a.creds.Token()
	if err != nil {
		if errors.Is(err, auth.ErrExpired) {
			return "", fmt.Errorf("%w: run 'todosync login' again", err)
		}
		return "", err
	}
	if ti == nil {
		return "", nil
	}
	return ti.Token, nil
}

// remoteStore builds the remote client. It returns a nil interface when
// offline or unconfigured, which puts the coordinator in local-only mode.
func (a *app) remoteStore() (remote.Store, error) {
	if a.offline || !a.cfg.HasRemote() {
		return nil, nil
	}
	token, err := a.remoteToken()
	if err != nil {
		return nil, err
	}
	client, err := remote.New(remote.Config{
		URL:     a.cfg.Remote.URL,
		Token:   token,
		Method:  a.cfg.Remote.Method,
		Timeout: a.cfg.Remote.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	return client, nil
}

// coordinator opens the local store and remote client and loads the list.
// Initialize reconciles once, so the list reflects the remote when reachable.
func (a *app) coordinator(ctx context.Context) (*todosync.Coordinator, error) {
	if a.coord != nil {
		return a.coord, nil
	}

	local, err := localstore.OpenContext(ctx, a.cfg.Local.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	coord, err := a.newCoordinator(local, a.logs.Logger("sync"))
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	if err := coord.Initialize(ctx); err != nil {
		_ = local.Close()
		return nil, err
	}

	a.local = local
	a.coord = coord
	return coord, nil
}

// newCoordinator builds a coordinator over local without loading it.
func (a *app) newCoordinator(local localstore.Store, logger *log.Logger) (*todosync.Coordinator, error) {
	rem, err := a.remoteStore()
	if err != nil {
		return nil, err
	}

	opts := &todosync.Options{
		Logger:         logger,
		PublishRetries: a.cfg.Remote.Retries,
		RetryBackoff:   a.cfg.Remote.Backoff,
		CacheRemote:    a.cfg.Sync.CacheRemote,
	}
	return todosync.New(local, rem, opts), nil
}

// serviceLogger is for long-running commands, which always log to stderr
// when no other destination is configured.
func (a *app) serviceLogger(component string) *log.Logger {
	logger := a.logs.Logger(component)
	if !a.logs.Enabled() {
		logger.SetOutput(a.stderr)
	}
	return logger
}

// reportSync prints a hint when the last reconciliation did not reach the
// remote.
func (a *app) reportSync() {
	if a.coord == nil || !a.coord.HasRemote() {
		return
	}
	res := a.coord.LastResult()
	switch {
	case res.Outcome == todosync.OutcomeRemoteUnavailable && res.Err != nil:
		a.printer.Muted("Saved locally; remote unavailable: %v", res.Err)
	case res.Err != nil && !errors.Is(res.Err, todosync.ErrNothingToPublish):
		a.printer.Fail("Saved locally; sync failed: %v", res.Err)
	}
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		GroupID: "setup",
		Short:   "Print version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "todosync %s (%s)\n", version, commit)
		},
	}
}
