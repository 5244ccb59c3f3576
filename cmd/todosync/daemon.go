package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/daemon"
	"github.com/mschirtzinger/todosync/internal/dashboard"
	"github.com/mschirtzinger/todosync/internal/localstore"
)

func daemonCmd(a *app) *cobra.Command {
	var (
		withDashboard bool
		port          int
	)

	cmd := &cobra.Command{
		Use:     "daemon",
		GroupID: "sync",
		Short:   "Keep the local list in sync in the foreground",
		Long: `Run a foreground process that keeps the local list and the remote
document converged.

The daemon:
  1. Loads the local list and reconciles once
  2. Reconciles every sync.interval
  3. Watches the local store for writes by other todosync commands and
     reconciles after they settle

With --dashboard, sync events are broadcast over a WebSocket:
  ws://127.0.0.1:8080/ws

Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("dashboard") {
				a.cfg.Dashboard.Enabled = withDashboard
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Dashboard.Port = port
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			// Initialize is left to the daemon so startup reconciliation is
			// logged alongside everything else.
			local, err := localstore.OpenContext(ctx, a.cfg.Local.Path)
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			a.local = local
			coord, err := a.newCoordinator(local, a.serviceLogger("sync"))
			if err != nil {
				return err
			}
			a.coord = coord

			if a.cfg.Dashboard.Enabled {
				server := dashboard.NewServer(&dashboard.Config{
					Host:   a.cfg.Dashboard.Host,
					Port:   a.cfg.Dashboard.Port,
					Source: coord,
					Logger: a.serviceLogger("dashboard"),
				})
				if err := server.Start(); err != nil {
					return fmt.Errorf("failed to start dashboard: %w", err)
				}
				defer func() {
					if err := server.Stop(); err != nil {
						a.printer.Fail("Error during dashboard shutdown: %v", err)
					}
				}()
				handler := dashboard.NewHandler(server, a.serviceLogger("dashboard"))
				coord.Subscribe(handler.OnEvent)

				fmt.Fprintf(a.stdout, "Dashboard: http://%s\n", server.GetAddr())
				fmt.Fprintf(a.stdout, "WebSocket: ws://%s/ws\n", server.GetAddr())
			}

			storePath := a.cfg.Local.Path
			if storePath == localstore.MemoryPath {
				storePath = ""
			}
			d, err := daemon.NewWithConfig(coord, &daemon.Config{
				Interval:         a.cfg.Sync.Interval,
				DebounceInterval: a.cfg.Sync.Debounce,
				StorePath:        storePath,
				Logger:           a.serviceLogger("daemon"),
			})
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}

			if coord.HasRemote() {
				fmt.Fprintf(a.stdout, "Syncing %s with %s every %v\n", a.cfg.Local.Path, a.cfg.Remote.URL, a.cfg.Sync.Interval)
			} else {
				fmt.Fprintf(a.stdout, "No remote configured; watching %s only\n", a.cfg.Local.Path)
			}
			fmt.Fprintln(a.stdout, "Press Ctrl+C to stop...")

			if err := d.Start(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			stats := d.Stats()
			fmt.Fprintf(a.stdout, "\nStopped after %d reconcile(s), %d reload(s)\n", stats.Reconciles, stats.Reloads)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withDashboard, "dashboard", false, "serve the WebSocket dashboard")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "dashboard port")
	return cmd
}
