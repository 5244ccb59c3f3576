package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/docstore"
	"github.com/mschirtzinger/todosync/internal/localstore"
)

const shutdownTimeout = 5 * time.Second

// shutdownContext bounds graceful shutdowns.
func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), shutdownTimeout)
}

func serveCmd(a *app) *cobra.Command {
	var (
		addr  string
		token string
		path  string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "sync",
		Short:   "Run a self-hosted document server",
		Long: `Serve remote documents over HTTP so todosync can sync without a
hosted service.

Documents live in their own SQLite file and are addressed as /b/<id>:

  todosync serve --token s3cret
  todosync --remote http://127.0.0.1:8787/b/home --token s3cret sync

Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Serve.Addr = addr
			}
			if cmd.Flags().Changed("server-token") {
				a.cfg.Serve.Token = token
			}
			if cmd.Flags().Changed("path") {
				a.cfg.Serve.Path = path
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, err := localstore.OpenContext(ctx, a.cfg.Serve.Path)
			if err != nil {
				return fmt.Errorf("failed to open document store: %w", err)
			}
			defer store.Close()

			server := docstore.New(store, &docstore.Config{
				Addr:   a.cfg.Serve.Addr,
				Token:  a.cfg.Serve.Token,
				Logger: a.serviceLogger("docstore"),
			})
			if err := server.Start(); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Serving documents from %s on http://%s/b/<id>\n", a.cfg.Serve.Path, server.Addr())
			if a.cfg.Serve.Token == "" {
				a.printer.Muted("No token set; anyone who can reach the server can read and replace documents")
			}
			fmt.Fprintln(a.stdout, "Press Ctrl+C to stop...")

			<-ctx.Done()

			fmt.Fprintln(a.stdout, "\nShutting down document server...")
			sctx, scancel := shutdownContext()
			defer scancel()
			return server.Stop(sctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: serve.addr)")
	cmd.Flags().StringVar(&token, "server-token", "", "require this X-Master-Key (default: serve.token)")
	cmd.Flags().StringVar(&path, "path", "", "document database (default: serve.path)")
	return cmd
}
