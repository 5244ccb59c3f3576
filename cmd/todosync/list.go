package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/model"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
	"github.com/mschirtzinger/todosync/internal/ui"
)

func listCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list [category]",
		Aliases: []string{"ls"},
		GroupID: "todo",
		Short:   "Show the items of a category",
		Long: `Show the items of the active category, or of the category given by
number, id or title. With --all every category is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			cats := coord.Categories()
			active := coord.Active()

			if all {
				for n, cat := range cats {
					if n > 0 {
						fmt.Fprintln(a.stdout)
					}
					a.printer.Category(cat, n == active)
				}
				if len(cats) == 0 {
					a.printer.Muted("No categories. Add one with 'todosync category add'.")
				}
				return nil
			}

			if len(args) == 1 {
				cat, err := resolveCategory(cats, args[0])
				if err != nil {
					return err
				}
				i, _ := model.IndexOfCategory(cats, cat.ID)
				a.printer.Category(cat, i == active)
				return nil
			}

			cat, ok := coord.ActiveCategory()
			if !ok {
				a.printer.Muted("No categories. Add one with 'todosync category add'.")
				return nil
			}
			a.printer.Category(cat, true)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "show every category")
	return cmd
}

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Reconcile the local list with the remote document",
		Long: `Fetch the remote document and converge on the newer copy.

If the remote lastUpdate is newer than the local one, the remote list is
adopted. Otherwise the local list is published. If the remote cannot be
reached the local list is published as a full replacement.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.offline {
				return fmt.Errorf("cannot sync with --offline")
			}
			if !a.cfg.HasRemote() {
				return fmt.Errorf("no remote configured (set remote.url or --remote)")
			}
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}

			res, err := coord.Reconcile(cmd.Context())
			if err != nil && !errors.Is(err, todosync.ErrNothingToPublish) {
				return err
			}

			switch res.Outcome {
			case todosync.OutcomeAdoptedRemote:
				a.printer.OK("Adopted remote copy (%s)", res.RemoteUpdate)
			case todosync.OutcomePublishedLocal, todosync.OutcomeRemoteUnavailable:
				if res.Published {
					a.printer.OK("Published local copy (%s)", res.LocalUpdate)
				} else {
					a.printer.OK("Nothing to publish")
				}
			}
			a.printer.Muted("Completed in %v", res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show local and remote state",
		Long: `Display where data is stored and how the local and remote copies
compare.

Shows:
  - Config file, local store, its keys and remote URL
  - Local and remote lastUpdate
  - Category and item counts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			snap := coord.Snapshot()

			total, pending := 0, 0
			for _, cat := range snap.Categories {
				total += len(cat.TodoItems)
				pending += cat.Pending()
			}

			configFile := a.cfg.File
			if configFile == "" {
				configFile = "(none)"
			}
			remoteURL := a.cfg.Remote.URL
			if remoteURL == "" {
				remoteURL = "(none, local only)"
			} else if a.offline {
				remoteURL += " (offline)"
			}
			localUpdate := snap.LastUpdate
			if localUpdate == "" {
				localUpdate = "(never saved)"
			}

			keys, err := a.local.Keys()
			if err != nil {
				return err
			}

			lines := []string{
				"Config:       " + configFile,
				"Local store:  " + a.cfg.Local.Path,
				"Stored keys:  " + strings.Join(keys, ", "),
				"Remote:       " + remoteURL,
				"Local update: " + localUpdate,
			}
			if coord.HasRemote() {
				res := coord.LastResult()
				remoteUpdate := res.RemoteUpdate
				switch {
				case res.Outcome == todosync.OutcomeRemoteUnavailable:
					remoteUpdate = "(unreachable)"
				case res.Outcome == todosync.OutcomeRemoteUnreadable:
					remoteUpdate = "(unreadable)"
				case remoteUpdate == "":
					remoteUpdate = "(no document)"
				}
				lines = append(lines,
					"Remote update: "+remoteUpdate,
					"Last sync:    "+string(res.Outcome))
			}
			lines = append(lines,
				fmt.Sprintf("Categories:   %d", len(snap.Categories)),
				fmt.Sprintf("Items:        %s", ui.ProgressBar(total-pending, total, 20)))
			if cat, ok := coord.ActiveCategory(); ok {
				lines = append(lines, "Active:       "+cat.Title)
			}

			a.printer.Panel(lines)
			return nil
		},
	}
}
