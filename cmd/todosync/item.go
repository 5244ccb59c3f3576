package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/model"
	todosync "github.com/mschirtzinger/todosync/internal/sync"
)

// targetCategory returns the category named by --category, or the active one.
func targetCategory(coord *todosync.Coordinator, ref string) (model.Category, error) {
	if ref != "" {
		return resolveCategory(coord.Categories(), ref)
	}
	cat, ok := coord.ActiveCategory()
	if !ok {
		return model.Category{}, fmt.Errorf("%w: no categories yet, add one with 'todosync category add'", model.ErrCategoryNotFound)
	}
	return cat, nil
}

func itemCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "item",
		GroupID: "todo",
		Short:   "Manage items",
		Long: `Add, remove and complete items.

Items belong to the active category unless --category is given. They are
referenced by their number in 'todosync list', their id, or an id prefix of
at least four characters.`,
	}
	cmd.PersistentFlags().StringP("category", "C", "", "category to act on (default: active)")

	cmd.AddCommand(itemAddCmd(a))
	cmd.AddCommand(itemRemoveCmd(a))
	cmd.AddCommand(itemCompleteCmd(a, "done", "Mark an item as completed", true))
	cmd.AddCommand(itemCompleteCmd(a, "undone", "Mark an item as not completed", false))
	return cmd
}

func itemAddCmd(a *app) *cobra.Command {
	var due string

	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add an item",
		Long: `Add an item to the end of a category.

--due accepts RFC 3339 timestamps, YYYY-MM-DD dates, and phrases such as
"tomorrow 9am" or "next friday".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := model.NewItem(strings.Join(args, " "))
			if due != "" {
				t, err := parseDue(due, time.Now())
				if err != nil {
					return err
				}
				item.Due = &t
			}

			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("category")
			cat, err := targetCategory(coord, ref)
			if err != nil {
				return err
			}

			added, err := coord.PushItem(cmd.Context(), cat.ID, item)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Added %q to %s", added.Text, cat.Title)
			if added.Due != nil {
				msg += ", due " + added.Due.Local().Format("Mon Jan 2 15:04")
			}
			a.printer.OK("%s", msg)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().StringVarP(&due, "due", "d", "", "due date")
	return cmd
}

func itemRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <item>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("category")
			cat, err := targetCategory(coord, ref)
			if err != nil {
				return err
			}
			index, item, err := resolveItem(cat, args[0])
			if err != nil {
				return err
			}
			if item.ID != "" {
				err = coord.DeleteItem(cmd.Context(), cat.ID, item.ID)
			} else {
				err = coord.DeleteItemAt(cmd.Context(), cat.ID, index)
			}
			if err != nil {
				return err
			}
			a.printer.OK("Removed %q from %s", item.Label(), cat.Title)
			a.reportSync()
			return nil
		},
	}
}

func itemCompleteCmd(a *app, use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			ref, _ := cmd.Flags().GetString("category")
			cat, err := targetCategory(coord, ref)
			if err != nil {
				return err
			}
			index, item, err := resolveItem(cat, args[0])
			if err != nil {
				return err
			}
			if item.ID != "" {
				err = coord.SetItemCompleted(cmd.Context(), cat.ID, item.ID, completed)
			} else {
				err = coord.SetItemCompletedAt(cmd.Context(), cat.ID, index, completed)
			}
			if err != nil {
				return err
			}
			state := "done"
			if !completed {
				state = "not done"
			}
			a.printer.OK("Marked %q %s", item.Label(), state)
			a.reportSync()
			return nil
		},
	}
}

func clearCmd(a *app) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:     "clear",
		GroupID: "todo",
		Short:   "Remove completed items from a category",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := targetCategory(coord, ref)
			if err != nil {
				return err
			}
			removed, err := coord.ClearCompleted(cmd.Context(), cat.ID)
			if err != nil {
				return err
			}
			if removed == 0 {
				a.printer.Muted("Nothing completed in %s", cat.Title)
				return nil
			}
			a.printer.OK("Cleared %d completed item(s) from %s", removed, cat.Title)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().StringVarP(&ref, "category", "C", "", "category to clear (default: active)")
	return cmd
}
