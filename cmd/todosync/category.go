package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/model"
	"github.com/mschirtzinger/todosync/internal/ui"
)

func categoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "category",
		Aliases: []string{"cat"},
		GroupID: "todo",
		Short:   "Manage categories",
		Long: `Add, remove, edit and select categories.

Categories are referenced by their number in 'todosync category ls', their
id, or their title.`,
	}
	cmd.AddCommand(categoryListCmd(a))
	cmd.AddCommand(categoryAddCmd(a))
	cmd.AddCommand(categoryRemoveCmd(a))
	cmd.AddCommand(categoryUseCmd(a))
	cmd.AddCommand(categoryEditCmd(a))
	return cmd
}

func categoryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Categories(coord.Categories(), coord.Active())
			return nil
		},
	}
}

func categoryAddCmd(a *app) *cobra.Command {
	var (
		id    string
		color string
		use   bool
	)

	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a category",
		Long: `Add a category at the end of the list.

Without a title, an interactive form asks for one when running in a
terminal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := model.Category{ID: id, Title: strings.Join(args, " "), Color: color}
			if strings.TrimSpace(cat.Title) == "" {
				if !ui.IsTerminal(a.stdout) {
					return fmt.Errorf("a title is required: %w", ui.ErrNotInteractive)
				}
				var err error
				if cat, err = ui.CategoryForm(cat); err != nil {
					return err
				}
			}

			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			added, err := coord.PushCategory(cmd.Context(), cat)
			if err != nil {
				return err
			}
			if use {
				if err := coord.SetActiveCategory(added.ID); err != nil {
					return err
				}
			}
			a.printer.OK("Added category %s (%s)", added.Title, added.ID)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "category id (default: generated)")
	cmd.Flags().StringVarP(&color, "color", "c", ui.Palette[0], "category color as #rgb or #rrggbb")
	cmd.Flags().BoolVar(&use, "use", false, "make the new category active")
	return cmd
}

func categoryRemoveCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <category>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a category and its items",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := resolveCategory(coord.Categories(), args[0])
			if err != nil {
				return err
			}

			if !yes && len(cat.TodoItems) > 0 {
				if !ui.IsTerminal(a.stdout) {
					return fmt.Errorf("%s has %d item(s); pass --yes to remove it", cat.Title, len(cat.TodoItems))
				}
				ok, err := ui.Confirm(fmt.Sprintf("Remove %s and its %d item(s)?", cat.Title, len(cat.TodoItems)))
				if err != nil {
					return err
				}
				if !ok {
					a.printer.Muted("Kept %s", cat.Title)
					return nil
				}
			}

			if err := coord.DeleteCategory(cmd.Context(), cat.ID); err != nil {
				return err
			}
			a.printer.OK("Removed category %s", cat.Title)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func categoryUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <category>",
		Short: "Select the active category",
		Long: `Select the category that item commands act on by default. The
selection is stored locally and is not synced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := resolveCategory(coord.Categories(), args[0])
			if err != nil {
				return err
			}
			if err := coord.SetActiveCategory(cat.ID); err != nil {
				return err
			}
			a.printer.OK("Now using %s", cat.Title)
			return nil
		},
	}
}

func categoryEditCmd(a *app) *cobra.Command {
	var (
		title string
		color string
	)

	cmd := &cobra.Command{
		Use:   "edit <category>",
		Short: "Change a category's title or color",
		Long: `Change the title or color of a category. Items are kept.

Without --title or --color, an interactive form is shown when running in a
terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			cat, err := resolveCategory(coord.Categories(), args[0])
			if err != nil {
				return err
			}

			titleSet := cmd.Flags().Changed("title")
			colorSet := cmd.Flags().Changed("color")
			switch {
			case titleSet || colorSet:
				if titleSet {
					cat.Title = title
				}
				if colorSet {
					cat.Color = color
				}
			case ui.IsTerminal(a.stdout):
				if cat, err = ui.CategoryForm(cat); err != nil {
					return err
				}
			default:
				return fmt.Errorf("nothing to change: pass --title or --color")
			}

			if err := coord.UpdateCategory(cmd.Context(), cat); err != nil {
				return err
			}
			a.printer.OK("Updated category %s", cat.Title)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&color, "color", "c", "", "new color as #rgb or #rrggbb")
	return cmd
}
