package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/model"
	"github.com/mschirtzinger/todosync/internal/transfer"
	"github.com/mschirtzinger/todosync/internal/ui"
)

func exportCmd(a *app) *cobra.Command {
	var (
		format string
		backup bool
	)

	cmd := &cobra.Command{
		Use:     "export <file|->",
		GroupID: "todo",
		Short:   "Write the list to a JSON, JSONL, YAML or TOML file",
		Long: `Write every category to a file. The format follows the file extension
(.json, .jsonl, .yaml, .yml, .toml) unless --format is given. Use - to write
to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			doc := coord.Snapshot()

			if args[0] == "-" {
				f := transfer.FormatJSON
				if format != "" {
					if f, err = transfer.ParseFormat(format); err != nil {
						return err
					}
				}
				return transfer.Encode(a.stdout, &doc, f)
			}

			result, err := transfer.ExportFile(args[0], &doc, transfer.ExportOptions{
				Format: transfer.Format(format),
				Backup: backup,
			})
			if err != nil {
				return err
			}
			a.printer.OK("Exported %d categories, %d items to %s (%s)", result.Categories, result.Items, result.Path, result.Format)
			if result.BackupCreated != "" {
				a.printer.Muted("Previous file saved as %s", result.BackupCreated)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, jsonl, yaml or toml")
	cmd.Flags().BoolVar(&backup, "backup", false, "keep a copy of an existing file")
	return cmd
}

func importCmd(a *app) *cobra.Command {
	var (
		format string
		yes    bool
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:     "import <file|->",
		GroupID: "todo",
		Short:   "Replace the list with the contents of a file",
		Long: `Replace every category with those in a JSON, JSONL, YAML or TOML file.

The file is validated first. The imported list is stamped with the current
time, so it wins the next reconciliation and is published to the remote.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				doc *model.Document
				err error
			)
			if args[0] == "-" {
				f := transfer.FormatJSON
				if format != "" {
					if f, err = transfer.ParseFormat(format); err != nil {
						return err
					}
				}
				doc, err = transfer.Decode(a.stdin, f)
			} else {
				doc, err = transfer.ImportFile(args[0], transfer.Format(format))
			}
			if err != nil {
				return err
			}

			items := 0
			for _, cat := range doc.Categories {
				items += len(cat.TodoItems)
			}
			if dryRun {
				a.printer.OK("%s is valid: %d categories, %d items", args[0], len(doc.Categories), items)
				return nil
			}

			coord, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			if !yes && len(coord.Categories()) > 0 {
				if args[0] == "-" || !ui.IsTerminal(a.stdout) {
					return fmt.Errorf("import replaces %d existing categories; pass --yes to continue", len(coord.Categories()))
				}
				ok, err := ui.Confirm(fmt.Sprintf("Replace %d categories with %d from %s?", len(coord.Categories()), len(doc.Categories), args[0]))
				if err != nil {
					return err
				}
				if !ok {
					a.printer.Muted("Import cancelled")
					return nil
				}
			}

			if err := coord.Replace(cmd.Context(), doc.Categories); err != nil {
				return err
			}
			a.printer.OK("Imported %d categories, %d items", len(doc.Categories), items)
			a.reportSync()
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "json, jsonl, yaml or toml (default: from extension)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "replace without asking")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return cmd
}
