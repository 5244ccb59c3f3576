package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/todosync/internal/config"
)

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "setup",
		Short:   "Create or inspect the configuration",
	}
	cmd.AddCommand(configInitCmd(a))
	cmd.AddCommand(configShowCmd(a))
	return cmd
}

func configInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				dirs := config.SearchPaths()
				path = filepath.Join(dirs[len(dirs)-1], config.ConfigName+".yaml")
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			a.printer.OK("Wrote %s", path)
			return nil
		},
	}
}

// redact hides secrets in config output.
func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func configShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := a.settings.AllSettings()
			for _, section := range []string{"remote", "serve"} {
				if m, ok := settings[section].(map[string]interface{}); ok {
					if token, _ := m["token"].(string); token != "" {
						m["token"] = redact(token)
					}
				}
			}
			if a.cfg.File != "" {
				a.printer.Muted("# from %s", a.cfg.File)
			}

			enc := yaml.NewEncoder(a.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
