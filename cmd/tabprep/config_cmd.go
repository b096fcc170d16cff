package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/logflow/tabprep/pkg/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := yaml.Marshal(manager.Get())
		if err != nil {
			return errors.Wrap(err, errors.CodeConfig, "encode config")
		}
		out := cmd.OutOrStdout()
		if paths := manager.Paths(); len(paths) > 0 {
			for _, p := range paths {
				fmt.Fprintf(out, "# loaded %s\n", p)
			}
		} else {
			fmt.Fprintln(out, "# defaults")
		}
		_, err = out.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Long: `Write the effective configuration (defaults, loaded files and
environment overrides) to path, or to ~/.tabprep/config.yaml.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		if err := manager.Save(path); err != nil {
			return err
		}
		if path == "" {
			path = "~/.tabprep/config.yaml"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
