package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/encodeous/nyflow/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var overwrite bool

var initCmd = &cobra.Command{
	Use:   "init [id]",
	Short: "Write a default controller configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := state.DefaultConfig()
		if len(args) == 1 {
			if err := state.NameValidator(args[0]); err != nil {
				return err
			}
			cfg.Id = args[0]
		}
		if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
			if err := cfg.ListenAddr.UnmarshalText([]byte(addr)); err != nil {
				return fmt.Errorf("invalid listen address: %w", err)
			}
		}
		if apps, _ := cmd.Flags().GetStringSlice("apps"); len(apps) != 0 {
			cfg.Apps = apps
		}
		if err := state.ConfigValidator(&cfg); err != nil {
			return err
		}

		out, err := yaml.Marshal(&cfg)
		if err != nil {
			return err
		}
		path := configPath()
		if _, err := os.Stat(path); err == nil && !overwrite {
			return fmt.Errorf("%s already exists, pass --force to overwrite it", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := os.WriteFile(path, out, 0600); err != nil {
			return err
		}
		fmt.Printf("Wrote controller config to %s\n", path)
		return nil
	},
	SilenceUsage: true,
	GroupID:      "init",
}

func configPath() string {
	return state.ConfigPath
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&overwrite, "force", "f", false, "Overwrite an existing config")
	initCmd.Flags().String("listen", "", "Address switches connect to")
	initCmd.Flags().StringSlice("apps", nil, "Forwarding applications to load")
}
