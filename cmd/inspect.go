package cmd

import (
	"fmt"

	"github.com/encodeous/nyflow/core"
	"github.com/encodeous/nyflow/state"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:     "inspect [admin socket]",
	Aliases: []string{"i"},
	Short:   "Inspects the state of a running controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		socket := ""
		if len(args) == 1 {
			socket = args[0]
		} else {
			cfg, err := core.ReadConfig(configPath())
			if err != nil {
				cfg = new(state.ControllerCfg)
				*cfg = state.DefaultConfig()
			}
			socket = cfg.AdminSocket
		}
		if socket == "" {
			return fmt.Errorf("the admin socket is disabled in %s", configPath())
		}
		result, err := core.IPCGet(socket)
		if err != nil {
			return err
		}
		fmt.Print(result)
		return nil
	},
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	GroupID:      "ny",
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
