package cmd

import (
	"os"

	"github.com/encodeous/nyflow/state"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nyflow",
	Short: "nyflow OpenFlow controller",
	Long: `nyflow is an OpenFlow 1.3 controller.
It accepts switch connections, keeps a shortest path view of the switch topology and forwards traffic between hosts along it.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "init",
		Title: "Configure nyflow",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ny",
		Title: "Controller Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&state.ConfigPath, "config", "c", state.DefaultConfigPath, "controller config")
}
