package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/encodeous/nyflow/core"
	"github.com/encodeous/nyflow/routing"
	"github.com/encodeous/nyflow/state"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

var showRoutes bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validates the controller config and prints it with defaults filled in",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.ReadConfig(configPath())
		if err != nil {
			return err
		}
		state.ExpandConfig(cfg)
		if err := state.ConfigValidator(cfg); err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Println("Config is valid")
		fmt.Println(string(out))

		if showRoutes {
			return printStaticRoutes(cmd.OutOrStdout(), cfg)
		}
		return nil
	},
	SilenceUsage: true,
	GroupID:      "init",
}

// printStaticRoutes prints the shortest route between every pair of switches named in static_links
func printStaticRoutes(w io.Writer, cfg *state.ControllerCfg) error {
	engine := routing.NewEngine(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, spec := range cfg.StaticLinks {
		links, err := state.ParseLinks(spec)
		if err != nil {
			return err
		}
		for _, l := range links {
			engine.Update(l.Src, l.SrcPort, l.Dst, l.DstPort, true)
		}
	}
	nodes := engine.Nodes()
	for _, src := range nodes {
		for _, dst := range nodes {
			if src == dst {
				continue
			}
			r, ok := engine.GetRoute(src, dst)
			if !ok {
				fmt.Fprintf(w, "%s -> %s: unreachable\n", src, dst)
				continue
			}
			fmt.Fprintln(w, r)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVarP(&showRoutes, "routes", "r", false, "Print shortest routes over the static links")
}
