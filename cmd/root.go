package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harness-bench",
		Short: "Iteration-loop benchmark for AI coding agents",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "harness-bench.yaml", "config file path")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newReplayCmd())
	return root
}
