package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sploithunter/harness-bench/internal/controller"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <workspace>",
		Short: "Re-derive a run outcome from its iteration log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := controller.Replay(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Status:     %s\n", summary.Status)
			if summary.Reason != "" {
				fmt.Printf("Reason:     %s\n", summary.Reason)
			}
			fmt.Printf("Iterations: %d\n", summary.Iterations)
			fmt.Printf("Score:      %.3f\n", summary.Score)
			if summary.CostUSD > 0 {
				fmt.Printf("Cost:       $%.2f\n", summary.CostUSD)
			}
			return nil
		},
	}
}
