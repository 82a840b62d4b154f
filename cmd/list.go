package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sploithunter/harness-bench/internal/config"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured harnesses and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Println("Harnesses:")
			for _, h := range cfg.Harnesses {
				label := h.ID
				if h.Model != "" {
					label += " (model: " + h.Model + ")"
				}
				fmt.Printf("  - %s\n", label)
			}
			fmt.Println("\nTasks:")
			for _, t := range cfg.Tasks {
				if t.Domain != "" {
					fmt.Printf("  - %s [%s]\n", t.ID, t.Domain)
				} else {
					fmt.Printf("  - %s\n", t.ID)
				}
			}
			return nil
		},
	}
}
