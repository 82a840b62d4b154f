package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sploithunter/harness-bench/internal/config"
	"github.com/sploithunter/harness-bench/internal/report"
	"github.com/sploithunter/harness-bench/internal/result"
	"github.com/sploithunter/harness-bench/internal/runner"
	"github.com/sploithunter/harness-bench/internal/usage"
)

var (
	flagHarness  string
	flagTask     string
	flagDomain   string
	flagParallel int
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a benchmark run",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringVar(&flagHarness, "harness", "", "filter to a single harness")
	cmd.Flags().StringVar(&flagTask, "task", "", "filter to a single task")
	cmd.Flags().StringVar(&flagDomain, "domain", "", "filter tasks by domain")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "max concurrent runs (overrides config)")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagParallel > 0 {
		cfg.Workers = flagParallel
	}
	if cfg.Secrets.EnvFile != "" {
		if err := godotenv.Load(cfg.Secrets.EnvFile); err != nil {
			return fmt.Errorf("loading secrets env file: %w", err)
		}
	}

	var prices *usage.Table
	if cfg.Pricing.File != "" {
		prices, err = usage.LoadTable(cfg.Pricing.File)
		if err != nil {
			return err
		}
	}

	harnesses := filterHarnesses(cfg.Harnesses, flagHarness)
	tasks := filterTasks(cfg.Tasks, flagTask, flagDomain)
	if len(harnesses) == 0 || len(tasks) == 0 {
		return fmt.Errorf("nothing to run: %d harnesses, %d tasks after filters", len(harnesses), len(tasks))
	}

	batchDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", batchDir)

	// an interrupt cancels in-flight runs and skips undispatched ones
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var jobs []runner.Job
	for i := range harnesses {
		for j := range tasks {
			h, task := &harnesses[i], &tasks[j]
			jobs = append(jobs, func(ctx context.Context) error {
				fmt.Printf("Running %s × %s...\n", h.ID, task.ID)
				meta, err := runner.Run(ctx, &runner.RunOpts{
					Harness:  h,
					Task:     task,
					Limits:   cfg.Limits,
					Sandbox:  cfg.Sandbox,
					BatchDir: batchDir,
					Prices:   prices,
				})
				if err != nil {
					return err
				}
				fmt.Printf("  %s × %s: %s after %d iterations (%ds)\n",
					meta.Harness, meta.Task, meta.Status, meta.Iterations, meta.DurationS)
				return nil
			})
		}
	}

	for _, err := range runner.RunPool(ctx, cfg.Workers, jobs) {
		log.Printf("run error: %v", err)
	}

	fmt.Println("\n--- Results ---")
	return report.Generate(batchDir, "table", os.Stdout)
}

func filterHarnesses(harnesses []config.Harness, id string) []config.Harness {
	if id == "" {
		return harnesses
	}
	var filtered []config.Harness
	for _, h := range harnesses {
		if h.ID == id {
			filtered = append(filtered, h)
		}
	}
	return filtered
}

func filterTasks(tasks []config.Task, id, domain string) []config.Task {
	if id == "" && domain == "" {
		return tasks
	}
	var filtered []config.Task
	for _, t := range tasks {
		if id != "" && t.ID != id {
			continue
		}
		if domain != "" && !matchDomain(t.Domain, domain) {
			continue
		}
		filtered = append(filtered, t)
	}
	return filtered
}

func matchDomain(domain, pattern string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(domain, prefix+"/")
	}
	return domain == pattern
}
