// Package report aggregates run results per harness into a comparison
// table, markdown, or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sploithunter/harness-bench/internal/lifecycle"
	"github.com/sploithunter/harness-bench/internal/result"
)

type HarnessSummary struct {
	Harness        string  `json:"harness"`
	Runs           int     `json:"runs"`
	PassRate       float64 `json:"pass_rate"`
	MeanScore      float64 `json:"mean_score"`
	MeanIterations float64 `json:"mean_iterations"`
	MeanCostUSD    float64 `json:"mean_cost_usd"`
}

// Generate reads run results under batchDir and writes a summary report.
func Generate(batchDir, format string, w io.Writer) error {
	metas, err := result.CollectRunMeta(batchDir)
	if err != nil {
		return err
	}
	summaries := aggregate(metas)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func aggregate(metas []*result.RunMeta) []HarnessSummary {
	type accum struct {
		count      int
		passed     int
		score      float64
		iterations float64
		cost       float64
	}
	byHarness := map[string]*accum{}

	for _, m := range metas {
		a, ok := byHarness[m.Harness]
		if !ok {
			a = &accum{}
			byHarness[m.Harness] = a
		}
		a.count++
		a.score += m.Score
		a.iterations += float64(m.Iterations)
		a.cost += m.TotalCostUSD
		if m.Status == string(lifecycle.StatusCompleted) {
			a.passed++
		}
	}

	var summaries []HarnessSummary
	for name, a := range byHarness {
		summaries = append(summaries, HarnessSummary{
			Harness:        name,
			Runs:           a.count,
			PassRate:       float64(a.passed) / float64(a.count),
			MeanScore:      a.score / float64(a.count),
			MeanIterations: a.iterations / float64(a.count),
			MeanCostUSD:    a.cost / float64(a.count),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Harness < summaries[j].Harness
	})
	return summaries
}

func writeTable(summaries []HarnessSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HARNESS\tRUNS\tPASS RATE\tMEAN SCORE\tMEAN ITERS\tMEAN COST")
	fmt.Fprintln(tw, strings.Repeat("-", 70))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.3f\t%.1f\t$%.2f\n",
			s.Harness, s.Runs, s.PassRate*100, s.MeanScore, s.MeanIterations, s.MeanCostUSD)
	}
	return tw.Flush()
}

func writeMarkdown(summaries []HarnessSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Harness | Runs | Pass Rate | Mean Score | Mean Iters | Mean Cost |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %.0f%% | %.3f | %.1f | $%.2f |\n",
			s.Harness, s.Runs, s.PassRate*100, s.MeanScore, s.MeanIterations, s.MeanCostUSD)
	}
	return nil
}

func writeJSON(summaries []HarnessSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
