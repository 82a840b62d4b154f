// Package usage accounts for model spend. Agents that emit a usage log
// write one JSON record per request; a pricing table maps token counts
// to dollars so runs can be bounded by cost as well as time.
package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Record is one model request as reported by the agent's usage log.
type Record struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// ParseLog reads a JSONL usage log. Lines that are not valid records
// are skipped; agents interleave free-form logging with usage records.
func ParseLog(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading usage log: %w", err)
	}
	var records []Record
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Model != "" {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Total sums token counts across records.
func Total(records []Record) (inputTokens, outputTokens int) {
	for _, r := range records {
		inputTokens += r.InputTokens
		outputTokens += r.OutputTokens
	}
	return inputTokens, outputTokens
}

type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider then model to per-1K-token prices.
type Table struct {
	Providers map[string]map[string]ModelPricing
}

func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// Cost prices a single record. Unknown provider/model pairs cost zero;
// a run is never failed for lacking a price entry.
func (t *Table) Cost(rec Record) float64 {
	if t == nil || t.Providers == nil {
		return 0
	}
	models, ok := t.Providers[rec.Provider]
	if !ok {
		return 0
	}
	p, ok := models[rec.Model]
	if !ok {
		return 0
	}
	return (float64(rec.InputTokens)/1000.0)*p.Input + (float64(rec.OutputTokens)/1000.0)*p.Output
}

// CostAll prices every record in a log slice.
func (t *Table) CostAll(records []Record) float64 {
	var total float64
	for _, r := range records {
		total += t.Cost(r)
	}
	return total
}
