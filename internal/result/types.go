package result

// RunMeta is the persisted outcome of one harness/task run.
type RunMeta struct {
	RunID        string  `json:"run_id"`
	Harness      string  `json:"harness"`
	Task         string  `json:"task"`
	Status       string  `json:"status"`
	FailReason   string  `json:"fail_reason,omitempty"`
	Iterations   int     `json:"iterations"`
	DurationS    int     `json:"duration_s"`
	Score        float64 `json:"score"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}
