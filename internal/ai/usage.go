package ai

// Usage carries the provider-reported token counters, normalised by each
// adapter's response converter.
type Usage struct {
	InputTokens    int `json:"input_tokens,omitempty"`
	OutputTokens   int `json:"output_tokens,omitempty"`
	ThinkingTokens int `json:"thinking_tokens,omitempty"`
	TotalTokens    int `json:"total_tokens,omitempty"`
	// Limit is the applicable output budget when one was requested.
	Limit int `json:"limit,omitempty"`
	// LimitBasis names where Limit came from ("request", "config_default").
	LimitBasis string `json:"limit_basis,omitempty"`
}

// UsageSummary is the canonical per-reply usage structure surfaced to
// clients.
type UsageSummary struct {
	Limit      int    `json:"limit,omitempty"`
	Input      int    `json:"input,omitempty"`
	Output     int    `json:"output,omitempty"`
	Thinking   int    `json:"thinking,omitempty"`
	Total      int    `json:"total,omitempty"`
	Used       int    `json:"used"`
	Remaining  int    `json:"remaining,omitempty"`
	LimitBasis string `json:"limit_basis,omitempty"`
}

// SummarizeUsage folds heterogeneous provider counters into the canonical
// summary. Precedence for Used: with a known limit, output wins over
// total; without one, total wins, then output, then input+output.
func SummarizeUsage(u *Usage) *UsageSummary {
	if u == nil {
		return nil
	}
	summary := &UsageSummary{
		Limit:      u.Limit,
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		Thinking:   u.ThinkingTokens,
		Total:      u.TotalTokens,
		LimitBasis: u.LimitBasis,
	}

	switch {
	case u.Limit > 0 && u.OutputTokens > 0:
		summary.Used = u.OutputTokens
	case u.TotalTokens > 0:
		summary.Used = u.TotalTokens
	case u.OutputTokens > 0:
		summary.Used = u.OutputTokens
	default:
		summary.Used = u.InputTokens + u.OutputTokens
	}

	if u.Limit > 0 {
		remaining := u.Limit - summary.Used
		if remaining < 0 {
			remaining = 0
		}
		summary.Remaining = remaining
	}
	return summary
}
