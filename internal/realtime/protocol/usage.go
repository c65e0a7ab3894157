package protocol

// Usage accumulates billable counters for one session.
type Usage struct {
	Responses    int64 `json:"responses"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// Add returns the sum of u and o. Negative deltas are ignored so counters never decrease.
func (u Usage) Add(o Usage) Usage {
	if o.Responses > 0 {
		u.Responses += o.Responses
	}
	if o.InputTokens > 0 {
		u.InputTokens += o.InputTokens
	}
	if o.OutputTokens > 0 {
		u.OutputTokens += o.OutputTokens
	}
	if o.TotalTokens > 0 {
		u.TotalTokens += o.TotalTokens
	}
	return u
}

// UsageOf extracts the usage delta carried by ev. ok is false for events without usage.
func UsageOf(ev ServerEvent) (Usage, bool) {
	done, isDone := ev.(*ResponseDone)
	if !isDone {
		return Usage{}, false
	}
	u := Usage{Responses: 1}
	if r := done.Response.Usage; r != nil {
		u.InputTokens = r.InputTokens
		u.OutputTokens = r.OutputTokens
		u.TotalTokens = r.TotalTokens
		if u.TotalTokens == 0 {
			u.TotalTokens = r.InputTokens + r.OutputTokens
		}
	}
	return u, true
}
