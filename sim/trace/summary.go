package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalEvents int
	ByKind      map[Kind]int
	DropReasons map[string]int // reason → count of drop events
	MaxAttempt  int            // highest retry attempt seen
	UniqueNodes int
	NodeEvents  map[int]int // node → count of events
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		ByKind:      make(map[Kind]int),
		DropReasons: make(map[string]int),
		NodeEvents:  make(map[int]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalEvents = len(st.Records)
	for _, r := range st.Records {
		summary.ByKind[r.Kind]++
		summary.NodeEvents[r.Node]++
		switch r.Kind {
		case KindDrop:
			summary.DropReasons[r.Reason]++
		case KindRetry:
			if r.Attempt > summary.MaxAttempt {
				summary.MaxAttempt = r.Attempt
			}
		}
	}

	summary.UniqueNodes = len(summary.NodeEvents)

	return summary
}
