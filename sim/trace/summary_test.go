package trace

import "testing"

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	// GIVEN an empty trace
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelPackets})

	// WHEN summarized
	summary := Summarize(st)

	// THEN all counts are zero
	if summary.TotalEvents != 0 {
		t.Errorf("expected 0 total events, got %d", summary.TotalEvents)
	}
	if summary.UniqueNodes != 0 {
		t.Errorf("expected 0 unique nodes, got %d", summary.UniqueNodes)
	}
	if summary.MaxAttempt != 0 {
		t.Error("expected max attempt 0")
	}
	if len(summary.ByKind) != 0 || len(summary.DropReasons) != 0 {
		t.Error("expected empty distributions")
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with mixed packet events
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelPackets})
	st.Record(Record{Kind: KindTransmit, Node: 0, UID: 1})
	st.Record(Record{Kind: KindRetry, Node: 0, UID: 1, Attempt: 1})
	st.Record(Record{Kind: KindRetry, Node: 0, UID: 1, Attempt: 2})
	st.Record(Record{Kind: KindReceive, Node: 1, UID: 1})
	st.Record(Record{Kind: KindDrop, Node: 2, UID: 2, Reason: "no-route"})
	st.Record(Record{Kind: KindDrop, Node: 2, UID: 3, Reason: "no-route"})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts reflect the records
	if summary.TotalEvents != 6 {
		t.Errorf("expected 6 events, got %d", summary.TotalEvents)
	}
	if summary.ByKind[KindRetry] != 2 {
		t.Errorf("expected 2 retries, got %d", summary.ByKind[KindRetry])
	}
	if summary.DropReasons["no-route"] != 2 {
		t.Errorf("expected 2 no-route drops, got %d", summary.DropReasons["no-route"])
	}
	if summary.MaxAttempt != 2 {
		t.Errorf("expected max attempt 2, got %d", summary.MaxAttempt)
	}
	if summary.UniqueNodes != 3 {
		t.Errorf("expected 3 unique nodes, got %d", summary.UniqueNodes)
	}
	if summary.NodeEvents[0] != 3 {
		t.Errorf("expected 3 events at node 0, got %d", summary.NodeEvents[0])
	}
}

func TestSummarize_NilTrace_SafeZero(t *testing.T) {
	summary := Summarize(nil)
	if summary == nil {
		t.Fatal("expected non-nil summary")
	}
	if summary.TotalEvents != 0 || summary.ByKind == nil {
		t.Error("expected zero summary with initialized maps")
	}
}
