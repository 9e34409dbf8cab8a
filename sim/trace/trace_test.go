package trace

import (
	"testing"
	"time"
)

func TestSimulationTrace_Record_AppendsWhenEnabled(t *testing.T) {
	// GIVEN a trace configured for packets
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelPackets})

	// WHEN a record is recorded
	st.Record(Record{Kind: KindTransmit, Time: time.Millisecond, Node: 2, Device: 3, UID: 7, Size: 100})

	// THEN the trace contains it
	if len(st.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(st.Records))
	}
	if st.Records[0].UID != 7 || st.Records[0].Kind != KindTransmit {
		t.Errorf("unexpected record %+v", st.Records[0])
	}
}

func TestSimulationTrace_LevelNone_KeepsNothing(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelNone})
	st.Record(Record{Kind: KindDrop})
	if len(st.Records) != 0 {
		t.Errorf("expected no records, got %d", len(st.Records))
	}
}

func TestSimulationTrace_MaxRecords_CountsOverflow(t *testing.T) {
	st := NewSimulationTrace(TraceConfig{Level: TraceLevelPackets, MaxRecords: 2})
	for i := 0; i < 5; i++ {
		st.Record(Record{Kind: KindReceive, UID: uint64(i)})
	}
	if len(st.Records) != 2 {
		t.Errorf("expected 2 retained records, got %d", len(st.Records))
	}
	if st.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", st.Dropped)
	}
}

func TestDispatcher_DeliversByKindInRegistrationOrder(t *testing.T) {
	// GIVEN two receive callbacks and one drop callback
	d := NewDispatcher()
	var order []string
	d.On(KindReceive, func(Record) { order = append(order, "rx1") })
	d.On(KindReceive, func(Record) { order = append(order, "rx2") })
	d.On(KindDrop, func(r Record) { order = append(order, "drop:"+r.Reason) })

	// WHEN events of several kinds are emitted
	d.Emit(Record{Kind: KindReceive})
	d.Emit(Record{Kind: KindTransmit})
	d.Emit(Record{Kind: KindDrop, Reason: "no-route"})

	// THEN only matching callbacks fire, in order, and all kinds are counted
	want := []string{"rx1", "rx2", "drop:no-route"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
	if d.Count(KindTransmit) != 1 || d.Count(KindRetry) != 0 {
		t.Error("unexpected counts")
	}
}

func TestIsValidTraceLevel(t *testing.T) {
	tests := []struct {
		level string
		want  bool
	}{
		{"", true},
		{"none", true},
		{"packets", true},
		{"decisions", false},
	}
	for _, tc := range tests {
		if got := IsValidTraceLevel(tc.level); got != tc.want {
			t.Errorf("IsValidTraceLevel(%q) = %v, want %v", tc.level, got, tc.want)
		}
	}
	if !IsValidKind(KindRetry) || IsValidKind("bogus") {
		t.Error("unexpected kind validity")
	}
}
