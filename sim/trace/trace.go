package trace

// TraceLevel controls whether packet events are retained.
type TraceLevel string

const (
	// TraceLevelNone keeps nothing; callbacks still fire.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelPackets records every packet event.
	TraceLevelPackets TraceLevel = "packets"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelPackets: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// MaxRecords caps retained records; 0 means unbounded. Events past the
	// cap are still counted in Dropped.
	MaxRecords int
}

// SimulationTrace collects packet records during a run.
type SimulationTrace struct {
	Config  TraceConfig
	Records []Record
	Dropped int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:  config,
		Records: make([]Record, 0),
	}
}

// Record appends r unless tracing is off or the cap is reached.
func (st *SimulationTrace) Record(r Record) {
	if st.Config.Level != TraceLevelPackets {
		return
	}
	if st.Config.MaxRecords > 0 && len(st.Records) >= st.Config.MaxRecords {
		st.Dropped++
		return
	}
	st.Records = append(st.Records, r)
}

// Callback receives trace events.
type Callback func(Record)

// Dispatcher fans events out to callbacks registered per kind, in
// registration order.
type Dispatcher struct {
	callbacks map[Kind][]Callback
	counts    map[Kind]uint64
}

// NewDispatcher returns a dispatcher with no callbacks.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		callbacks: make(map[Kind][]Callback),
		counts:    make(map[Kind]uint64),
	}
}

// On registers cb for events of kind k.
func (d *Dispatcher) On(k Kind, cb Callback) {
	d.callbacks[k] = append(d.callbacks[k], cb)
}

// Emit counts r and delivers it to the callbacks of its kind.
func (d *Dispatcher) Emit(r Record) {
	d.counts[r.Kind]++
	for _, cb := range d.callbacks[r.Kind] {
		cb(r)
	}
}

// Count returns how many events of kind k were emitted.
func (d *Dispatcher) Count(k Kind) uint64 { return d.counts[k] }
