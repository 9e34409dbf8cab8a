package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wnsim/wnsim/sim/scenario"
)

// RunReport is the JSON summary printed after a run.
type RunReport struct {
	Scenario    string         `json:"scenario,omitempty"`
	Seed        int64          `json:"seed"`
	Events      uint64         `json:"events"`
	GoodputBps  float64        `json:"goodput_bps"`
	Flows       []FlowReport   `json:"flows"`
	Mac         []MacReport    `json:"mac"`
	TraceEvents map[string]int `json:"trace_events,omitempty"`
}

// FlowReport summarizes one configured flow.
type FlowReport struct {
	Flow        string            `json:"flow"`
	TxPackets   uint64            `json:"tx_packets"`
	RxPackets   uint64            `json:"rx_packets"`
	LostPackets uint64            `json:"lost_packets"`
	RxBytes     uint64            `json:"rx_bytes"`
	MeanDelayMs float64           `json:"mean_delay_ms"`
	GoodputBps  float64           `json:"goodput_bps"`
	Drops       map[string]uint64 `json:"drops,omitempty"`
}

// MacReport summarizes one device's contention counters.
type MacReport struct {
	Device     int    `json:"device"`
	Attempts   uint64 `json:"attempts"`
	Successes  uint64 `json:"successes"`
	Retries    uint64 `json:"retries"`
	RetryDrops uint64 `json:"retry_drops"`
	QueueDrops uint64 `json:"queue_drops"`
	Broadcasts uint64 `json:"broadcasts"`
	RtsSent    uint64 `json:"rts_sent"`
}

// NewRunReport flattens res for printing.
func NewRunReport(res *scenario.Result) RunReport {
	rep := RunReport{
		Scenario:   res.Name,
		Seed:       res.Seed,
		Events:     res.Events,
		GoodputBps: res.TotalGoodput(),
	}
	for _, f := range res.Flows {
		st := f.Stats
		rep.Flows = append(rep.Flows, FlowReport{
			Flow:        f.Tuple.String(),
			TxPackets:   st.TxPackets,
			RxPackets:   st.RxPackets,
			LostPackets: st.LostPackets,
			RxBytes:     st.RxBytes,
			MeanDelayMs: float64(st.MeanDelay().Microseconds()) / 1000,
			GoodputBps:  f.Goodput,
			Drops:       st.Drops,
		})
	}
	for i, m := range res.Mac {
		rep.Mac = append(rep.Mac, MacReport{
			Device:     i,
			Attempts:   m.Attempts,
			Successes:  m.Successes,
			Retries:    m.Retries,
			RetryDrops: m.RetryDrops,
			QueueDrops: m.QueueDrops,
			Broadcasts: m.Broadcasts,
			RtsSent:    m.RtsSent,
		})
	}
	if res.Trace != nil && res.Trace.TotalEvents > 0 {
		rep.TraceEvents = make(map[string]int, len(res.Trace.ByKind))
		for k, n := range res.Trace.ByKind {
			rep.TraceEvents[string(k)] = n
		}
	}
	return rep
}

// PrintRunReport writes a header and the indented JSON report to w.
func PrintRunReport(w io.Writer, res *scenario.Result) error {
	data, err := json.MarshalIndent(NewRunReport(res), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Fprintln(w, "=== Simulation Results ===")
	fmt.Fprintln(w, string(data))
	return nil
}

var sweepHeader = []string{"seed", "payload_size", "rts_cts_threshold", "data_rate", "position_scale", "goodput_bps", "tx_packets", "rx_packets", "lost_packets", "mean_delay_ms"}

// sweepRows renders one CSV row per sweep point.
func sweepRows(results []scenario.SweepResult) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		tot := r.Result.All.Totals()
		rows = append(rows, []string{
			fmt.Sprint(r.Point.Seed),
			fmt.Sprint(r.Point.PayloadSize),
			fmt.Sprint(r.Point.RtsCtsThreshold),
			r.Point.DataRate.String(),
			fmt.Sprint(r.Point.PositionScale),
			fmt.Sprintf("%.1f", r.Result.TotalGoodput()),
			fmt.Sprint(tot.TxPackets),
			fmt.Sprint(tot.RxPackets),
			fmt.Sprint(tot.LostPackets),
			fmt.Sprintf("%.3f", float64(tot.MeanDelay().Microseconds())/1000),
		})
	}
	return rows
}
