// Package observe exports the counters of finished runs as Prometheus
// metrics, labeled by run so that the points of a sweep can share one
// registry and one textfile.
package observe

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wnsim/wnsim/sim/scenario"
)

var flowLabels = []string{"run", "flow", "src", "dst", "src_port", "dst_port"}

// RunCollector bundles the per-run metrics.
type RunCollector struct {
	gatherer prometheus.Gatherer

	Events *prometheus.CounterVec

	FlowTxPackets *prometheus.CounterVec
	FlowTxBytes   *prometheus.CounterVec
	FlowRxPackets *prometheus.CounterVec
	FlowRxBytes   *prometheus.CounterVec
	FlowLost      *prometheus.CounterVec
	FlowDrops     *prometheus.CounterVec
	FlowDelaySum  *prometheus.CounterVec
	FlowForwarded *prometheus.CounterVec
	FlowGoodput   *prometheus.GaugeVec

	MacAttempts   *prometheus.CounterVec
	MacSuccesses  *prometheus.CounterVec
	MacRetries    *prometheus.CounterVec
	MacRetryDrops *prometheus.CounterVec
	MacQueueDrops *prometheus.CounterVec
	MacBroadcasts *prometheus.CounterVec
	MacRtsSent    *prometheus.CounterVec
	MacDuplicates *prometheus.CounterVec
}

// NewRunCollector registers run metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewRunCollector(reg prometheus.Registerer) (*RunCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &RunCollector{gatherer: gatherer}
	var err error
	counter := func(name, help string, labels []string) *prometheus.CounterVec {
		if err != nil {
			return nil
		}
		var vec *prometheus.CounterVec
		vec, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels), name)
		return vec
	}
	macLabels := []string{"run", "device"}

	c.Events = counter("wnsim_events_total", "Events executed by the scheduler.", []string{"run"})
	c.FlowTxPackets = counter("wnsim_flow_tx_packets_total", "Packets originated by a flow.", flowLabels)
	c.FlowTxBytes = counter("wnsim_flow_tx_bytes_total", "IP bytes originated by a flow.", flowLabels)
	c.FlowRxPackets = counter("wnsim_flow_rx_packets_total", "Packets of a flow delivered to their destination.", flowLabels)
	c.FlowRxBytes = counter("wnsim_flow_rx_bytes_total", "IP bytes of a flow delivered to their destination.", flowLabels)
	c.FlowLost = counter("wnsim_flow_lost_packets_total", "Packets of a flow dropped or timed out.", flowLabels)
	c.FlowDrops = counter("wnsim_flow_drops_total", "Drops of a flow's packets by reason.", append(append([]string(nil), flowLabels...), "reason"))
	c.FlowDelaySum = counter("wnsim_flow_delay_seconds_total", "Sum of one-way delays of delivered packets.", flowLabels)
	c.FlowForwarded = counter("wnsim_flow_forwarded_total", "Times a flow's packets were relayed.", flowLabels)
	c.MacAttempts = counter("wnsim_mac_attempts_total", "Unicast frames taken into service.", macLabels)
	c.MacSuccesses = counter("wnsim_mac_successes_total", "Unicast frames acknowledged.", macLabels)
	c.MacRetries = counter("wnsim_mac_retries_total", "Retransmissions.", macLabels)
	c.MacRetryDrops = counter("wnsim_mac_retry_drops_total", "Frames dropped after the retry limit.", macLabels)
	c.MacQueueDrops = counter("wnsim_mac_queue_drops_total", "Frames refused by a full queue.", macLabels)
	c.MacBroadcasts = counter("wnsim_mac_broadcasts_total", "Broadcast frames sent.", macLabels)
	c.MacRtsSent = counter("wnsim_mac_rts_sent_total", "RTS frames sent.", macLabels)
	c.MacDuplicates = counter("wnsim_mac_duplicates_total", "Retransmitted frames received again and discarded.", macLabels)
	if err != nil {
		return nil, err
	}

	goodput := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wnsim_flow_goodput_bits_per_second",
		Help: "Application payload bits received per second of a configured flow's active window.",
	}, flowLabels)
	if c.FlowGoodput, err = registerGaugeVec(reg, goodput, "wnsim_flow_goodput_bits_per_second"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *RunCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Observe records res under the run label. Each run label should be
// observed once; counters accumulate.
func (c *RunCollector) Observe(run string, res *scenario.Result) {
	if c == nil || res == nil {
		return
	}
	c.Events.WithLabelValues(run).Add(float64(res.Events))

	goodput := make(map[string]float64, len(res.Flows))
	for _, f := range res.Flows {
		goodput[f.Tuple.String()] += f.Goodput
	}
	for _, r := range res.All.Flows {
		lv := []string{
			run,
			strconv.FormatUint(uint64(r.ID), 10),
			r.Tuple.Src.String(),
			r.Tuple.Dst.String(),
			strconv.Itoa(int(r.Tuple.SrcPort)),
			strconv.Itoa(int(r.Tuple.DstPort)),
		}
		st := r.Stats
		c.FlowTxPackets.WithLabelValues(lv...).Add(float64(st.TxPackets))
		c.FlowTxBytes.WithLabelValues(lv...).Add(float64(st.TxBytes))
		c.FlowRxPackets.WithLabelValues(lv...).Add(float64(st.RxPackets))
		c.FlowRxBytes.WithLabelValues(lv...).Add(float64(st.RxBytes))
		c.FlowLost.WithLabelValues(lv...).Add(float64(st.LostPackets))
		c.FlowDelaySum.WithLabelValues(lv...).Add(st.DelaySum.Seconds())
		c.FlowForwarded.WithLabelValues(lv...).Add(float64(st.TimesForwarded))
		for reason, n := range st.Drops {
			c.FlowDrops.WithLabelValues(append(lv, reason)...).Add(float64(n))
		}
		if g, ok := goodput[r.Tuple.String()]; ok {
			c.FlowGoodput.WithLabelValues(lv...).Set(g)
		}
	}

	for i, st := range res.Mac {
		dev := strconv.Itoa(i)
		c.MacAttempts.WithLabelValues(run, dev).Add(float64(st.Attempts))
		c.MacSuccesses.WithLabelValues(run, dev).Add(float64(st.Successes))
		c.MacRetries.WithLabelValues(run, dev).Add(float64(st.Retries))
		c.MacRetryDrops.WithLabelValues(run, dev).Add(float64(st.RetryDrops))
		c.MacQueueDrops.WithLabelValues(run, dev).Add(float64(st.QueueDrops))
		c.MacBroadcasts.WithLabelValues(run, dev).Add(float64(st.Broadcasts))
		c.MacRtsSent.WithLabelValues(run, dev).Add(float64(st.RtsSent))
		c.MacDuplicates.WithLabelValues(run, dev).Add(float64(st.Duplicates))
	}
}

// WriteTextfile writes everything gathered by c in the Prometheus text
// format, for the node exporter's textfile collector.
func (c *RunCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.Gatherer()); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
