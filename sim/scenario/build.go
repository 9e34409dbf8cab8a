package scenario

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/flow"
	"github.com/wnsim/wnsim/sim/mac"
	"github.com/wnsim/wnsim/sim/mobility"
	"github.com/wnsim/wnsim/sim/network"
	"github.com/wnsim/wnsim/sim/propagation"
	"github.com/wnsim/wnsim/sim/routing"
	"github.com/wnsim/wnsim/sim/trace"
)

const tracerName = "github.com/wnsim/wnsim/sim/scenario"

// lossParams lists the parameter names each loss model accepts.
var lossParams = map[string]map[string]bool{
	"friis":          {"frequency": true, "system_loss": true, "min_distance": true},
	"log-distance":   {"exponent": true, "reference_distance": true, "reference_loss": true},
	"two-ray-ground": {"frequency": true, "system_loss": true, "min_distance": true, "height": true},
	"cost231":        {"frequency": true, "bs_height": true, "ss_height": true, "shadowing_margin": true, "min_distance": true},
	"nakagami":       {"m0": true, "m1": true, "m2": true, "distance1": true, "distance2": true},
	"range":          {"max_range": true},
}

// set overwrites *dst with params[name] when present.
func set(params map[string]float64, name string, dst *float64) {
	if v, ok := params[name]; ok {
		*dst = v
	}
}

// lossFactory turns a LossSpec into a factory bound to the channel stream
// at channel creation.
func lossFactory(l LossSpec) (propagation.Factory, error) {
	p := l.Params
	switch l.Model {
	case "friis":
		cfg := propagation.DefaultFriisConfig()
		set(p, "frequency", &cfg.Frequency)
		set(p, "system_loss", &cfg.SystemLoss)
		set(p, "min_distance", &cfg.MinDistance)
		return func(*rand.Rand) (propagation.LossModel, error) { return propagation.NewFriis(cfg) }, nil
	case "log-distance":
		cfg := propagation.DefaultLogDistanceConfig()
		set(p, "exponent", &cfg.Exponent)
		set(p, "reference_distance", &cfg.ReferenceDistance)
		set(p, "reference_loss", &cfg.ReferenceLossDb)
		return func(*rand.Rand) (propagation.LossModel, error) { return propagation.NewLogDistance(cfg) }, nil
	case "two-ray-ground":
		cfg := propagation.DefaultTwoRayGroundConfig()
		set(p, "frequency", &cfg.Frequency)
		set(p, "system_loss", &cfg.SystemLoss)
		set(p, "min_distance", &cfg.MinDistance)
		set(p, "height", &cfg.HeightAboveZ)
		return func(*rand.Rand) (propagation.LossModel, error) { return propagation.NewTwoRayGround(cfg) }, nil
	case "cost231":
		cfg := propagation.DefaultCost231Config()
		set(p, "frequency", &cfg.Frequency)
		set(p, "bs_height", &cfg.BSAntennaHeight)
		set(p, "ss_height", &cfg.SSAntennaHeight)
		set(p, "shadowing_margin", &cfg.ShadowingMarginDb)
		set(p, "min_distance", &cfg.MinDistance)
		if l.CitySize != "" {
			cfg.CitySize = propagation.CitySize(l.CitySize)
		}
		return func(*rand.Rand) (propagation.LossModel, error) { return propagation.NewCost231(cfg) }, nil
	case "nakagami":
		cfg := propagation.DefaultNakagamiConfig()
		set(p, "m0", &cfg.M0)
		set(p, "m1", &cfg.M1)
		set(p, "m2", &cfg.M2)
		set(p, "distance1", &cfg.Distance1)
		set(p, "distance2", &cfg.Distance2)
		return func(stream *rand.Rand) (propagation.LossModel, error) { return propagation.NewNakagami(cfg, stream) }, nil
	case "range":
		r := 250.0
		set(p, "max_range", &r)
		return func(*rand.Rand) (propagation.LossModel, error) { return propagation.NewRange(r) }, nil
	}
	return nil, fmt.Errorf("unknown loss model %q: %w", l.Model, sim.ErrInvalidConfig)
}

func (d *Descriptor) macConfig() (mac.Config, error) {
	m := d.Mac
	cfg := mac.DefaultConfig(mac.Standard(m.Standard))
	if m.DataRate != 0 {
		cfg.DataRate = float64(m.DataRate)
	}
	if m.RtsCtsThreshold != nil {
		cfg.RtsCtsThreshold = *m.RtsCtsThreshold
	}
	if m.RetryLimit != nil {
		cfg.RetryLimit = *m.RetryLimit
	}
	if m.QueueLimit != nil {
		cfg.QueueLimit = *m.QueueLimit
	}
	if m.TxPowerDbm != nil {
		cfg.TxPowerDbm = *m.TxPowerDbm
	}
	cfg.Capture = m.Capture
	if m.CaptureMarginDb != nil {
		cfg.CaptureMarginDb = *m.CaptureMarginDb
	}
	if err := cfg.Validate(); err != nil {
		return mac.Config{}, fmt.Errorf("mac: %w", err)
	}
	return cfg, nil
}

// olsrConfig builds the agent timers and link costs; addr maps a node
// index to its device address.
func (d *Descriptor) olsrConfig(addr func(node int) netip.Addr) routing.OlsrConfig {
	cfg := routing.DefaultOlsrConfig()
	if len(d.Routing.LinkCosts) > 0 {
		costs := make(map[[2]netip.Addr]float64, 2*len(d.Routing.LinkCosts))
		for _, c := range d.Routing.LinkCosts {
			a, b := addr(c.A), addr(c.B)
			costs[[2]netip.Addr{a, b}] = c.Cost
			costs[[2]netip.Addr{b, a}] = c.Cost
		}
		cfg.LinkCost = func(a, b netip.Addr) float64 {
			if c, ok := costs[[2]netip.Addr{a, b}]; ok {
				return c
			}
			return 1
		}
	}
	if d.Routing.HelloInterval > 0 {
		cfg.HelloInterval = d.Routing.HelloInterval
	}
	if d.Routing.TcInterval > 0 {
		cfg.TcInterval = d.Routing.TcInterval
	}
	if d.Routing.HoldFactor > 0 {
		cfg.HoldFactor = d.Routing.HoldFactor
	}
	return cfg
}

func vec(p []float64) sim.Vector3 {
	v := sim.Vector3{X: p[0], Y: p[1]}
	if len(p) == 3 {
		v.Z = p[2]
	}
	return v
}

func (n NodeSpec) mobility() (mobility.Model, error) {
	if len(n.Waypoints) == 0 {
		return mobility.NewStatic(vec(n.Position))
	}
	pts := make([]mobility.Waypoint, len(n.Waypoints))
	for i, w := range n.Waypoints {
		pts[i] = mobility.Waypoint{Time: w.Time, Position: vec(w.Position)}
	}
	return mobility.NewWaypoints(pts)
}

// Build validates d and assembles a network ready to Run. Every node gets
// one device on a single shared channel, so node i owns device i.
func Build(d *Descriptor) (*network.Network, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, sim.ErrInvalidConfig)
	}
	macCfg, err := d.macConfig()
	if err != nil {
		return nil, err
	}
	nw := network.New(network.Config{
		Seed:     d.Seed,
		Trace:    trace.TraceConfig{Level: trace.TraceLevel(d.Trace)},
		MaxDelay: d.MaxDelay,
	})

	spec := network.ChannelSpec{Delay: propagation.NewConstantSpeed()}
	if d.Channel.PropagationSpeed > 0 {
		spec.Delay = &propagation.ConstantSpeed{Speed: d.Channel.PropagationSpeed}
	}
	for _, l := range d.Channel.Loss {
		f, err := lossFactory(l)
		if err != nil {
			return nil, err
		}
		spec.Loss = append(spec.Loss, f)
	}
	ch, err := nw.CreateChannel(spec)
	if err != nil {
		return nil, err
	}

	for i, n := range d.Nodes {
		m, err := n.mobility()
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		id, err := nw.CreateMobileNode(m)
		if err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
		if _, err := nw.AttachDevice(id, ch, macCfg); err != nil {
			return nil, fmt.Errorf("nodes[%d]: %w", i, err)
		}
	}

	if d.Routing.Protocol == routing.ProtocolOlsr {
		addr := func(node int) netip.Addr {
			a, _ := nw.Address(sim.DeviceID(node))
			return a
		}
		if err := nw.EnableRouting(d.olsrConfig(addr)); err != nil {
			return nil, fmt.Errorf("routing: %w", err)
		}
	}
	for i, s := range d.Routing.Static {
		dst, _ := nw.Address(sim.DeviceID(s.Destination))
		nh, _ := nw.Address(sim.DeviceID(s.NextHop))
		if err := nw.AddStaticRoute(sim.NodeID(s.Node), dst, nh); err != nil {
			return nil, fmt.Errorf("routing.static[%d]: %w", i, err)
		}
	}

	for i, f := range d.Flows {
		t := network.Traffic{
			Src:         sim.DeviceID(f.Src),
			Dst:         sim.BroadcastDevice,
			PayloadSize: f.PayloadSize,
			Start:       f.Start,
			Stop:        f.Stop,
			Rate:        float64(f.Rate),
			DstPort:     f.Port,
		}
		if f.Dst != nil {
			t.Dst = sim.DeviceID(*f.Dst)
		}
		if err := nw.AddTraffic(t); err != nil {
			return nil, fmt.Errorf("flows[%d]: %w", i, err)
		}
	}
	return nw, nil
}

// FlowResult is the delivery of one configured flow.
type FlowResult struct {
	Index int
	Tuple flow.FiveTuple
	Stats flow.Stats
	// Goodput is application payload bits received per second of the
	// flow's active window.
	Goodput float64
}

// Result is what a run yields.
type Result struct {
	Name   string
	Seed   int64
	Flows  []FlowResult
	All    flow.Snapshot
	Mac    []mac.Stats // indexed by node
	Trace  *trace.TraceSummary
	Events uint64
}

// TotalGoodput sums the goodput of every configured flow.
func (r *Result) TotalGoodput() float64 {
	var g float64
	for _, f := range r.Flows {
		g += f.Goodput
	}
	return g
}

// BuildAndRun builds d, runs it to d.Stop and collects the result. The
// network is destroyed before returning.
func BuildAndRun(ctx context.Context, d *Descriptor) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scenario.run", oteltrace.WithAttributes(
		attribute.String("scenario.name", d.Name),
		attribute.Int64("scenario.seed", d.Seed),
		attribute.Int("scenario.nodes", len(d.Nodes)),
		attribute.Int("scenario.flows", len(d.Flows)),
	))
	defer span.End()

	res, err := buildAndRun(ctx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("scenario.events", int64(res.Events)),
		attribute.Float64("scenario.goodput_bps", res.TotalGoodput()),
	)
	return res, nil
}

func buildAndRun(ctx context.Context, d *Descriptor) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nw, err := Build(d)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := nw.Destroy(); err != nil {
			logrus.Warnf("scenario %q: destroy: %v", d.Name, err)
		}
	}()

	wall := time.Now()
	if err := nw.Run(d.Stop); err != nil {
		return nil, err
	}
	logrus.Debugf("scenario %q seed %d: simulated %v in %v", d.Name, d.Seed, d.Stop, time.Since(wall))
	return collect(d, nw)
}

func collect(d *Descriptor, nw *network.Network) (*Result, error) {
	res := &Result{
		Name:   d.Name,
		Seed:   d.Seed,
		All:    nw.Flows(),
		Trace:  trace.Summarize(nw.Trace()),
		Events: nw.Scheduler().Executed(),
	}
	for i, f := range d.Flows {
		tuple, err := nw.SourceTuple(i)
		if err != nil {
			return nil, err
		}
		fr := FlowResult{Index: i, Tuple: tuple}
		if rec, ok := res.All.Lookup(tuple); ok {
			fr.Stats = rec.Stats
		}
		// RxPackets is the count of distinct packets delivered, each
		// carrying PayloadSize bytes of application data.
		if w := f.Window(); w > 0 {
			fr.Goodput = float64(fr.Stats.RxPackets*uint64(f.PayloadSize)*8) / w.Seconds()
		}
		res.Flows = append(res.Flows, fr)
	}
	for i := 0; i < nw.NumDevices(); i++ {
		st, err := nw.MacStats(sim.DeviceID(i))
		if err != nil {
			return nil, err
		}
		res.Mac = append(res.Mac, st)
	}
	return res, nil
}
