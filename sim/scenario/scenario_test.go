package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/flow"
	"github.com/wnsim/wnsim/sim/mac"
	"github.com/wnsim/wnsim/sim/trace"
)

func load(t *testing.T, name string) *Descriptor {
	t.Helper()
	d, err := LoadDescriptor(filepath.Join("testdata", name))
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	return d
}

func TestLoadDescriptor_ValidYAML_LoadsCorrectly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	doc := `
name: demo
seed: 42
stop: 2500ms
trace: packets
channel:
  loss:
    - model: cost231
      city_size: large
      params:
        bs_height: 30
    - model: nakagami
  propagation_speed: 2e8
mac:
  standard: 80211b
  data_rate: 5.5Mbps
  rts_cts_threshold: 0
  retry_limit: 4
routing:
  protocol: olsr
  hello_interval: 500ms
  static:
    - {node: 0, destination: 2, next_hop: 1}
nodes:
  - position: [0, 0, 1.5]
  - position: [10, 0]
  - waypoints:
      - {time: 0s, position: [20, 0]}
      - {time: 2s, position: [40, 0]}
flows:
  - {src: 0, dst: 2, payload_size: 64, rate: 64000, start: 1s, stop: 2s}
  - {src: 1, broadcast: true, payload_size: 32, rate: 8kbps, start: 0s, stop: 1s, port: 5000}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	d, err := LoadDescriptor(path)
	require.NoError(t, err)
	require.NoError(t, d.Validate())

	assert.Equal(t, "demo", d.Name)
	assert.Equal(t, int64(42), d.Seed)
	assert.Equal(t, 2500*time.Millisecond, d.Stop)
	require.Len(t, d.Channel.Loss, 2)
	assert.Equal(t, "large", d.Channel.Loss[0].CitySize)
	assert.Equal(t, 30.0, d.Channel.Loss[0].Params["bs_height"])
	assert.Equal(t, 2e8, d.Channel.PropagationSpeed)
	assert.Equal(t, DataRate(5.5e6), d.Mac.DataRate)
	require.NotNil(t, d.Mac.RtsCtsThreshold)
	assert.Equal(t, 0, *d.Mac.RtsCtsThreshold)
	assert.Nil(t, d.Mac.QueueLimit)
	assert.Equal(t, 500*time.Millisecond, d.Routing.HelloInterval)
	assert.Equal(t, []StaticRouteSpec{{Node: 0, Destination: 2, NextHop: 1}}, d.Routing.Static)
	assert.Equal(t, []float64{0, 0, 1.5}, d.Nodes[0].Position)
	require.Len(t, d.Nodes[2].Waypoints, 2)
	assert.Equal(t, 2*time.Second, d.Nodes[2].Waypoints[1].Time)
	require.Len(t, d.Flows, 2)
	assert.Equal(t, DataRate(64000), d.Flows[0].Rate)
	assert.True(t, d.Flows[1].Broadcast)
	assert.Equal(t, DataRate(8000), d.Flows[1].Rate)
	assert.Equal(t, uint16(5000), d.Flows[1].Port)

	cfg, err := d.macConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RetryLimit)
	assert.Equal(t, mac.DefaultConfig(mac.Standard80211b).QueueLimit, cfg.QueueLimit)
}

func TestParseDescriptor_UnknownKeyRejected(t *testing.T) {
	_, err := ParseDescriptor([]byte("seed: 1\nstopp: 1s\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopp")
}

func TestParseDescriptor_BadRate(t *testing.T) {
	_, err := ParseDescriptor([]byte("mac:\n  standard: 80211a\n  data_rate: fast\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast")
}

func TestLoadDescriptor_MissingFile(t *testing.T) {
	_, err := LoadDescriptor(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading scenario")
}

func TestParseDataRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "6Mbps", want: 6e6},
		{in: "5.5Mbps", want: 5.5e6},
		{in: "100 kbps", want: 1e5},
		{in: "1gbps", want: 1e9},
		{in: "2000bps", want: 2000},
		{in: "2e6", want: 2e6},
		{in: "0Mbps", wantErr: true},
		{in: "-1kbps", wantErr: true},
		{in: "Mbps", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataRate_String(t *testing.T) {
	assert.Equal(t, "6Mbps", DataRate(6e6).String())
	assert.Equal(t, "5.5Mbps", DataRate(5.5e6).String())
	assert.Equal(t, "200kbps", DataRate(200e3).String())
	assert.Equal(t, "999bps", DataRate(999).String())
}

func TestDescriptor_Validate(t *testing.T) {
	base := func() *Descriptor { return load(t, "chain-olsr.yaml") }
	tests := []struct {
		name   string
		mutate func(d *Descriptor)
		want   string
	}{
		{"zero stop", func(d *Descriptor) { d.Stop = 0 }, "stop must be positive"},
		{"trace level", func(d *Descriptor) { d.Trace = "everything" }, "unknown trace level"},
		{"no loss", func(d *Descriptor) { d.Channel.Loss = nil }, "at least one loss model"},
		{"loss model", func(d *Descriptor) { d.Channel.Loss[0].Model = "magic" }, "unknown model"},
		{"loss param", func(d *Descriptor) { d.Channel.Loss[0].Params["radius"] = 1 }, "unknown parameter"},
		{"city size on friis", func(d *Descriptor) { d.Channel.Loss[0].CitySize = "large" }, "city_size only applies"},
		{"standard", func(d *Descriptor) { d.Mac.Standard = "80211n" }, "unknown standard"},
		{"rate for standard", func(d *Descriptor) { d.Mac.DataRate = 11e6 }, "not supported"},
		{"negative threshold", func(d *Descriptor) { v := -1; d.Mac.RtsCtsThreshold = &v }, "rts_cts_threshold"},
		{"protocol", func(d *Descriptor) { d.Routing.Protocol = "aodv" }, "unknown protocol"},
		{"olsr knobs without olsr", func(d *Descriptor) { d.Routing.Protocol = "none" }, "require protocol olsr"},
		{"static index", func(d *Descriptor) {
			d.Routing.Static = []StaticRouteSpec{{Node: 0, Destination: 7, NextHop: 1}}
		}, "out of range"},
		{"link cost without olsr", func(d *Descriptor) {
			*d = *load(t, "chain-no-routing.yaml")
			d.Routing.LinkCosts = []LinkCostSpec{{A: 0, B: 1, Cost: 2}}
		}, "require protocol olsr"},
		{"link cost index", func(d *Descriptor) { d.Routing.LinkCosts = []LinkCostSpec{{A: 0, B: 9, Cost: 2}} }, "out of range"},
		{"link cost self", func(d *Descriptor) { d.Routing.LinkCosts = []LinkCostSpec{{A: 1, B: 1, Cost: 2}} }, "to itself"},
		{"link cost zero", func(d *Descriptor) { d.Routing.LinkCosts = []LinkCostSpec{{A: 0, B: 1}} }, "positive finite"},
		{"link cost duplicate", func(d *Descriptor) {
			d.Routing.LinkCosts = []LinkCostSpec{{A: 0, B: 1, Cost: 2}, {A: 1, B: 0, Cost: 3}}
		}, "duplicate link 0-1"},
		{"no nodes", func(d *Descriptor) { d.Nodes = nil }, "at least one node"},
		{"position and waypoints", func(d *Descriptor) {
			d.Nodes[0].Waypoints = []WaypointSpec{{Position: []float64{0, 0}}}
		}, "exactly one of position or waypoints"},
		{"position arity", func(d *Descriptor) { d.Nodes[1].Position = []float64{1} }, "2 or 3 coordinates"},
		{"waypoint order", func(d *Descriptor) {
			d.Nodes[2] = NodeSpec{Waypoints: []WaypointSpec{
				{Time: time.Second, Position: []float64{0, 0}},
				{Time: time.Second, Position: []float64{1, 0}},
			}}
		}, "must be after"},
		{"flow dst and broadcast", func(d *Descriptor) { d.Flows[0].Broadcast = true }, "mutually exclusive"},
		{"flow without dst", func(d *Descriptor) { d.Flows[0].Dst = nil }, "dst or broadcast required"},
		{"flow to self", func(d *Descriptor) { d.Flows[0].Src = 2 }, "dst equals src"},
		{"flow payload", func(d *Descriptor) { d.Flows[0].PayloadSize = 0 }, "payload_size"},
		{"flow window", func(d *Descriptor) { d.Flows[0].Stop = d.Flows[0].Start }, "window"},
		{"flow control port", func(d *Descriptor) { d.Flows[0].Port = 698 }, "reserved for routing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			err := d.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildAndRun_LinkCostsRouteAroundExpensiveLink(t *testing.T) {
	// GIVEN three nodes all in range of each other
	run := func(costs []LinkCostSpec) flow.Stats {
		d := load(t, "chain-olsr.yaml")
		d.Trace = "none"
		d.Nodes = []NodeSpec{{Position: []float64{0, 0}}, {Position: []float64{100, 0}}, {Position: []float64{200, 0}}}
		d.Routing.LinkCosts = costs
		res, err := BuildAndRun(context.Background(), d)
		require.NoError(t, err)
		require.Len(t, res.Flows, 1)
		return res.Flows[0].Stats
	}

	// WHEN the direct 0 - 2 link is made expensive
	direct := run(nil)
	relayed := run([]LinkCostSpec{{A: 0, B: 2, Cost: 5}})

	// THEN traffic that went straight to node 2 now goes through node 1
	require.Greater(t, direct.RxPackets, uint64(0))
	assert.Zero(t, direct.TimesForwarded)
	require.Greater(t, relayed.RxPackets, uint64(0))
	assert.GreaterOrEqual(t, relayed.TimesForwarded, relayed.RxPackets)
}

func TestBuild_InvalidDescriptorIsConfigError(t *testing.T) {
	d := load(t, "chain-olsr.yaml")
	d.Mac.DataRate = 11e6

	_, err := Build(d)
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
	assert.ErrorIs(t, err, sim.ErrInvalidRate)
}

func TestBuild_MalformedLossParameter(t *testing.T) {
	// GIVEN a parameter with a valid name but an invalid value
	d := load(t, "two-node-friis.yaml")
	d.Channel.Loss[0].Params["frequency"] = -1

	// WHEN the network is built
	_, err := Build(d)

	// THEN the propagation layer rejects it before anything runs
	assert.ErrorIs(t, err, sim.ErrInvalidConfig)
}

func TestBuild_AssignsOneDevicePerNode(t *testing.T) {
	d := load(t, "chain-olsr.yaml")
	nw, err := Build(d)
	require.NoError(t, err)
	defer func() { _ = nw.Destroy() }()

	assert.Equal(t, 3, nw.NumNodes())
	assert.Equal(t, 3, nw.NumDevices())
	for i := 0; i < 3; i++ {
		n, err := nw.DeviceNode(sim.DeviceID(i))
		require.NoError(t, err)
		assert.Equal(t, sim.NodeID(i), n)
	}
	tuple, err := nw.SourceTuple(0)
	require.NoError(t, err)
	assert.Equal(t, "10.1.1.1:49153 -> 10.1.1.3:9 proto 17", tuple.String())
}

func TestBuildAndRun_TwoNodeGoodputBelowPhyRate(t *testing.T) {
	// GIVEN two nodes 50 m apart with a saturating 9 s flow at 6 Mbps
	d := load(t, "two-node-friis.yaml")

	// WHEN the scenario runs
	res, err := BuildAndRun(context.Background(), d)
	require.NoError(t, err)

	// THEN goodput is close to, but below, the PHY rate
	require.Len(t, res.Flows, 1)
	g := res.Flows[0].Goodput
	assert.Greater(t, g, 4e6)
	assert.Less(t, g, 6e6)
	assert.InDelta(t, g, res.TotalGoodput(), 1e-9)
	require.Len(t, res.Mac, 2)
	sender := res.Mac[0]
	settled := sender.Successes + sender.RetryDrops
	assert.LessOrEqual(t, settled, sender.Attempts)
	assert.LessOrEqual(t, sender.Attempts, settled+1, "at most one frame in service")
	assert.Greater(t, res.Events, uint64(0))
}

func TestBuildAndRun_ChainWithoutRoutingDeliversZero(t *testing.T) {
	res, err := BuildAndRun(context.Background(), load(t, "chain-no-routing.yaml"))
	require.NoError(t, err)

	require.Len(t, res.Flows, 1)
	st := res.Flows[0].Stats
	assert.Greater(t, st.TxPackets, uint64(0))
	assert.Zero(t, st.RxBytes)
	assert.Zero(t, res.Flows[0].Goodput)
	assert.Equal(t, st.TxPackets, st.LostPackets)
}

func TestBuildAndRun_ChainWithOlsrDelivers(t *testing.T) {
	res, err := BuildAndRun(context.Background(), load(t, "chain-olsr.yaml"))
	require.NoError(t, err)

	require.Len(t, res.Flows, 1)
	st := res.Flows[0].Stats
	assert.Greater(t, st.RxPackets, uint64(0))
	assert.Greater(t, res.Flows[0].Goodput, 0.0)
	// one packet over the offered load at most, from the window edges
	assert.LessOrEqual(t, res.Flows[0].Goodput, 200e3+512*8/5.0)

	// the routing control traffic is recorded in the trace but never
	// classified as an application flow
	assert.Len(t, res.All.Flows, 1)
	assert.Greater(t, res.Trace.ByKind[trace.KindTransmit], 0)
	assert.Greater(t, res.Trace.ByKind[trace.KindReceive], 0)
}

func TestBuildAndRun_Deterministic(t *testing.T) {
	a, err := BuildAndRun(context.Background(), load(t, "chain-olsr.yaml"))
	require.NoError(t, err)
	b, err := BuildAndRun(context.Background(), load(t, "chain-olsr.yaml"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildAndRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := BuildAndRun(ctx, load(t, "chain-olsr.yaml"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDescriptor_CloneIsDeep(t *testing.T) {
	d := load(t, "chain-olsr.yaml")
	c := d.Clone()

	c.Channel.Loss[0].Params["max_range"] = 1
	c.Nodes[1].Position[0] = 999
	*c.Flows[0].Dst = 1
	c.Routing.Static = append(c.Routing.Static, StaticRouteSpec{})

	assert.Equal(t, 250.0, d.Channel.Loss[0].Params["max_range"])
	assert.Equal(t, 200.0, d.Nodes[1].Position[0])
	assert.Equal(t, 2, *d.Flows[0].Dst)
	assert.Empty(t, d.Routing.Static)
}

func TestAxes_PointsOrderAndDefaults(t *testing.T) {
	d := load(t, "two-node-friis.yaml")

	// GIVEN an empty grid
	pts := Axes{}.Points(d)
	// THEN the base scenario is the only point
	require.Len(t, pts, 1)
	assert.Equal(t, Point{Seed: 3, RtsCtsThreshold: -1, PositionScale: 1}, pts[0])

	// GIVEN two seeds and two scales
	pts = Axes{Seeds: []int64{1, 2}, PositionScales: []float64{1, 2}}.Points(d)
	// THEN scales vary fastest
	require.Len(t, pts, 4)
	assert.Equal(t, []int64{1, 1, 2, 2}, []int64{pts[0].Seed, pts[1].Seed, pts[2].Seed, pts[3].Seed})
	assert.Equal(t, []float64{1, 2, 1, 2}, []float64{pts[0].PositionScale, pts[1].PositionScale, pts[2].PositionScale, pts[3].PositionScale})
}

func TestPoint_Apply(t *testing.T) {
	base := load(t, "two-node-friis.yaml")
	p := Point{Seed: 9, PayloadSize: 200, RtsCtsThreshold: 0, DataRate: 12e6, PositionScale: 3}

	d := p.Apply(base)

	assert.Equal(t, int64(9), d.Seed)
	assert.Equal(t, 200, d.Flows[0].PayloadSize)
	require.NotNil(t, d.Mac.RtsCtsThreshold)
	assert.Equal(t, 0, *d.Mac.RtsCtsThreshold)
	assert.Equal(t, DataRate(12e6), d.Mac.DataRate)
	assert.Equal(t, []float64{150, 0}, d.Nodes[1].Position)
	// base untouched
	assert.Equal(t, []float64{50, 0}, base.Nodes[1].Position)
	assert.Nil(t, base.Mac.RtsCtsThreshold)
}

func TestPoint_ApplyZeroScaleKeepsPositions(t *testing.T) {
	base := load(t, "two-node-friis.yaml")

	for _, k := range []float64{0, -2} {
		d := Point{Seed: base.Seed, RtsCtsThreshold: -1, PositionScale: k}.Apply(base)
		assert.Equal(t, []float64{0, 0}, d.Nodes[0].Position, "scale %v", k)
		assert.Equal(t, []float64{50, 0}, d.Nodes[1].Position, "scale %v", k)
		assert.NoError(t, d.Validate())
	}
}

func TestSweep_DistanceRerunsNonIncreasing(t *testing.T) {
	// GIVEN the two-node scenario shortened to a 2 s window
	base := load(t, "two-node-friis.yaml")
	base.Flows[0].Stop = 3 * time.Second
	base.Stop = 3*time.Second + 100*time.Millisecond

	// WHEN it is rerun at 50, 100 and 150 m
	results, err := Sweep(context.Background(), base, Axes{PositionScales: []float64{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// THEN goodput never increases with distance
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i].Result.TotalGoodput(), results[i-1].Result.TotalGoodput(),
			"scale %g vs %g", results[i].Point.PositionScale, results[i-1].Point.PositionScale)
	}
	assert.Greater(t, results[0].Result.TotalGoodput(), 0.0)
}

func TestSweep_RtsCtsHiddenTerminal(t *testing.T) {
	base := load(t, "hidden-terminal.yaml")

	results, err := Sweep(context.Background(), base, Axes{RtsCtsThresholds: []int{0, 65535}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	withRts, withoutRts := results[0].Result, results[1].Result
	assert.GreaterOrEqual(t, withRts.TotalGoodput(), withoutRts.TotalGoodput())
	assert.Greater(t, withRts.Mac[0].RtsSent, uint64(0))
	assert.Zero(t, withoutRts.Mac[0].RtsSent)
}

func TestSweep_StopsAtFirstFailure(t *testing.T) {
	base := load(t, "chain-no-routing.yaml")

	// 11 Mbps is not an 802.11a rate
	results, err := Sweep(context.Background(), base, Axes{DataRates: []DataRate{6e6, 11e6}})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sweep point 1"), err.Error())
	assert.Len(t, results, 1)
}
