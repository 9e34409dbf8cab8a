// Package scenario describes a complete experiment (channel, radios,
// routing, node placement and traffic) as one YAML document, builds it
// into a network and runs it. Sweeps rerun a base scenario across a grid
// of seeds, payload sizes, RTS/CTS thresholds, data rates and distances.
package scenario

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wnsim/wnsim/sim/mac"
	"github.com/wnsim/wnsim/sim/routing"
	"github.com/wnsim/wnsim/sim/trace"
)

// Descriptor is the top-level scenario configuration.
// Loaded from YAML via LoadDescriptor(path).
type Descriptor struct {
	Name     string        `yaml:"name,omitempty"`
	Seed     int64         `yaml:"seed"`
	Stop     time.Duration `yaml:"stop"`
	MaxDelay time.Duration `yaml:"max_delay,omitempty"` // 0 = flow.DefaultMaxDelay
	Trace    string        `yaml:"trace,omitempty"`     // none | packets

	Channel ChannelSpec `yaml:"channel"`
	Mac     MacSpec     `yaml:"mac"`
	Routing RoutingSpec `yaml:"routing,omitempty"`
	Nodes   []NodeSpec  `yaml:"nodes"`
	Flows   []FlowSpec  `yaml:"flows"`
}

// ChannelSpec is the shared medium every node attaches to.
type ChannelSpec struct {
	Loss []LossSpec `yaml:"loss"`
	// PropagationSpeed in m/s; 0 = speed of light.
	PropagationSpeed float64 `yaml:"propagation_speed,omitempty"`
}

// LossSpec selects one loss model of the chain. Params override the
// model's defaults; unknown parameter names are rejected.
type LossSpec struct {
	Model    string             `yaml:"model"`
	Params   map[string]float64 `yaml:"params,omitempty"`
	CitySize string             `yaml:"city_size,omitempty"` // cost231 only
}

// MacSpec configures every device. Nil pointers keep mac.DefaultConfig.
type MacSpec struct {
	Standard        string   `yaml:"standard"`
	DataRate        DataRate `yaml:"data_rate,omitempty"`         // 0 = lowest rate of the standard
	RtsCtsThreshold *int     `yaml:"rts_cts_threshold,omitempty"` // bytes of IP packet, headers included
	RetryLimit      *int     `yaml:"retry_limit,omitempty"`
	QueueLimit      *int     `yaml:"queue_limit,omitempty"`
	TxPowerDbm      *float64 `yaml:"tx_power_dbm,omitempty"`
	Capture         bool     `yaml:"capture,omitempty"`
	CaptureMarginDb *float64 `yaml:"capture_margin_db,omitempty"`
}

// RoutingSpec selects the routing protocol and any static routes.
type RoutingSpec struct {
	Protocol      string            `yaml:"protocol,omitempty"` // none | olsr
	HelloInterval time.Duration     `yaml:"hello_interval,omitempty"`
	TcInterval    time.Duration     `yaml:"tc_interval,omitempty"`
	HoldFactor    int               `yaml:"hold_factor,omitempty"`
	Static        []StaticRouteSpec `yaml:"static,omitempty"`
	// LinkCosts weigh OLSR shortest paths; unlisted links cost 1.
	LinkCosts []LinkCostSpec `yaml:"link_costs,omitempty"`
}

// LinkCostSpec sets the cost of the link between nodes A and B in both
// directions.
type LinkCostSpec struct {
	A    int     `yaml:"a"`
	B    int     `yaml:"b"`
	Cost float64 `yaml:"cost"`
}

// StaticRouteSpec installs on Node a host route to node Destination via
// node NextHop.
type StaticRouteSpec struct {
	Node        int `yaml:"node"`
	Destination int `yaml:"destination"`
	NextHop     int `yaml:"next_hop"`
}

// NodeSpec places a node either at a fixed position or along waypoints.
type NodeSpec struct {
	Position  []float64      `yaml:"position,omitempty"` // [x, y] or [x, y, z] meters
	Waypoints []WaypointSpec `yaml:"waypoints,omitempty"`
}

// WaypointSpec is one point of a scripted trajectory.
type WaypointSpec struct {
	Time     time.Duration `yaml:"time"`
	Position []float64     `yaml:"position"`
}

// FlowSpec is a constant-bit-rate UDP source from node Src to node Dst, or
// to every node when Broadcast is set.
type FlowSpec struct {
	Src         int           `yaml:"src"`
	Dst         *int          `yaml:"dst,omitempty"`
	Broadcast   bool          `yaml:"broadcast,omitempty"`
	PayloadSize int           `yaml:"payload_size"`
	Rate        DataRate      `yaml:"rate"`
	Start       time.Duration `yaml:"start"`
	Stop        time.Duration `yaml:"stop"`
	Port        uint16        `yaml:"port,omitempty"` // 0 = network.DefaultDstPort
}

// Window returns the flow's active interval.
func (f FlowSpec) Window() time.Duration { return f.Stop - f.Start }

// DataRate is a bit rate in bits per second. In YAML it is either a plain
// number or a string with a unit: "6Mbps", "5.5Mbps", "100kbps".
type DataRate float64

// UnmarshalYAML accepts numbers and unit strings.
func (r *DataRate) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: data rate must be a scalar", value.Line)
	}
	bps, err := ParseDataRate(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*r = DataRate(bps)
	return nil
}

// MarshalYAML writes the rate in its most compact unit.
func (r DataRate) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

func (r DataRate) String() string {
	v := float64(r)
	switch {
	case v >= 1e9 && math.Mod(v, 1e7) == 0:
		return strconv.FormatFloat(v/1e9, 'f', -1, 64) + "Gbps"
	case v >= 1e6 && math.Mod(v, 1e4) == 0:
		return strconv.FormatFloat(v/1e6, 'f', -1, 64) + "Mbps"
	case v >= 1e3 && math.Mod(v, 10) == 0:
		return strconv.FormatFloat(v/1e3, 'f', -1, 64) + "kbps"
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "bps"
}

var rateUnits = []struct {
	suffix string
	scale  float64
}{
	// longest suffixes first so "Mbps" is not read as "bps"
	{"gbps", 1e9},
	{"mbps", 1e6},
	{"kbps", 1e3},
	{"bps", 1},
}

// ParseDataRate parses "11Mbps", "100 kbps", "2e6" or "2000000bps" into
// bits per second. Units are case-insensitive.
func ParseDataRate(s string) (float64, error) {
	str := strings.TrimSpace(s)
	lower := strings.ToLower(str)
	scale := 1.0
	for _, u := range rateUnits {
		if strings.HasSuffix(lower, u.suffix) {
			scale = u.scale
			str = strings.TrimSpace(str[:len(str)-len(u.suffix)])
			break
		}
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("data rate %q: not a number with optional bps/kbps/Mbps/Gbps unit", s)
	}
	bps := v * scale
	if math.IsNaN(bps) || math.IsInf(bps, 0) || bps <= 0 {
		return 0, fmt.Errorf("data rate %q must be a finite positive number", s)
	}
	return bps, nil
}

// Valid value registries.
var (
	validLossModels = map[string]bool{
		"friis": true, "log-distance": true, "two-ray-ground": true, "cost231": true, "nakagami": true, "range": true,
	}
	validRoutingProtocols = map[string]bool{
		"": true, routing.ProtocolNone: true, routing.ProtocolOlsr: true,
	}
)

// ValidLossModelNames returns accepted loss model names, sorted.
func ValidLossModelNames() []string {
	names := make([]string, 0, len(validLossModels))
	for n := range validLossModels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadDescriptor reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseDescriptor(data)
}

// ParseDescriptor parses a YAML scenario document.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var d Descriptor
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	return &d, nil
}

// Clone returns a deep copy, so sweeps can override fields of a shared base.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Channel.Loss = make([]LossSpec, len(d.Channel.Loss))
	for i, l := range d.Channel.Loss {
		c.Channel.Loss[i] = l
		if l.Params != nil {
			c.Channel.Loss[i].Params = make(map[string]float64, len(l.Params))
			for k, v := range l.Params {
				c.Channel.Loss[i].Params[k] = v
			}
		}
	}
	c.Mac.RtsCtsThreshold = clonePtr(d.Mac.RtsCtsThreshold)
	c.Mac.RetryLimit = clonePtr(d.Mac.RetryLimit)
	c.Mac.QueueLimit = clonePtr(d.Mac.QueueLimit)
	c.Mac.TxPowerDbm = clonePtr(d.Mac.TxPowerDbm)
	c.Mac.CaptureMarginDb = clonePtr(d.Mac.CaptureMarginDb)
	c.Routing.Static = append([]StaticRouteSpec(nil), d.Routing.Static...)
	c.Routing.LinkCosts = append([]LinkCostSpec(nil), d.Routing.LinkCosts...)
	c.Nodes = make([]NodeSpec, len(d.Nodes))
	for i, n := range d.Nodes {
		c.Nodes[i].Position = append([]float64(nil), n.Position...)
		if n.Waypoints != nil {
			c.Nodes[i].Waypoints = make([]WaypointSpec, len(n.Waypoints))
			for j, w := range n.Waypoints {
				c.Nodes[i].Waypoints[j] = WaypointSpec{Time: w.Time, Position: append([]float64(nil), w.Position...)}
			}
		}
	}
	c.Flows = make([]FlowSpec, len(d.Flows))
	for i, f := range d.Flows {
		c.Flows[i] = f
		c.Flows[i].Dst = clonePtr(f.Dst)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks that every field is in range and every name is known.
// Parameters of loss models and the MAC are checked again, with the
// network's own error types, when the scenario is built.
func (d *Descriptor) Validate() error {
	if d.Stop <= 0 {
		return fmt.Errorf("stop must be positive, got %v", d.Stop)
	}
	if d.MaxDelay < 0 {
		return fmt.Errorf("max_delay must be non-negative, got %v", d.MaxDelay)
	}
	if !trace.IsValidTraceLevel(d.Trace) {
		return fmt.Errorf("unknown trace level %q; valid: none, packets", d.Trace)
	}
	if err := d.validateChannel(); err != nil {
		return err
	}
	if err := d.validateMac(); err != nil {
		return err
	}
	if err := d.validateRouting(); err != nil {
		return err
	}
	if len(d.Nodes) < 1 {
		return fmt.Errorf("at least one node required")
	}
	for i, n := range d.Nodes {
		if err := validateNode(&n, i); err != nil {
			return err
		}
	}
	for i, f := range d.Flows {
		if err := d.validateFlow(&f, i); err != nil {
			return err
		}
	}
	return nil
}

func (d *Descriptor) validateChannel() error {
	if len(d.Channel.Loss) == 0 {
		return fmt.Errorf("channel.loss: at least one loss model required")
	}
	for i, l := range d.Channel.Loss {
		prefix := fmt.Sprintf("channel.loss[%d]", i)
		if !validLossModels[l.Model] {
			return fmt.Errorf("%s: unknown model %q; valid: %s", prefix, l.Model, strings.Join(ValidLossModelNames(), ", "))
		}
		known := lossParams[l.Model]
		for name, val := range l.Params {
			if !known[name] {
				return fmt.Errorf("%s.params: unknown parameter %q for model %s; valid: %s", prefix, name, l.Model, strings.Join(sortedNames(known), ", "))
			}
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return fmt.Errorf("%s.params.%s must be a finite number, got %f", prefix, name, val)
			}
		}
		if l.CitySize != "" && l.Model != "cost231" {
			return fmt.Errorf("%s: city_size only applies to cost231", prefix)
		}
	}
	if s := d.Channel.PropagationSpeed; s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return fmt.Errorf("channel.propagation_speed must be a finite non-negative number, got %f", s)
	}
	return nil
}

func (d *Descriptor) validateMac() error {
	if !mac.IsValidStandard(d.Mac.Standard) {
		return fmt.Errorf("mac: unknown standard %q; valid: %s", d.Mac.Standard, strings.Join(mac.ValidStandardNames(), ", "))
	}
	if d.Mac.RtsCtsThreshold != nil && *d.Mac.RtsCtsThreshold < 0 {
		return fmt.Errorf("mac.rts_cts_threshold must be non-negative, got %d", *d.Mac.RtsCtsThreshold)
	}
	// remaining ranges are owned by mac.Config.Validate
	_, err := d.macConfig()
	return err
}

func (d *Descriptor) validateRouting() error {
	r := d.Routing
	if !validRoutingProtocols[r.Protocol] {
		return fmt.Errorf("routing: unknown protocol %q; valid: %s", r.Protocol, strings.Join(routing.ValidProtocolNames(), ", "))
	}
	if r.Protocol != routing.ProtocolOlsr && (r.HelloInterval != 0 || r.TcInterval != 0 || r.HoldFactor != 0 || len(r.LinkCosts) > 0) {
		return fmt.Errorf("routing: hello_interval, tc_interval, hold_factor and link_costs require protocol olsr")
	}
	if r.HelloInterval < 0 || r.TcInterval < 0 || r.HoldFactor < 0 {
		return fmt.Errorf("routing: intervals and hold_factor must be non-negative")
	}
	for i, s := range r.Static {
		prefix := fmt.Sprintf("routing.static[%d]", i)
		for _, idx := range []int{s.Node, s.Destination, s.NextHop} {
			if idx < 0 || idx >= len(d.Nodes) {
				return fmt.Errorf("%s: node index %d out of range [0, %d)", prefix, idx, len(d.Nodes))
			}
		}
		if s.Node == s.Destination {
			return fmt.Errorf("%s: route from node %d to itself", prefix, s.Node)
		}
	}
	seen := make(map[[2]int]bool, len(r.LinkCosts))
	for i, c := range r.LinkCosts {
		prefix := fmt.Sprintf("routing.link_costs[%d]", i)
		for _, idx := range []int{c.A, c.B} {
			if idx < 0 || idx >= len(d.Nodes) {
				return fmt.Errorf("%s: node index %d out of range [0, %d)", prefix, idx, len(d.Nodes))
			}
		}
		if c.A == c.B {
			return fmt.Errorf("%s: link from node %d to itself", prefix, c.A)
		}
		if !(c.Cost > 0) || math.IsInf(c.Cost, 1) {
			return fmt.Errorf("%s: cost must be a positive finite number, got %v", prefix, c.Cost)
		}
		key := [2]int{min(c.A, c.B), max(c.A, c.B)}
		if seen[key] {
			return fmt.Errorf("%s: duplicate link %d-%d", prefix, key[0], key[1])
		}
		seen[key] = true
	}
	return nil
}

func validateNode(n *NodeSpec, idx int) error {
	prefix := fmt.Sprintf("nodes[%d]", idx)
	hasPos, hasWay := n.Position != nil, len(n.Waypoints) > 0
	if hasPos == hasWay {
		return fmt.Errorf("%s: exactly one of position or waypoints required", prefix)
	}
	if hasPos {
		return validatePosition(prefix+".position", n.Position)
	}
	for j, w := range n.Waypoints {
		if err := validatePosition(fmt.Sprintf("%s.waypoints[%d].position", prefix, j), w.Position); err != nil {
			return err
		}
		if w.Time < 0 {
			return fmt.Errorf("%s.waypoints[%d].time must be non-negative, got %v", prefix, j, w.Time)
		}
		if j > 0 && w.Time <= n.Waypoints[j-1].Time {
			return fmt.Errorf("%s.waypoints[%d].time %v must be after %v", prefix, j, w.Time, n.Waypoints[j-1].Time)
		}
	}
	return nil
}

func validatePosition(name string, p []float64) error {
	if len(p) != 2 && len(p) != 3 {
		return fmt.Errorf("%s must have 2 or 3 coordinates, got %d", name, len(p))
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, p)
		}
	}
	return nil
}

func (d *Descriptor) validateFlow(f *FlowSpec, idx int) error {
	prefix := fmt.Sprintf("flows[%d]", idx)
	if f.Src < 0 || f.Src >= len(d.Nodes) {
		return fmt.Errorf("%s: src %d out of range [0, %d)", prefix, f.Src, len(d.Nodes))
	}
	switch {
	case f.Broadcast && f.Dst != nil:
		return fmt.Errorf("%s: dst and broadcast are mutually exclusive", prefix)
	case !f.Broadcast && f.Dst == nil:
		return fmt.Errorf("%s: dst or broadcast required", prefix)
	case f.Dst != nil && (*f.Dst < 0 || *f.Dst >= len(d.Nodes)):
		return fmt.Errorf("%s: dst %d out of range [0, %d)", prefix, *f.Dst, len(d.Nodes))
	case f.Dst != nil && *f.Dst == f.Src:
		return fmt.Errorf("%s: dst equals src %d", prefix, f.Src)
	}
	if f.PayloadSize < 1 {
		return fmt.Errorf("%s: payload_size must be positive, got %d", prefix, f.PayloadSize)
	}
	if f.Rate <= 0 {
		return fmt.Errorf("%s: rate must be positive, got %v", prefix, float64(f.Rate))
	}
	if f.Start < 0 || f.Stop <= f.Start {
		return fmt.Errorf("%s: window [%v, %v) is empty or negative", prefix, f.Start, f.Stop)
	}
	if f.Port == routing.ControlPort {
		return fmt.Errorf("%s: port %d is reserved for routing", prefix, f.Port)
	}
	return nil
}

func sortedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
