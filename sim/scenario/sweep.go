package scenario

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Axes lists the values a sweep varies. An empty axis keeps the base
// scenario's value.
type Axes struct {
	Seeds            []int64
	PayloadSizes     []int      // applied to every flow
	RtsCtsThresholds []int      // applied to every device
	DataRates        []DataRate // applied to every device
	// PositionScales multiplies every node coordinate, rerunning the same
	// topology at proportionally larger distances.
	PositionScales []float64
}

// Point identifies one combination of a sweep. Fields whose axis is empty
// hold the base value; Apply leaves positions unscaled when PositionScale
// is not positive.
type Point struct {
	Seed            int64
	PayloadSize     int
	RtsCtsThreshold int
	DataRate        DataRate
	PositionScale   float64
}

func (p Point) String() string {
	return fmt.Sprintf("seed=%d payload=%d rts=%d rate=%v scale=%g", p.Seed, p.PayloadSize, p.RtsCtsThreshold, p.DataRate, p.PositionScale)
}

// SweepResult pairs a point with its run.
type SweepResult struct {
	Point  Point
	Result *Result
}

// Points expands the cartesian product of axes over base, in a fixed
// order: seeds vary slowest, position scales fastest.
func (a Axes) Points(base *Descriptor) []Point {
	seeds := a.Seeds
	if len(seeds) == 0 {
		seeds = []int64{base.Seed}
	}
	payloads := a.PayloadSizes
	if len(payloads) == 0 {
		payloads = []int{0}
	}
	thresholds := a.RtsCtsThresholds
	if len(thresholds) == 0 {
		thresholds = []int{-1}
	}
	rates := a.DataRates
	if len(rates) == 0 {
		rates = []DataRate{0}
	}
	scales := a.PositionScales
	if len(scales) == 0 {
		scales = []float64{1}
	}

	var pts []Point
	for _, s := range seeds {
		for _, p := range payloads {
			for _, th := range thresholds {
				for _, r := range rates {
					for _, sc := range scales {
						pts = append(pts, Point{Seed: s, PayloadSize: p, RtsCtsThreshold: th, DataRate: r, PositionScale: sc})
					}
				}
			}
		}
	}
	return pts
}

// Apply returns a copy of base with p's overrides.
func (p Point) Apply(base *Descriptor) *Descriptor {
	d := base.Clone()
	d.Seed = p.Seed
	if p.PayloadSize > 0 {
		for i := range d.Flows {
			d.Flows[i].PayloadSize = p.PayloadSize
		}
	}
	if p.RtsCtsThreshold >= 0 {
		th := p.RtsCtsThreshold
		d.Mac.RtsCtsThreshold = &th
	}
	if p.DataRate > 0 {
		d.Mac.DataRate = p.DataRate
	}
	if p.PositionScale > 0 && p.PositionScale != 1 {
		for i := range d.Nodes {
			scale(d.Nodes[i].Position, p.PositionScale)
			for j := range d.Nodes[i].Waypoints {
				scale(d.Nodes[i].Waypoints[j].Position, p.PositionScale)
			}
		}
	}
	return d
}

func scale(pos []float64, k float64) {
	for i := range pos {
		pos[i] *= k
	}
}

// Sweep runs base at every point of axes, one run at a time, and returns
// the results in Points order. The first failing point aborts the sweep.
func Sweep(ctx context.Context, base *Descriptor, axes Axes) ([]SweepResult, error) {
	pts := axes.Points(base)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "scenario.sweep", oteltrace.WithAttributes(
		attribute.String("scenario.name", base.Name),
		attribute.Int("sweep.points", len(pts)),
	))
	defer span.End()

	results := make([]SweepResult, 0, len(pts))
	for i, p := range pts {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return results, err
		}
		res, err := BuildAndRun(ctx, p.Apply(base))
		if err != nil {
			err = fmt.Errorf("sweep point %d (%v): %w", i, p, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return results, err
		}
		results = append(results, SweepResult{Point: p, Result: res})
	}
	return results, nil
}
