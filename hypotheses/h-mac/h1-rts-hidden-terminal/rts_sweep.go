//go:build ignore

// H1 RTS/CTS Hidden-Terminal Sweep
//
// Hypothesis: two saturated senders that cannot hear each other but share a
// receiver collide at the receiver on most DATA frames when every frame goes
// out without a reservation. Lowering the RTS/CTS threshold below the payload
// size moves those collisions onto the short RTS frames, so aggregate goodput
// rises and retry-limit drops fall.
//
// Refuted if: across seeds, mean aggregate goodput with the threshold at 0 is
// not higher than with the threshold at 65535.
//
// Usage: go run rts_sweep.go --scenario ../../../sim/scenario/testdata/hidden-terminal.yaml --seeds 20
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/wnsim/wnsim/sim/scenario"
)

func main() {
	path := flag.String("scenario", "", "Hidden-terminal scenario descriptor")
	seeds := flag.Int("seeds", 10, "Number of seeds per threshold")
	flag.Parse()

	if *path == "" {
		log.Fatal("--scenario is required")
	}
	base, err := scenario.LoadDescriptor(*path)
	if err != nil {
		log.Fatal(err)
	}

	axes := scenario.Axes{RtsCtsThresholds: []int{0, 65535}}
	for s := 1; s <= *seeds; s++ {
		axes.Seeds = append(axes.Seeds, int64(s))
	}
	fmt.Fprintf(os.Stderr, "Sweeping %d points\n", len(axes.Points(base)))

	results, err := scenario.Sweep(context.Background(), base, axes)
	if err != nil {
		log.Fatal(err)
	}

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()
	_ = w.Write([]string{"seed", "rts_cts_threshold", "goodput_bps", "rts_sent", "retries", "retry_drops"})

	mean := map[int]float64{}
	for _, r := range results {
		var rts, retries, drops uint64
		for _, m := range r.Result.Mac {
			rts += m.RtsSent
			retries += m.Retries
			drops += m.RetryDrops
		}
		g := r.Result.TotalGoodput()
		mean[r.Point.RtsCtsThreshold] += g / float64(*seeds)
		_ = w.Write([]string{
			strconv.FormatInt(r.Point.Seed, 10),
			strconv.Itoa(r.Point.RtsCtsThreshold),
			strconv.FormatFloat(g, 'f', 1, 64),
			strconv.FormatUint(rts, 10),
			strconv.FormatUint(retries, 10),
			strconv.FormatUint(drops, 10),
		})
	}

	verdict := "CONFIRMED"
	if mean[0] <= mean[65535] {
		verdict = "REFUTED"
	}
	fmt.Fprintf(os.Stderr, "mean goodput: rts=%.0f bps, no-rts=%.0f bps -> %s\n", mean[0], mean[65535], verdict)
}
