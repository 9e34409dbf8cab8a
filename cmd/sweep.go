package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wnsim/wnsim/sim/observe"
	"github.com/wnsim/wnsim/sim/scenario"
)

var (
	sweepSeeds      []int64
	sweepPayloads   []int
	sweepThresholds []int
	sweepRates      []string
	sweepScales     []float64
	sweepCSV        string // "-" writes to stdout
)

// sweepCmd reruns one scenario across a parameter grid
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a scenario over a grid of seeds, payload sizes, RTS/CTS thresholds, data rates and distances",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		base := loadScenario()
		axes, err := buildAxes()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := base.Validate(); err != nil {
			logrus.Fatalf("Invalid scenario %s: %v", scenarioPath, err)
		}
		points := axes.Points(base)
		logrus.Infof("Starting sweep of %q over %d points", base.Name, len(points))
		startTime := time.Now()

		shutdown := setupTracing(cmd.Context())
		results, err := scenario.Sweep(cmd.Context(), base, axes)
		shutdownTracing(shutdown)
		if err != nil {
			logrus.Fatalf("Sweep failed after %d points: %v", len(results), err)
		}

		if err := writeSweepCSV(sweepCSV, results); err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := writeMetrics(metricsOut, func(c *observe.RunCollector) {
			for _, r := range results {
				c.Observe(r.Point.String(), r.Result)
			}
		}); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Sweep complete in %v.", time.Since(startTime))
	},
}

func buildAxes() (scenario.Axes, error) {
	axes := scenario.Axes{
		Seeds:            sweepSeeds,
		PayloadSizes:     sweepPayloads,
		RtsCtsThresholds: sweepThresholds,
		PositionScales:   sweepScales,
	}
	for _, s := range sweepRates {
		r, err := scenario.ParseDataRate(s)
		if err != nil {
			return scenario.Axes{}, fmt.Errorf("--data-rates: %w", err)
		}
		axes.DataRates = append(axes.DataRates, scenario.DataRate(r))
	}
	for _, p := range sweepPayloads {
		if p < 1 {
			return scenario.Axes{}, fmt.Errorf("--payload-sizes: %d must be positive", p)
		}
	}
	for _, th := range sweepThresholds {
		if th < 0 {
			return scenario.Axes{}, fmt.Errorf("--rts-cts-thresholds: %d must be non-negative", th)
		}
	}
	for _, k := range sweepScales {
		if !(k > 0) {
			return scenario.Axes{}, fmt.Errorf("--position-scales: %v must be positive", k)
		}
	}
	return axes, nil
}

func writeSweepCSV(path string, results []scenario.SweepResult) error {
	if path == "-" {
		return writeSweepRows(os.Stdout, results)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := writeSweepRows(f, results); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

func writeSweepRows(w io.Writer, results []scenario.SweepResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sweepHeader); err != nil {
		return err
	}
	if err := cw.WriteAll(sweepRows(results)); err != nil {
		return fmt.Errorf("writing sweep csv: %w", err)
	}
	return nil
}

func init() {
	sweepCmd.Flags().Int64SliceVar(&sweepSeeds, "seeds", nil, "Comma-separated seeds")
	sweepCmd.Flags().IntSliceVar(&sweepPayloads, "payload-sizes", nil, "Comma-separated payload sizes in bytes, applied to every flow")
	sweepCmd.Flags().IntSliceVar(&sweepThresholds, "rts-cts-thresholds", nil, "Comma-separated RTS/CTS thresholds in bytes")
	sweepCmd.Flags().StringSliceVar(&sweepRates, "data-rates", nil, "Comma-separated PHY data rates (e.g. 6Mbps,12Mbps)")
	sweepCmd.Flags().Float64SliceVar(&sweepScales, "position-scales", nil, "Comma-separated factors applied to every node coordinate")
	sweepCmd.Flags().StringVar(&sweepCSV, "csv", "-", "Write one CSV row per point to this file (- for stdout)")
}
