package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wnsim/wnsim/sim/observe"
	"github.com/wnsim/wnsim/sim/scenario"
)

var (
	// Shared flags
	scenarioPath  string // YAML scenario descriptor
	logLevel      string // Log verbosity level
	metricsOut    string // Prometheus textfile destination
	traceExporter string // Span exporter: none, stdout, otlp
	otlpEndpoint  string // OTLP gRPC collector address

	// run overrides
	seed            int64         // Seed for every random stream of the run
	stopTime        time.Duration // Virtual time at which the run ends
	rtsCtsThreshold int           // Payload bytes from which RTS/CTS precedes DATA
	traceLevel      string        // Packet trace retention: none, packets
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "wnsim",
	Short: "Discrete-event simulator for wireless packet networks",
}

// runCmd executes one scenario
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a wireless network scenario",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		d := loadScenario()
		applyOverrides(d, cmd.Flags().Changed)
		if err := d.Validate(); err != nil {
			logrus.Fatalf("Invalid scenario %s: %v", scenarioPath, err)
		}

		logrus.Infof("Starting simulation %q: %d nodes, %d flows, seed=%d, stop=%v",
			d.Name, len(d.Nodes), len(d.Flows), d.Seed, d.Stop)
		startTime := time.Now()

		shutdown := setupTracing(cmd.Context())
		res, err := scenario.BuildAndRun(cmd.Context(), d)
		shutdownTracing(shutdown)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}

		if err := PrintRunReport(os.Stdout, res); err != nil {
			logrus.Fatalf("%v", err)
		}
		if err := writeMetrics(metricsOut, func(c *observe.RunCollector) {
			c.Observe(fmt.Sprintf("seed=%d", res.Seed), res)
		}); err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

func loadScenario() *scenario.Descriptor {
	if scenarioPath == "" {
		logrus.Fatalf("Scenario file not provided (--scenario). Exiting simulation.")
	}
	d, err := scenario.LoadDescriptor(scenarioPath)
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return d
}

func setupTracing(ctx context.Context) func(context.Context) error {
	shutdown, err := InitTracing(ctx, TracingConfig{Exporter: traceExporter, Endpoint: otlpEndpoint})
	if err != nil {
		logrus.Fatalf("%v", err)
	}
	return shutdown
}

// applyOverrides copies explicitly set CLI flags over the scenario's values.
func applyOverrides(d *scenario.Descriptor, changed func(name string) bool) {
	if changed("seed") {
		d.Seed = seed
	}
	if changed("stop") {
		d.Stop = stopTime
	}
	if changed("rts-cts-threshold") {
		th := rtsCtsThreshold
		d.Mac.RtsCtsThreshold = &th
	}
	if changed("trace") {
		d.Trace = traceLevel
	}
}

// writeMetrics builds a fresh registry, lets fill record into it and writes
// it to path. An empty path writes nothing.
func writeMetrics(path string, fill func(*observe.RunCollector)) error {
	if path == "" {
		return nil
	}
	c, err := newCollector()
	if err != nil {
		return err
	}
	fill(c)
	if err := c.WriteTextfile(path); err != nil {
		return err
	}
	logrus.Infof("Metrics written to %s", path)
	return nil
}

func newCollector() (*observe.RunCollector, error) {
	return observe.NewRunCollector(prometheus.NewRegistry())
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&scenarioPath, "scenario", "", "Path to the YAML scenario descriptor")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to this file")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "Span exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")

	runCmd.Flags().Int64Var(&seed, "seed", 1, "Seed for every random stream; overrides the scenario")
	runCmd.Flags().DurationVar(&stopTime, "stop", 10*time.Second, "Virtual stop time; overrides the scenario")
	runCmd.Flags().IntVar(&rtsCtsThreshold, "rts-cts-threshold", 65535, "RTS/CTS threshold in IP packet bytes, headers included (0 = always); overrides the scenario")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Packet trace level (none, packets); overrides the scenario")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
}
