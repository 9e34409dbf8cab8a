package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnsim/wnsim/sim/observe"
	"github.com/wnsim/wnsim/sim/scenario"
)

func testScenario(t *testing.T, name string) *scenario.Descriptor {
	t.Helper()
	d, err := scenario.LoadDescriptor(filepath.Join("..", "sim", "scenario", "testdata", name))
	require.NoError(t, err)
	return d
}

func TestApplyOverrides_OnlyChangedFlags(t *testing.T) {
	// GIVEN a scenario with seed 1 and no explicit threshold
	d := testScenario(t, "chain-olsr.yaml")
	seed, stopTime, rtsCtsThreshold, traceLevel = 99, 3*time.Second, 0, "none"
	t.Cleanup(func() { seed, stopTime, rtsCtsThreshold, traceLevel = 1, 10*time.Second, 65535, "none" })

	// WHEN only --seed and --rts-cts-threshold were given
	changed := map[string]bool{"seed": true, "rts-cts-threshold": true}
	applyOverrides(d, func(name string) bool { return changed[name] })

	// THEN those override the scenario and everything else is kept
	assert.Equal(t, int64(99), d.Seed)
	require.NotNil(t, d.Mac.RtsCtsThreshold)
	assert.Equal(t, 0, *d.Mac.RtsCtsThreshold)
	assert.Equal(t, 11*time.Second, d.Stop)
	assert.Equal(t, "packets", d.Trace)
}

func TestPrintRunReport_ChainWithoutRouting(t *testing.T) {
	// GIVEN a finished run
	res, err := scenario.BuildAndRun(context.Background(), testScenario(t, "chain-no-routing.yaml"))
	require.NoError(t, err)

	// WHEN the report is printed
	var buf bytes.Buffer
	require.NoError(t, PrintRunReport(&buf, res))

	// THEN a header precedes a JSON document with zero goodput
	out := buf.String()
	require.True(t, strings.HasPrefix(out, "=== Simulation Results ===\n"))
	var rep RunReport
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(out, "=== Simulation Results ===\n")), &rep))
	assert.Equal(t, "chain-no-routing", rep.Scenario)
	assert.Zero(t, rep.GoodputBps)
	require.Len(t, rep.Flows, 1)
	assert.Equal(t, "10.1.1.1:49153 -> 10.1.1.3:9 proto 17", rep.Flows[0].Flow)
	assert.Equal(t, rep.Flows[0].TxPackets, rep.Flows[0].LostPackets)
	assert.Len(t, rep.Mac, 3)
	assert.Nil(t, rep.TraceEvents, "trace level none records nothing")
}

func TestBuildAxes(t *testing.T) {
	t.Cleanup(func() { sweepRates, sweepPayloads, sweepScales = nil, nil, nil })

	sweepRates = []string{"6Mbps", "12Mbps"}
	axes, err := buildAxes()
	require.NoError(t, err)
	assert.Equal(t, []scenario.DataRate{6e6, 12e6}, axes.DataRates)

	sweepRates = []string{"quick"}
	_, err = buildAxes()
	assert.ErrorContains(t, err, "--data-rates")

	sweepRates, sweepPayloads = nil, []int{0}
	_, err = buildAxes()
	assert.ErrorContains(t, err, "--payload-sizes")

	sweepPayloads, sweepScales = nil, []float64{-1}
	_, err = buildAxes()
	assert.ErrorContains(t, err, "--position-scales")
}

func TestWriteSweepRows(t *testing.T) {
	// GIVEN a two-seed sweep of the chain without routing
	base := testScenario(t, "chain-no-routing.yaml")
	results, err := scenario.Sweep(context.Background(), base, scenario.Axes{Seeds: []int64{1, 2}})
	require.NoError(t, err)

	// WHEN it is written as CSV
	var buf bytes.Buffer
	require.NoError(t, writeSweepRows(&buf, results))

	// THEN there is a header and one row per point
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, sweepHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "0.0", rows[1][5], "no route, no goodput")
}

func TestWriteSweepCSV_File(t *testing.T) {
	// GIVEN a one-point sweep
	results, err := scenario.Sweep(context.Background(), testScenario(t, "chain-no-routing.yaml"), scenario.Axes{Seeds: []int64{3}})
	require.NoError(t, err)

	// WHEN it is written to a file
	path := filepath.Join(t.TempDir(), "sweep.csv")
	require.NoError(t, writeSweepCSV(path, results))

	// THEN the file holds the header and the row once closed
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, sweepHeader, rows[0])
	assert.Equal(t, "3", rows[1][0])

	// AND a path that cannot be created is reported
	err = writeSweepCSV(filepath.Join(t.TempDir(), "missing", "sweep.csv"), results)
	assert.ErrorContains(t, err, "creating")
}

func TestWriteMetrics(t *testing.T) {
	assert.NoError(t, writeMetrics("", func(*observe.RunCollector) { t.Fatal("not called without a path") }))

	res, err := scenario.BuildAndRun(context.Background(), testScenario(t, "chain-no-routing.yaml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "run.prom")
	require.NoError(t, writeMetrics(path, func(c *observe.RunCollector) { c.Observe("seed=1", res) }))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `wnsim_mac_retry_drops_total{device="0",run="seed=1"}`)
}

func TestInitTracing(t *testing.T) {
	t.Cleanup(func() { _, _ = InitTracing(context.Background(), TracingConfig{Exporter: "none"}) })

	_, err := InitTracing(context.Background(), TracingConfig{Exporter: "jaeger"})
	assert.ErrorContains(t, err, "unsupported trace exporter")

	shutdown, err := InitTracing(context.Background(), TracingConfig{Exporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	shutdown, err = InitTracing(context.Background(), TracingConfig{Exporter: "stdout"})
	require.NoError(t, err)
	_, err = scenario.BuildAndRun(context.Background(), testScenario(t, "chain-no-routing.yaml"))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
