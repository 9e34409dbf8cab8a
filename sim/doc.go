// Package sim provides the discrete-event kernel for wnsim, a wireless
// packet network simulator.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - event.go: Event handles and the EventQueue heap ordered by (fire time, insertion order)
//   - simulator.go: the Scheduler that owns the virtual clock and dispatches events
//   - rng.go: PartitionedRNG, one deterministic stream per subsystem
//
// # Architecture
//
// The sim package defines the clock, identifiers, vectors and sentinel
// errors; the network model lives in sub-packages:
//   - sim/mobility/: node positions over time (static, waypoint)
//   - sim/propagation/: path loss models and propagation delay
//   - sim/mac/: shared channel, IEEE 802.11 DCF devices and PHY timing
//   - sim/routing/: OLSR and static next-hop tables
//   - sim/flow/: per-flow statistics keyed by five-tuple
//   - sim/trace/: packet trace records and per-kind summaries
//   - sim/network/: assembly of nodes, devices, routing and traffic into a run
//   - sim/scenario/: YAML scenario descriptors, runs and parameter sweeps
//   - sim/observe/: Prometheus export of run results
//
// Every component schedules work on a single Scheduler and draws randomness
// only from its own PartitionedRNG stream, so a run is a pure function of its
// configuration and seed.
package sim
