// Package microgrid provides the core runtime of a microgrid monitoring and
// control system. A microgrid is a bounded electrical network with local
// generation, storage, and loads, optionally connected to a larger grid; this
// package maintains a virtual representation of that network - built by
// digesting telemetry streams from the physical components - in order to
// produce a consistent, queryable view of the system-of-interest.
//
// Specifically, the package maintains a component graph (a directed acyclic
// graph whose nodes are physical components such as meters, inverters and
// batteries, and whose edges denote directed power flow), infers structural
// roles from the topology (e.g. classifying a meter as a "battery meter" by
// its downstream components), and carries the telemetry message types the rest
// of the runtime consumes.
//
// The subpackages build the runtime around this model:
//
//   - channels: a dynamic registry of named broadcast channels, used as the
//     fabric between independent workers.
//   - health: per-component health state machines and their pool-level
//     aggregation.
//   - resampling: subscription handling and alignment of irregular telemetry
//     onto a fixed-period output schedule.
//   - microgridtest: reusable fixtures for testing against canned component
//     graphs and fabricated telemetry.
package microgrid
