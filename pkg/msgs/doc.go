// Package msgs provides the telemetry message schemas.
package msgs

// Messages are exchanged between the capnography daemon and remote
// monitors, wrapped in an Envelope carrying the type ID.
//
// Producer: capnod
// Consumer: capnomon, dashboards
