// Package device provides the per-device REST operations of the Phyn API:
// state reads, valve control, consumption and flow statistics, away mode,
// automatic shutoff, preferences, health tests and firmware metadata.
//
// Operations are stateless timeout-wrapped request/response calls routed
// through the api gateway. Payloads are returned as decoded JSON objects
// rather than rigid structs because their shape varies by device model
// and firmware revision.
package device
