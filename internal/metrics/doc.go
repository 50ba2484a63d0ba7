// Package metrics exposes Prometheus instruments for the download pipeline.
//
// All methods are safe on a nil *Metrics, so components can take metrics as
// an optional dependency.
package metrics
