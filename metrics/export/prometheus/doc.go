// Package prometheus exposes goCred counters to Prometheus.
//
// [Collector] implements prometheus.Collector over
// [goCred.Engine.MetricsSnapshot]. [Exporter] registers it on a dedicated
// registry and serves it with promhttp. Counter names are gocred_*_total
// and the latency histogram is gocred_auth_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
