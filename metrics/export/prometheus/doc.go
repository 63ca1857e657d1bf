// Package prometheus renders engine metrics in the Prometheus text format.
//
// [NewPrometheusExporter] takes an [authority.Engine] and exposes an
// [http.Handler] for a scrape endpoint. Counters are named
// authority_*_total; the single histogram is
// authority_verify_session_latency_seconds. [WithLabels] attaches constant
// labels, such as an instance name, to every sample.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
