// Package prometheus renders goIdentity counters in Prometheus text
// exposition format.
//
// [NewPrometheusExporter] accepts a [goIdentity.Engine] and exposes an
// [net/http.Handler] suitable for a /metrics route. Counter names are
// prefixed goidentity_*_total. Nothing is registered in a global
// Prometheus registry; callers mount the Handler where they want it.
package prometheus
