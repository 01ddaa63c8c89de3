// Package observability builds the service logger and the Prometheus
// collectors shared by the decision chain.
//
// Every metric method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package observability
