// Package metrics provides observability hooks for run, job and step
// execution.
//
// It follows the null object pattern: components take a Recorder through
// dependency injection and default to NoopRecorder, so metrics collection
// never requires nil checks at call sites. The daemon swaps in a
// PrometheusRecorder and serves its registry on /metrics; one-shot CLI runs
// stay on the noop implementation.
package metrics
