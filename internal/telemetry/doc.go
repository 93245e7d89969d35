// Package telemetry builds the process logger and the Prometheus metrics
// the engine reports into.
//
// Logging goes to stderr in text or JSON and, when a log file is
// configured, is fanned out to that file as JSON as well. Metrics is an
// engine.Observer backed by its own registry so tests and concurrent
// dispatchers never collide on the global one.
package telemetry
