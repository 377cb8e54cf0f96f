// Package api exposes the task engine over HTTP: task execution, the task
// catalogue, sandboxed file reads, plus the legacy /run and /read routes,
// Prometheus-style metrics and a health probe.
package api
