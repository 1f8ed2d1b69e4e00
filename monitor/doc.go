// Package monitor collects messaging metrics, in memory or for Prometheus,
// and serves health checks over HTTP.
package monitor
