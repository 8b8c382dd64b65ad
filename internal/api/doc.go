// Package api serves the worker's operational HTTP endpoints: liveness,
// readiness against the database and job queue, and Prometheus metrics.
// The analysis operations themselves are not exposed over HTTP here.
package api
