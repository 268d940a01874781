// Package observability builds the zap loggers and Prometheus collectors used
// across the router.
package observability
