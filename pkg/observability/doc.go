/*
Package observability provides tools for monitoring the weft runtime.

It includes lifecycle hooks that log node and tool activity through slog, and
Prometheus metrics fed by the same hooks plus the artifact dispatcher.
*/
package observability
