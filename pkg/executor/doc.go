// Package executor holds the node executor registry and the built-in node types:
// agent, human, subgraph, python, passthrough, literal and loop_counter.
//
// Executors are built per run from a Registry. They share a *Context carrying the
// run's collaborators (attachment store, human service, run log, tool manager)
// and a small amount of mutex-guarded mutable state such as loop counters.
package executor
