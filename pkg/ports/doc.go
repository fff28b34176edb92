/*
Package ports defines the driven ports (interfaces) of the weft runtime.

These interfaces decouple the graph runtime from concrete backends, allowing the
same executors to run against in-memory fakes, Redis, or remote services.

# Key Interfaces

  - EventQueue: per-session artifact event persistence (memory, file, Redis).
  - Broadcaster: pushes session events to external subscribers (SSE, WebSocket).
  - DistributedLocker: distributed locking for concurrent session access.
  - GraphLoader: loads workflow graph definitions.
  - Memory / Thinking: optional collaborators consulted by agent nodes.
*/
package ports
