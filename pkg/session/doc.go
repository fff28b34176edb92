/*
Package session tracks the live sessions of a weft server.

A session owns a human WebChannel, an artifact Dispatcher bound to the shared
EventQueue, and at most one graph run at a time. Every mutation of a session
happens under a per-session mutex and, when a DistributedLocker is
configured, under a distributed lock as well, so replicas sharing a Redis
queue do not interleave replies or launches for the same session.
*/
package session
