// Package relay implements the core of perfprox: a single-threaded,
// non-blocking, edge-triggered reactor that relays a strict request/response
// protocol between each accepted client and a fixed backend, byte for byte,
// while timestamping every phase of the exchange.
//
// Key Components:
//
//   - Reactor: the epoll event loop. It owns the poll set, implements Registrar
//     and dispatches readiness events to the Table by token. The listener uses
//     the reserved ListenerHandle; a writable event for it is a fatal invariant
//     violation.
//
//   - Table: a capacity-bounded arena of sessions with a free list of reclaimed
//     slots. It accepts clients, dials the backend synchronously, registers both
//     sockets, routes events and tears sessions down once they closed. Slot
//     generations make events of removed sessions harmless.
//
//   - Session: one client socket, one backend socket and one stage buffer. Its
//     four-phase state machine (read request, forward request, read response,
//     forward response) performs at most one socket operation per event,
//     re-arms exactly one socket and pushes ClientTurnaround and FullCycle
//     latency samples to a stats.Sink.
//
// Concurrency:
//
//	Everything in this package is owned by the reactor goroutine. No locks are
//	taken; the only hand-off to other goroutines is stats.Sink.Push, which
//	never blocks.
//
// Limitations:
//
//   - The session table has a fixed capacity. Connections beyond it are closed
//     right after accept.
//   - The backend is dialed synchronously inside the accept path.
//   - Sessions have no idle timeout; a backend that never answers keeps its
//     session forever.
//   - Pipelined protocols are not supported: input arriving while a message is
//     still staged closes the session.
//
// The package is Linux only.
package relay
