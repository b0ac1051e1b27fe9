// SPDX-License-Identifier: GPL-3.0-or-later

// Package corox lets a blocking, synchronously-written client library
// be driven by an external event loop without rewriting its internal
// logic in event-driven style.
//
// # How It Works
//
// The package combines three layers:
//
//  1. A stackful coroutine primitive ([Context]) that the owner
//     explicitly switches in and out. Two interchangeable backends
//     exist: [ChanContext] (the portable reference) and [FastContext]
//     (reuses one goroutine per handle across calls).
//
//  2. Non-blocking I/O shims ([AsyncConnect], [AsyncRead],
//     [AsyncWrite]) that the library body calls instead of performing
//     socket I/O directly. When the socket would block inside a
//     wrapped call, the shim records a wait mask on the owning
//     [AsyncCallState] and yields; outside a wrapped call it blocks,
//     preserving plain synchronous behavior.
//
//  3. A per-call protocol ([StartCall], [ContinueCall]) that spawns
//     the synchronous body inside a coroutine and translates its
//     suspensions into a (result, [WaitMask]) pair for the caller.
//
// The caller's contract per wrapped function is a start/cont pair:
// start the call, and while the returned mask is nonzero, wait for
// the indicated events on the handle's socket (bounding the wait by
// the handle's timeout when the mask contains [WaitTimeout]) and
// invoke the matching cont function with the events that occurred.
// A zero mask means the call completed and the result is valid.
//
// [Client] demonstrates the pattern end to end: its Connect and Query
// bodies are ordinary blocking code on top of the shims, and the same
// bodies serve both synchronous callers and poll-driven event loops.
// See the testable examples for complete synchronous and asynchronous
// flows.
//
// # Concurrency Model
//
// Everything is single-threaded and cooperative. A handle and its
// coroutine are driven by one caller at a time; the event loop
// serializes start/cont entries per handle. Control handoffs double
// as memory barriers, so the coroutine and its caller always observe
// each other's writes without further synchronization.
//
// # Observability
//
// All operations support structured logging via [SLogger] (compatible
// with [log/slog]). By default, logging is disabled. Set the logger
// argument of the constructor functions to a custom [*slog.Logger] to
// enable logging. Error classification is configurable via
// [ErrClassifier]; by default errors are classified with errclass.
//
// Lifecycle events (connectStart/connectDone, queryStart/queryDone,
// closeStart/closeDone) are emitted at [slog.LevelInfo]; per-I/O
// events on observed connections are emitted at [slog.LevelDebug].
// Use [NewSpanID] to generate a unique, time-ordered identifier
// (UUIDv7) per call and attach it with [*slog.Logger.With] to
// correlate entries across event-loop iterations.
//
// # Design Boundaries
//
// This package provides the suspension machinery only. The following
// are out of scope and belong to the caller:
//
//   - The event loop itself (poll, epoll, or any reactor): the
//     package exposes a descriptor and a wait mask; scheduling policy
//     is external.
//   - Timers: a pending timeout is a hint surfaced via TimeoutValue,
//     and the caller reports expiry by passing [WaitTimeout] back.
//   - Multi-threaded execution of a single handle, preemption, and
//     cross-call cancellation tokens.
package corox
