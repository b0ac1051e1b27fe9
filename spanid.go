// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 representing a span.
//
// A span here is one wrapped asynchronous call: the start invocation,
// every suspension and continuation, and the completion. Attach the
// span ID to the logger with [*slog.Logger.With] before constructing a
// handle so that all log entries produced while driving the call share
// the same spanID, enabling correlation across event-loop iterations.
//
// The span terminology is borrowed from OTel.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
