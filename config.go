//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package corox

import "time"

// Config holds common configuration for corox handles.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// ConnectTimeout is the timeout hint recorded when an
	// asynchronous connect suspends, surfaced to event loops via
	// [*AsyncCallState.TimeoutValue]. Zero disables the timeout.
	//
	// Set by [NewConfig] to 30 seconds.
	ConnectTimeout time.Duration

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// NewContext creates the [Context] backend used by each
	// [*AsyncCallState].
	//
	// Set by [NewConfig] to create a [*FastContext]. Use
	// [NewChanContext] to select the reference backend instead.
	NewContext func() Context

	// StackSize is the stack-size hint passed to Spawn.
	//
	// Set by [NewConfig] to [DefaultStackSize].
	StackSize int

	// Syscalls is the syscall dispatch table used by the I/O shims.
	//
	// Set by [NewConfig] to [DefaultSyscalls].
	Syscalls Syscalls

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		ConnectTimeout: 30 * time.Second,
		ErrClassifier:  DefaultErrClassifier,
		NewContext:     func() Context { return NewFastContext() },
		StackSize:      DefaultStackSize,
		Syscalls:       DefaultSyscalls(),
		TimeNow:        time.Now,
	}
}
