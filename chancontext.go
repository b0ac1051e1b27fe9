// SPDX-License-Identifier: GPL-3.0-or-later

package corox

// NewChanContext returns a new [*ChanContext].
func NewChanContext() *ChanContext {
	return &ChanContext{}
}

// ChanContext is the portable reference implementation of [Context].
//
// Each Spawn starts a fresh goroutine for the coroutine and the two
// sides hand control back and forth over a pair of unbuffered
// channels, so exactly one side runs at any time. This implementation
// is the baseline for correctness; [FastContext] provides the same
// semantics while reusing one goroutine per context.
//
// The zero value is ready to use. A ChanContext must not be shared
// across concurrent callers.
type ChanContext struct {
	// resume transfers control from the caller to the coroutine.
	resume chan struct{}

	// yielded transfers control from the coroutine to the caller.
	yielded chan struct{}

	// active is true from Spawn until the user function returns.
	//
	// Both sides read and write this field, which is safe because
	// every access is ordered by a channel handoff.
	active bool
}

var _ Context = &ChanContext{}

// Spawn implements [Context].
func (c *ChanContext) Spawn(fn func(), stackSize int) (Status, error) {
	if c.active {
		return 0, ErrContextActive
	}
	if stackSize < MinStackSize {
		return 0, ErrStackTooSmall
	}

	c.resume = make(chan struct{})
	c.yielded = make(chan struct{})
	c.active = true

	go func() {
		fn()
		c.active = false
		c.yielded <- struct{}{}
	}()

	<-c.yielded
	return c.status(), nil
}

// Continue implements [Context].
func (c *ChanContext) Continue() (Status, error) {
	if !c.active {
		return StatusCompleted, nil
	}
	c.resume <- struct{}{}
	<-c.yielded
	return c.status(), nil
}

// Yield implements [Context].
func (c *ChanContext) Yield() error {
	if !c.active {
		return ErrContextNotActive
	}
	c.yielded <- struct{}{}
	<-c.resume
	return nil
}

// Active implements [Context].
func (c *ChanContext) Active() bool {
	return c.active
}

// Close implements [Context]. There is nothing to release here: the
// coroutine goroutine exits when the user function returns.
func (c *ChanContext) Close() error {
	if c.active {
		return ErrContextActive
	}
	return nil
}

// status maps the active flag to the status seen by the caller after
// a handoff from the coroutine.
func (c *ChanContext) status() Status {
	if c.active {
		return StatusSuspended
	}
	return StatusCompleted
}
