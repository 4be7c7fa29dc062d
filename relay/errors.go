package relay

import "errors"

// Domain-level errors raised by AppNamespace/Mailbox operations. The
// connection handler translates these into wire error envelopes; they
// never escape to a transport-level failure.
var (
	// ErrCrowded is raised when a third side attempts to open a
	// mailbox or claim a nameplate that already has two.
	ErrCrowded = errors.New("crowded")

	// ErrReclaimed is raised when a side that previously released a
	// nameplate attempts to claim it again.
	ErrReclaimed = errors.New("reclaimed")

	// ErrExhausted is raised when no nameplate name could be found
	// after exhausting the density tiers and the random fallback.
	ErrExhausted = errors.New("no available nameplate ids")
)
