package wire

import "errors"

// Protocol errors surfaced to clients as {type:"error", error:<reason>}.
// The strings are part of the wire contract — clients match on them.
var (
	ErrMissingType    = errors.New("missing 'type'")
	ErrUnknownType    = errors.New("unknown type")
	ErrBindSide       = errors.New("bind requires 'side'")
	ErrBindAppID      = errors.New("bind requires 'appid'")
	ErrAlreadyBound   = errors.New("already bound")
	ErrPingRequired   = errors.New("ping requires 'ping'")
	ErrBindFirst      = errors.New("must bind first")
	ErrAlreadyAllocated = errors.New("you already allocated one, don't be greedy")
	ErrClaimNameplate = errors.New("claim requires 'nameplate'")
	ErrAlreadyClaimed = errors.New("only one claim per connection")
	ErrCrowded        = errors.New("crowded")
	ErrReclaimed      = errors.New("reclaimed")
	ErrReleaseFollowsClaim   = errors.New("release without nameplate must follow claim")
	ErrAlreadyReleased       = errors.New("only one release per connection")
	ErrReleaseClaimMismatch  = errors.New("release and claim must use same nameplate")
	ErrOpenMailbox    = errors.New("open requires 'mailbox'")
	ErrAlreadyOpened  = errors.New("only one open per connection")
	ErrOpenFirst      = errors.New("must open mailbox before adding")
	ErrAddPhase       = errors.New("missing 'phase'")
	ErrAddBody        = errors.New("missing 'body'")
	ErrCloseFollowsOpen      = errors.New("close without mailbox must follow open")
	ErrAlreadyClosed         = errors.New("only one close per connection")
	ErrOpenCloseMismatch     = errors.New("open and close must use same mailbox")
)
