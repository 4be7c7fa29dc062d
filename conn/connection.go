// Package conn hosts the per-connection dispatcher and the websocket
// transport that feeds it text frames, per the connection-handler FSM:
// one dispatcher per connection, state held as a handful of nullable
// fields, every inbound envelope producing at most one reply plus an
// optional ack.
package conn

import (
	"encoding/json"
	"errors"

	"github.com/chris-pikul/wormhole-mailbox-server/log"
	"github.com/chris-pikul/wormhole-mailbox-server/relay"
	"github.com/chris-pikul/wormhole-mailbox-server/store"
	"github.com/chris-pikul/wormhole-mailbox-server/wire"
)

// Clock abstracts the current time as integer seconds so tests can
// drive every state-changing call with a deterministic value.
type Clock func() int64

// Sender is the one thing a Dispatcher needs from its transport:
// somewhere to put an outbound frame. Implementations must not block
// the dispatcher on further store work (spec.md §5's deliver-fns must
// not themselves block on further store work).
type Sender interface {
	Send(v interface{})
}

// Dispatcher is the per-connection FSM described in the component
// design: it owns no socket of its own, only the bound app/side,
// claimed nameplate, open mailbox, and the flags that make allocate,
// claim, release, open, and close each usable once per connection.
type Dispatcher struct {
	server *relay.Server
	send   Sender
	now    Clock

	app       *relay.AppNamespace
	appID     string
	side      string
	nameplate string
	mailbox   *relay.Mailbox
	listenerH string

	allocated         bool
	claimed           bool
	releasedNameplate bool
	opened            bool
	closedMailbox     bool
}

// NewDispatcher constructs a Dispatcher bound to srv, using send for
// every outbound frame and now for every timestamped operation.
func NewDispatcher(srv *relay.Server, send Sender, now Clock) *Dispatcher {
	return &Dispatcher{server: srv, send: send, now: now}
}

// OnConnect sends the initial welcome frame. Welcome carries no
// server_tx field (spec.md §4.5).
func (d *Dispatcher) OnConnect() {
	w := d.server.GetWelcome()
	m := map[string]interface{}{}
	if w.MOTD != "" {
		m["motd"] = w.MOTD
	}
	if w.CurrentCLIVersion != "" {
		m["current_cli_version"] = w.CurrentCLIVersion
	}
	if w.Error != "" {
		m["error"] = w.Error
	}
	d.send.Send(wire.NewWelcome(m))
}

// OnClose removes any registered listener. Nameplates stay claimed and
// mailboxes stay open across a transport close — clients are expected
// to reconnect and resume (spec.md §8 scenario 5).
func (d *Dispatcher) OnClose() {
	if d.mailbox != nil && d.listenerH != "" {
		d.mailbox.RemoveListener(d.listenerH)
		d.listenerH = ""
	}
}

// OnFrame handles one inbound text frame: an unparseable or type-less
// frame yields a bare error envelope with orig set to the raw bytes
// (there being no well-formed envelope to echo back).
func (d *Dispatcher) OnFrame(data []byte) {
	in, err := wire.Parse(data)
	if err != nil {
		d.sendError(err, json.RawMessage(data))
		return
	}

	if in.Has("id") {
		d.send.Send(wire.Ack{Type: wire.TypeAck, ID: in.ID, ServerTX: d.now()})
	}

	if !d.bound() && in.Type != wire.TypePing && in.Type != wire.TypeBind {
		d.sendError(wire.ErrBindFirst, data)
		return
	}

	var handlerErr error
	switch in.Type {
	case wire.TypePing:
		handlerErr = d.handlePing(in)
	case wire.TypeBind:
		handlerErr = d.handleBind(in)
	case wire.TypeList:
		handlerErr = d.handleList(in)
	case wire.TypeAllocate:
		handlerErr = d.handleAllocate(in)
	case wire.TypeClaim:
		handlerErr = d.handleClaim(in)
	case wire.TypeRelease:
		handlerErr = d.handleRelease(in)
	case wire.TypeOpen:
		handlerErr = d.handleOpen(in)
	case wire.TypeAdd:
		handlerErr = d.handleAdd(in)
	case wire.TypeClose:
		handlerErr = d.handleClose(in)
	default:
		handlerErr = wire.ErrUnknownType
	}

	if handlerErr != nil {
		d.sendError(handlerErr, data)
	}
}

func (d *Dispatcher) bound() bool {
	return d.app != nil
}

func (d *Dispatcher) sendError(err error, orig json.RawMessage) {
	log.Debugf("connection error: %s", err.Error())
	d.send.Send(wire.ErrorEnvelope{
		Type:     wire.TypeError,
		Error:    err.Error(),
		Orig:     orig,
		ServerTX: d.now(),
	})
}

func (d *Dispatcher) handlePing(in *wire.Inbound) error {
	if !in.Has("ping") {
		return wire.ErrPingRequired
	}
	d.send.Send(wire.Pong{Type: wire.TypePong, Pong: in.Ping, ServerTX: d.now()})
	return nil
}

func (d *Dispatcher) handleBind(in *wire.Inbound) error {
	if d.bound() {
		return wire.ErrAlreadyBound
	}
	if in.AppID == "" {
		return wire.ErrBindAppID
	}
	if in.Side == "" {
		return wire.ErrBindSide
	}

	d.app = d.server.GetApp(in.AppID)
	d.appID = in.AppID
	d.side = in.Side

	if len(in.ClientVersion) == 2 {
		if err := d.app.LogClientVersion(d.now(), d.side, in.ClientVersion[0], in.ClientVersion[1]); err != nil {
			log.Warnf("failed to log client version: %s", err.Error())
		}
	}

	return nil
}

func (d *Dispatcher) handleList(in *wire.Inbound) error {
	if !d.server.AllowList() {
		d.send.Send(wire.Nameplates{Type: wire.TypeNameplates, Nameplates: []wire.NameplateEntry{}, ServerTX: d.now()})
		return nil
	}

	ids, err := d.app.GetNameplateIDs()
	if err != nil {
		log.Errorf("failed to list nameplates: %s", err.Error())
		return err
	}

	entries := make([]wire.NameplateEntry, len(ids))
	for i, id := range ids {
		entries[i] = wire.NameplateEntry{ID: id}
	}
	d.send.Send(wire.Nameplates{Type: wire.TypeNameplates, Nameplates: entries, ServerTX: d.now()})
	return nil
}

func (d *Dispatcher) handleAllocate(in *wire.Inbound) error {
	if d.allocated {
		return wire.ErrAlreadyAllocated
	}

	name, err := d.app.AllocateNameplate(d.side, d.now())
	if err != nil {
		return translate(err)
	}

	d.allocated = true
	d.send.Send(wire.Allocated{Type: wire.TypeAllocated, Nameplate: name, ServerTX: d.now()})
	return nil
}

func (d *Dispatcher) handleClaim(in *wire.Inbound) error {
	if d.claimed {
		return wire.ErrAlreadyClaimed
	}
	if in.Nameplate == "" {
		return wire.ErrClaimNameplate
	}

	mboxID, err := d.app.ClaimNameplate(in.Nameplate, d.side, d.now())
	if err != nil {
		return translate(err)
	}

	d.claimed = true
	d.nameplate = in.Nameplate
	d.send.Send(wire.Claimed{Type: wire.TypeClaimed, Mailbox: mboxID, ServerTX: d.now()})
	return nil
}

func (d *Dispatcher) handleRelease(in *wire.Inbound) error {
	if d.releasedNameplate {
		return wire.ErrAlreadyReleased
	}

	name := in.Nameplate
	if name == "" {
		if !d.claimed {
			return wire.ErrReleaseFollowsClaim
		}
		name = d.nameplate
	} else if d.claimed && name != d.nameplate {
		return wire.ErrReleaseClaimMismatch
	}

	if err := d.app.ReleaseNameplate(name, d.side, d.now()); err != nil {
		return translate(err)
	}

	d.releasedNameplate = true
	d.send.Send(wire.Released{Type: wire.TypeReleased, ServerTX: d.now()})
	return nil
}

func (d *Dispatcher) handleOpen(in *wire.Inbound) error {
	if d.opened {
		return wire.ErrAlreadyOpened
	}
	if in.Mailbox == "" {
		return wire.ErrOpenMailbox
	}

	mbox, err := d.app.OpenMailbox(in.Mailbox, d.side, d.now())
	if err != nil {
		return translate(err)
	}

	d.mailbox = mbox
	d.opened = true
	d.listenerH = newHandle()

	// AddListener delivers the history snapshot to d.deliverMessage
	// itself, under the mailbox's lock, so no concurrent AddMessage can
	// broadcast to this listener until replay has fully landed.
	if err := mbox.AddListener(d.listenerH, relay.Listener{
		Deliver: d.deliverMessage,
		Stop:    d.stopListening,
	}); err != nil {
		return err
	}

	return nil
}

func (d *Dispatcher) deliverMessage(msg store.MessageRow) {
	d.send.Send(wire.MessageEnvelope{
		Type:     wire.TypeMessage,
		Side:     msg.Side,
		Phase:    msg.Phase,
		Body:     msg.Body,
		ServerRX: msg.ServerRX,
		MsgID:    msg.MsgID,
		ServerTX: d.now(),
	})
}

func (d *Dispatcher) stopListening() {
	d.listenerH = ""
}

func (d *Dispatcher) handleAdd(in *wire.Inbound) error {
	if d.mailbox == nil {
		return wire.ErrOpenFirst
	}
	if in.Phase == "" {
		return wire.ErrAddPhase
	}
	if in.Body == "" {
		return wire.ErrAddBody
	}

	msg := store.MessageRow{
		AppID:     d.appID,
		MailboxID: d.mailbox.ID,
		Side:      d.side,
		Phase:     in.Phase,
		Body:      in.Body,
		ServerRX:  d.now(),
		MsgID:     in.ID,
	}

	if err := d.mailbox.AddMessage(msg); err != nil {
		log.Errorf("failed to add message: %s", err.Error())
		return err
	}
	return nil
}

func (d *Dispatcher) handleClose(in *wire.Inbound) error {
	if d.closedMailbox {
		return wire.ErrAlreadyClosed
	}

	if in.Mailbox != "" {
		if d.mailbox != nil && d.mailbox.ID != in.Mailbox {
			return wire.ErrOpenCloseMismatch
		}
	} else if d.mailbox == nil {
		return wire.ErrCloseFollowsOpen
	}

	mbox := d.mailbox
	if mbox == nil {
		m, err := d.app.OpenMailbox(in.Mailbox, d.side, d.now())
		if err != nil {
			return translate(err)
		}
		mbox = m
	}

	mood := in.Mood
	if err := mbox.Close(d.side, mood, d.now()); err != nil {
		log.Errorf("failed to close mailbox: %s", err.Error())
		return err
	}

	if d.listenerH != "" {
		mbox.RemoveListener(d.listenerH)
		d.listenerH = ""
	}
	d.mailbox = nil
	d.closedMailbox = true

	d.send.Send(wire.Closed{Type: wire.TypeClosed, ServerTX: d.now()})
	return nil
}

// translate maps a domain-level error onto its wire vocabulary
// equivalent; anything unrecognized passes through unchanged so its
// message still reaches the client as a generic error envelope.
func translate(err error) error {
	switch {
	case errors.Is(err, relay.ErrCrowded):
		return wire.ErrCrowded
	case errors.Is(err, relay.ErrReclaimed):
		return wire.ErrReclaimed
	default:
		return err
	}
}
