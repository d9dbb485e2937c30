// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"
	"slices"

	"github.com/bureau-foundation/passagent/lib/cache"
	"github.com/bureau-foundation/passagent/lib/prompt"
	"github.com/bureau-foundation/passagent/lib/protocol"
	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
)

// Reasons sent on ERR lines.
const (
	ReasonCancelled    = "cancelled"
	ReasonDenied       = "denied"
	ReasonNotCached    = "not cached"
	ReasonStoreFailed  = "storing passphrase failed"
	ReasonShuttingDown = "agent shutting down"
)

// Replier writes the reply to a connection's outstanding request.
type Replier interface {
	Reply(conn slot.Handle, reply protocol.Reply) error
}

// Settings are the dispatcher's share of the agent configuration.
type Settings struct {
	// Enabled is the cache master switch. When false nothing is looked
	// up or stored, and every GETPASS prompts.
	Enabled bool
}

// State is the lifecycle position of a queued request.
type State int

const (
	Queued State = iota + 1
	Active
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Active:
		return "active"
	}
	return "unknown"
}

type request struct {
	kind   prompt.Kind
	conn   slot.Handle
	id     string
	flags  protocol.Flags
	prompt prompt.Request
	state  State

	// pinned is set while the request holds one of its id's pins.
	pinned bool
}

// pinState counts the requests holding an id pinned. original is the
// lock flag restored when the last of them lets go.
type pinState struct {
	count    int
	original bool
}

// Options configures New.
type Options struct {
	Cache    *cache.Cache
	Gateway  prompt.Gateway
	Replier  Replier
	Settings Settings
	Logger   *slog.Logger
}

// Dispatcher routes requests between the cache, the prompt gateway and
// client connections.
type Dispatcher struct {
	cache   *cache.Cache
	gateway prompt.Gateway
	replier Replier
	logger  *slog.Logger
	enabled bool

	requests slot.Table[*request]
	queue    []slot.Handle
	active   slot.Handle
	byConn   map[slot.Handle]slot.Handle
	pins     map[string]*pinState
}

// New returns a Dispatcher with an empty queue.
func New(options Options) *Dispatcher {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		cache:   options.Cache,
		gateway: options.Gateway,
		replier: options.Replier,
		logger:  logger,
		enabled: options.Settings.Enabled,
		byConn:  make(map[slot.Handle]slot.Handle),
		pins:    make(map[string]*pinState),
	}
}

// Configure applies new settings. Turning the cache off clears it.
func (d *Dispatcher) Configure(settings Settings) {
	if d.enabled && !settings.Enabled {
		d.logger.Info("cache disabled, clearing cached secrets")
		d.cache.ClearAll()
	}
	d.enabled = settings.Enabled
}

// Handle routes a decoded request from conn.
func (d *Dispatcher) Handle(conn slot.Handle, incoming protocol.Request) {
	switch incoming.Verb {
	case protocol.VerbGetPass:
		d.GetPass(conn, incoming)
	case protocol.VerbClearPass:
		d.ClearPass(conn, incoming.ID)
	default:
		d.reply(conn, protocol.Errorf("unknown command %q", incoming.Verb))
	}
}

// GetPass answers from the cache when it can, and otherwise queues a
// prompt. A REPEAT request never uses the cached value, since the
// caller has just rejected it.
func (d *Dispatcher) GetPass(conn slot.Handle, incoming protocol.Request) {
	kind := prompt.Passphrase
	cached := d.enabled && incoming.ID != "" && !incoming.Flags.Has(protocol.FlagRepeat) &&
		d.cache.Has(incoming.ID, cache.AnyLock)

	if cached && !d.cache.AuthorizeOnHit() {
		if value, ok := d.cache.Get(incoming.ID); ok {
			d.logger.Debug("cache hit", "key", incoming.ID, "conn", conn)
			d.reply(conn, secretReply(value.Bytes(), incoming.Flags))
			return
		}
		cached = false
	}
	if cached {
		kind = prompt.Authorization
	}

	entry := &request{
		kind:  kind,
		conn:  conn,
		id:    incoming.ID,
		flags: incoming.Flags,
		prompt: prompt.Request{
			KeyID:        incoming.ID,
			Prompt:       incoming.Prompt,
			Description:  incoming.Description,
			ErrorMessage: incoming.ErrorMessage,
			Repeat:       incoming.Flags.Has(protocol.FlagRepeat),
		},
		state: Queued,
	}
	if kind == prompt.Authorization {
		entry.pinned = d.pin(incoming.ID)
	}

	ticket := d.requests.Insert(entry)
	d.byConn[conn] = ticket
	d.queue = append(d.queue, ticket)
	d.logger.Debug("request queued", "ticket", ticket, "kind", kind, "key", incoming.ID, "conn", conn, "queued", len(d.queue))

	d.NextPrompt()
}

// ClearPass removes one cached entry and replies OK. The queue is not
// touched.
func (d *Dispatcher) ClearPass(conn slot.Handle, id string) {
	d.cache.Clear(id)
	d.logger.Debug("cache entry cleared", "key", id, "conn", conn)
	d.reply(conn, protocol.OK())
}

// NextPrompt activates queued requests while no prompt is active. A
// request whose prompt cannot be shown is answered with ERR and the
// next one is tried.
func (d *Dispatcher) NextPrompt() {
	for d.active.IsZero() && len(d.queue) > 0 {
		ticket := d.queue[0]
		d.queue = d.queue[1:]
		entry, ok := d.requests.Get(ticket)
		if !ok {
			continue
		}

		// The entry may have been cleared while the authorization
		// request waited; ask for the passphrase instead.
		if entry.kind == prompt.Authorization && !d.cache.Has(entry.id, cache.AnyLock) {
			entry.kind = prompt.Passphrase
			if entry.pinned {
				d.unpin(entry.id)
				entry.pinned = false
			}
		}

		entry.state = Active
		d.active = ticket

		var err error
		if entry.kind == prompt.Authorization {
			err = d.gateway.ShowAuthorization(ticket, entry.prompt)
		} else {
			err = d.gateway.ShowPassphrase(ticket, entry.prompt)
		}
		if err != nil {
			d.logger.Warn("prompt unavailable", "ticket", ticket, "kind", entry.kind, "key", entry.id, "error", err)
			if entry.kind == prompt.Authorization {
				d.finishAuthorization(ticket, entry, false)
			} else {
				d.finishPassphrase(ticket, entry, nil, false)
			}
			continue
		}
		d.logger.Debug("prompt shown", "ticket", ticket, "kind", entry.kind, "key", entry.id)
	}
}

// Complete routes a prompt outcome. Outcomes for requests that are no
// longer active are dropped.
func (d *Dispatcher) Complete(completion prompt.Completion) {
	entry, ok := d.requests.Get(completion.Ticket)
	if !ok || completion.Ticket != d.active || entry.kind != completion.Kind {
		d.logger.Debug("dropping stale prompt completion", "ticket", completion.Ticket)
		if completion.Secret != nil {
			completion.Secret.Close()
		}
		return
	}
	if completion.Kind == prompt.Authorization {
		d.DoneAuth(completion.Ticket, completion.Authorized)
		return
	}
	d.DonePass(completion.Ticket, completion.Secret, completion.Pin)
}

// DoneAuth finishes the active authorization request. When authorized
// the cached secret is sent, or ERR "not cached" if the entry has gone
// away meanwhile. A denial leaves the entry in place.
func (d *Dispatcher) DoneAuth(ticket slot.Handle, authorized bool) {
	entry, ok := d.activeRequest(ticket, prompt.Authorization)
	if !ok {
		return
	}
	d.finishAuthorization(ticket, entry, authorized)
	d.NextPrompt()
}

// DonePass finishes the active passphrase request. A nil or empty
// value means the user cancelled. value is always closed.
func (d *Dispatcher) DonePass(ticket slot.Handle, value *secret.Buffer, pin bool) {
	entry, ok := d.activeRequest(ticket, prompt.Passphrase)
	if !ok {
		if value != nil {
			value.Close()
		}
		return
	}
	d.finishPassphrase(ticket, entry, value, pin)
	d.NextPrompt()
}

func (d *Dispatcher) activeRequest(ticket slot.Handle, kind prompt.Kind) (*request, bool) {
	entry, ok := d.requests.Get(ticket)
	if !ok || ticket != d.active || entry.kind != kind {
		d.logger.Debug("ignoring completion for inactive request", "ticket", ticket, "kind", kind)
		return nil, false
	}
	return entry, true
}

func (d *Dispatcher) finishAuthorization(ticket slot.Handle, entry *request, authorized bool) {
	var reply protocol.Reply
	switch {
	case !authorized:
		reply = protocol.Errorf(ReasonDenied)
	default:
		if value, ok := d.cache.Get(entry.id); ok {
			reply = secretReply(value.Bytes(), entry.flags)
		} else {
			reply = protocol.Errorf(ReasonNotCached)
		}
	}
	d.logger.Debug("authorization finished", "ticket", ticket, "key", entry.id, "authorized", authorized)
	d.reply(entry.conn, reply)
	d.retire(ticket, entry)
}

func (d *Dispatcher) finishPassphrase(ticket slot.Handle, entry *request, value *secret.Buffer, pin bool) {
	if value != nil {
		defer value.Close()
	}
	if value == nil || value.Len() == 0 {
		d.logger.Debug("passphrase prompt cancelled", "ticket", ticket, "key", entry.id)
		d.reply(entry.conn, protocol.Errorf(ReasonCancelled))
		d.retire(ticket, entry)
		return
	}

	if d.enabled && entry.id != "" {
		if err := d.cache.Set(entry.id, value.Bytes(), pin); err != nil {
			d.logger.Warn("caching passphrase failed", "key", entry.id, "error", err)
			d.reply(entry.conn, protocol.Errorf(ReasonStoreFailed))
			d.retire(ticket, entry)
			return
		}
		if state, ok := d.pins[entry.id]; ok {
			// Queued authorizations still hold this id; keep the new
			// entry pinned and restore the user's choice afterwards.
			state.original = pin
			d.cache.SetLocked(entry.id, true)
		}
		d.logger.Info("passphrase cached", "key", entry.id, "pinned", pin)
	}
	d.reply(entry.conn, secretReply(value.Bytes(), entry.flags))
	d.retire(ticket, entry)
}

// retire frees the request's slot, restores any pin it held, and
// frees the active slot if it was active.
func (d *Dispatcher) retire(ticket slot.Handle, entry *request) {
	if entry.pinned {
		d.unpin(entry.id)
		entry.pinned = false
	}
	d.requests.Remove(ticket)
	if d.byConn[entry.conn] == ticket {
		delete(d.byConn, entry.conn)
	}
	if d.active == ticket {
		d.active = slot.Handle{}
	}
}

// pin pins the entry for id on behalf of one request and reports
// whether the entry was present. The lock flag seen by the first pin is
// the one unpin restores.
func (d *Dispatcher) pin(id string) bool {
	if state, ok := d.pins[id]; ok {
		if _, present := d.cache.SetLocked(id, true); !present {
			return false
		}
		state.count++
		return true
	}
	previous, present := d.cache.SetLocked(id, true)
	if !present {
		return false
	}
	d.pins[id] = &pinState{count: 1, original: previous}
	return true
}

// unpin releases one pin on id, restoring the original lock flag when
// no request holds it any more. A missing entry is left missing.
func (d *Dispatcher) unpin(id string) {
	state, ok := d.pins[id]
	if !ok {
		return
	}
	state.count--
	if state.count > 0 {
		return
	}
	delete(d.pins, id)
	d.cache.SetLocked(id, state.original)
}

// ConnectionDropped silently cancels the request owned by conn, if
// any. A queued request leaves the queue without ever being shown; an
// active one has its prompt closed and the next request is activated.
// Calling it again for the same connection does nothing.
func (d *Dispatcher) ConnectionDropped(conn slot.Handle) {
	ticket, ok := d.byConn[conn]
	if !ok {
		return
	}
	entry, ok := d.requests.Get(ticket)
	if !ok {
		delete(d.byConn, conn)
		return
	}

	wasActive := ticket == d.active
	d.logger.Debug("request cancelled by disconnect", "ticket", ticket, "state", entry.state, "key", entry.id)
	if wasActive {
		d.gateway.Close(ticket)
	} else {
		d.queue = slices.DeleteFunc(d.queue, func(queued slot.Handle) bool { return queued == ticket })
	}
	d.retire(ticket, entry)
	if wasActive {
		d.NextPrompt()
	}
}

// Shutdown closes the active prompt and answers every outstanding
// request with ERR. The dispatcher is empty afterwards.
func (d *Dispatcher) Shutdown() {
	if !d.active.IsZero() {
		d.gateway.Close(d.active)
	}
	d.requests.Each(func(ticket slot.Handle, entry *request) {
		d.reply(entry.conn, protocol.Errorf(ReasonShuttingDown))
		if entry.pinned {
			d.unpin(entry.id)
		}
	})
	d.requests = slot.Table[*request]{}
	d.queue = nil
	d.active = slot.Handle{}
	clear(d.byConn)
	clear(d.pins)
}

// Queued returns the number of requests waiting behind the active one.
func (d *Dispatcher) Queued() int { return len(d.queue) }

// Active returns the ticket of the active request, if any.
func (d *Dispatcher) Active() (slot.Handle, bool) { return d.active, !d.active.IsZero() }

// State returns the state of the request owned by conn.
func (d *Dispatcher) State(conn slot.Handle) (State, bool) {
	ticket, ok := d.byConn[conn]
	if !ok {
		return 0, false
	}
	entry, ok := d.requests.Get(ticket)
	if !ok {
		return 0, false
	}
	return entry.state, true
}

func (d *Dispatcher) reply(conn slot.Handle, reply protocol.Reply) {
	if err := d.replier.Reply(conn, reply); err != nil {
		d.logger.Debug("reply not delivered", "conn", conn, "error", err)
	}
}

func secretReply(value []byte, flags protocol.Flags) protocol.Reply {
	return protocol.Reply{OK: true, Secret: value, AsData: flags.Has(protocol.FlagPassAsData)}
}
