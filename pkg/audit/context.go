package audit

import (
	"github.com/google/uuid"
)

// Invocation carries the request-scoped provenance for one unit of work. It
// is passed explicitly to every lifecycle call instead of living in ambient
// process state, so concurrent units of work never observe each other's
// actor or flags.
type Invocation struct {
	Actor      *string
	ActorEmail *string
	RemoteAddr *string
	RemotePort *int

	// CID is the correlation id stamped onto entries. When empty, the
	// lifecycle falls back to the id carried by the call's context.
	CID string

	// Database names the alias the mutation ran against, so the log entry
	// is written to the same consistency domain.
	Database string

	// Tx, when set, joins the log write to the mutation's own transaction.
	Tx DBTX

	// Raw marks bulk/fixture loads; combined with the lifecycle's
	// disable-on-raw-load flag it suppresses logging for import noise.
	Raw bool

	// Disabled suppresses logging for this invocation only.
	Disabled bool
}

// ScopeToken identifies one entered scope. Exiting with a stale token is a
// no-op, which keeps overlapping or reentrant scopes from clobbering each
// other's state.
type ScopeToken struct {
	id uuid.UUID
}

type actorFrame struct {
	token      uuid.UUID
	actor      *string
	actorEmail *string
	remoteAddr *string
	remotePort *int
}

// EnterActor installs an ambient actor scope: until the returned token is
// passed to ExitActor, entries persisted without an explicit actor are
// stamped with this principal, and the origin address/port are always
// stamped. Scopes nest; the innermost active scope wins.
func (l *Lifecycle) EnterActor(actor, actorEmail, remoteAddr string, remotePort int) ScopeToken {
	token := uuid.New()
	frame := actorFrame{token: token}
	if actor != "" {
		frame.actor = &actor
	}
	if actorEmail != "" {
		frame.actorEmail = &actorEmail
	}
	if remoteAddr != "" {
		frame.remoteAddr = &remoteAddr
	}
	if remotePort != 0 {
		frame.remotePort = &remotePort
	}

	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	l.actorStack = append(l.actorStack, frame)
	return ScopeToken{id: token}
}

// ExitActor removes the scope identified by token. Call it on every exit
// path, success or failure; exiting twice or with a foreign token is safe.
func (l *Lifecycle) ExitActor(token ScopeToken) {
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	for i := len(l.actorStack) - 1; i >= 0; i-- {
		if l.actorStack[i].token == token.id {
			l.actorStack = append(l.actorStack[:i], l.actorStack[i+1:]...)
			return
		}
	}
}

// currentActorFrame returns the innermost active actor scope, if any.
func (l *Lifecycle) currentActorFrame() (actorFrame, bool) {
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	if len(l.actorStack) == 0 {
		return actorFrame{}, false
	}
	return l.actorStack[len(l.actorStack)-1], true
}

// Disable suppresses all logging until the returned token is passed to
// Enable. Disable scopes stack: logging resumes only when every scope has
// exited.
func (l *Lifecycle) Disable() ScopeToken {
	token := uuid.New()
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	l.disabledTokens = append(l.disabledTokens, token)
	return ScopeToken{id: token}
}

// Enable exits a disable scope. Stale tokens are ignored.
func (l *Lifecycle) Enable(token ScopeToken) {
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	for i := len(l.disabledTokens) - 1; i >= 0; i-- {
		if l.disabledTokens[i] == token.id {
			l.disabledTokens = append(l.disabledTokens[:i], l.disabledTokens[i+1:]...)
			return
		}
	}
}

func (l *Lifecycle) disabled(inv Invocation) bool {
	if inv.Disabled {
		return true
	}
	if inv.Raw && l.disableOnRawLoad {
		return true
	}
	l.scopeMu.Lock()
	defer l.scopeMu.Unlock()
	return len(l.disabledTokens) > 0
}
