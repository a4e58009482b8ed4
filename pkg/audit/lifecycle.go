package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/chronicle/pkg/cid"
	"github.com/platinummonkey/chronicle/pkg/observability"
	"github.com/platinummonkey/chronicle/pkg/schema"
)

// SnapshotLoader re-reads the durable state of an entity by primary key
// within a named database alias. The lifecycle uses it to fetch the "old"
// side of an update diff, so the diff reflects persisted state rather than
// transient in-memory edits.
type SnapshotLoader interface {
	Load(ctx context.Context, database, entityType string, id schema.ID) (*schema.Record, error)
}

// PreLogFunc observes a log attempt before the diff is computed. Returning
// false vetoes the attempt.
type PreLogFunc func(ctx context.Context, inv Invocation, action Action, rec *schema.Record) bool

// PostLogFunc observes the outcome of a log attempt: the persisted entry (nil
// when suppressed) and the swallowed error, if any.
type PostLogFunc func(ctx context.Context, action Action, rec *schema.Record, entry *LogEntry, err error)

// Lifecycle reacts to entity lifecycle events, computes diffs and persists
// log entries. All failures on this path are logged and swallowed: audit
// logging never blocks or fails the primary mutation.
type Lifecycle struct {
	registry *Registry
	store    Store
	loader   SnapshotLoader
	log      *observability.Logger
	metrics  *observability.Metrics

	disableOnRawLoad bool
	preLog           []PreLogFunc
	postLog          []PostLogFunc

	scopeMu        sync.Mutex
	actorStack     []actorFrame
	disabledTokens []uuid.UUID
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithLogger sets the structured logger for swallowed failures.
func WithLogger(log *observability.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.log = log }
}

// WithMetrics enables write/suppression/failure counters.
func WithMetrics(m *observability.Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// WithDisableOnRawLoad suppresses logging for invocations marked Raw, to
// avoid audit noise from fixture imports and bulk loads.
func WithDisableOnRawLoad(disable bool) LifecycleOption {
	return func(l *Lifecycle) { l.disableOnRawLoad = disable }
}

// WithPreLog appends a pre-log observer.
func WithPreLog(fn PreLogFunc) LifecycleOption {
	return func(l *Lifecycle) { l.preLog = append(l.preLog, fn) }
}

// WithPostLog appends a post-log observer.
func WithPostLog(fn PostLogFunc) LifecycleOption {
	return func(l *Lifecycle) { l.postLog = append(l.postLog, fn) }
}

// NewLifecycle wires a lifecycle to its registry, store and snapshot loader.
func NewLifecycle(registry *Registry, store Store, loader SnapshotLoader, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		registry: registry,
		store:    store,
		loader:   loader,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return l
}

// RecordCreate handles a freshly created entity: diff(nil, new), persisted
// when any tracked field differs from its null baseline.
//
// If prior entries exist for the same identity -- which only happens when a
// primary key is reused after a hard delete outside the audit path -- the
// stale entries are deleted first, keeping one create per currently-live
// identity. A host that reuses keys without the audited delete path will
// lose that earlier history.
func (l *Lifecycle) RecordCreate(ctx context.Context, inv Invocation, rec *schema.Record) {
	reg, ok := l.dispatch(rec, func(e EventSet) bool { return e.Create })
	if !ok || l.disabled(inv) {
		return
	}
	if reg.hooks != nil {
		reg.hooks.OnCreate(ctx, inv, rec)
		return
	}
	l.logEvent(ctx, inv, ActionCreate, rec, nil, rec, nil, false)
}

// RecordUpdate handles a saved change to an existing entity. The old state
// is re-read from the durable row, never taken from the in-memory pre-image.
// When updateFields is non-empty the diff considers only those fields:
// in-memory changes to unlisted fields were never persisted and must not be
// reported.
func (l *Lifecycle) RecordUpdate(ctx context.Context, inv Invocation, rec *schema.Record, updateFields []string) {
	reg, ok := l.dispatch(rec, func(e EventSet) bool { return e.Update })
	if !ok || l.disabled(inv) {
		return
	}
	if reg.hooks != nil {
		reg.hooks.OnUpdate(ctx, inv, rec, updateFields)
		return
	}

	old, err := l.loader.Load(ctx, inv.Database, rec.Entity.Type, rec.ID)
	if err != nil {
		l.swallow(ctx, ActionUpdate, rec, fmt.Errorf("loading old snapshot: %w", err))
		return
	}
	l.logEvent(ctx, inv, ActionUpdate, rec, old, rec, updateFields, false)
}

// RecordDelete handles a deleted entity: diff(old, nil), always persisted.
func (l *Lifecycle) RecordDelete(ctx context.Context, inv Invocation, rec *schema.Record) {
	reg, ok := l.dispatch(rec, func(e EventSet) bool { return e.Delete })
	if !ok || l.disabled(inv) {
		return
	}
	if reg.hooks != nil {
		reg.hooks.OnDelete(ctx, inv, rec)
		return
	}
	l.logEvent(ctx, inv, ActionDelete, rec, rec, nil, nil, true)
}

// RecordAccess force-logs a view/access event with no changes.
func (l *Lifecycle) RecordAccess(ctx context.Context, inv Invocation, rec *schema.Record) {
	reg, ok := l.dispatch(rec, func(e EventSet) bool { return e.Access })
	if !ok || l.disabled(inv) {
		return
	}
	if reg.hooks != nil {
		reg.hooks.OnAccess(ctx, inv, rec)
		return
	}
	l.logEvent(ctx, inv, ActionAccess, rec, nil, nil, nil, true)
}

// RecordM2M logs a membership change on a many-to-many field: the related
// objects added to or removed from it. Persisted as an update whose changes
// carry the operation and the related objects' representations instead of a
// value pair. An empty object set logs nothing.
func (l *Lifecycle) RecordM2M(ctx context.Context, inv Invocation, rec *schema.Record, field, operation string, objects []string) {
	reg, ok := l.dispatch(rec, func(e EventSet) bool { return e.M2M })
	if !ok || l.disabled(inv) {
		return
	}
	if reg.hooks != nil {
		reg.hooks.OnM2M(ctx, inv, rec, field, operation, objects)
		return
	}
	if len(objects) == 0 {
		return
	}
	l.logPrepared(ctx, inv, ActionUpdate, rec, Changes{field: M2MChange(operation, objects)})
}

func (l *Lifecycle) dispatch(rec *schema.Record, enabled func(EventSet) bool) (*registration, bool) {
	if rec == nil || rec.Entity == nil {
		return nil, false
	}
	reg, ok := l.registry.lookup(rec.Entity.Type)
	if !ok || !enabled(reg.events) {
		return nil, false
	}
	return reg, true
}

// logEvent runs one log attempt: pre hooks, diff, persist, post hooks.
// Errors are swallowed here and nowhere else.
func (l *Lifecycle) logEvent(ctx context.Context, inv Invocation, action Action, rec, old, new *schema.Record, fieldsFilter []string, force bool) {
	for _, pre := range l.preLog {
		if !pre(ctx, inv, action, rec) {
			return
		}
	}

	cfg, err := l.registry.Config(rec.Entity.Type)
	cfgPtr := &cfg
	if err != nil {
		// Not registered means no filtering config, not a failure.
		cfgPtr = nil
	}

	start := time.Now()
	changes := Diff(cfgPtr, old, new, fieldsFilter)
	if l.metrics != nil {
		l.metrics.DiffDuration.Observe(time.Since(start).Seconds())
	}

	if changes == nil && !force {
		if l.metrics != nil {
			l.metrics.DiffsSuppressedTotal.Inc()
		}
		l.emitPostLog(ctx, action, rec, nil, nil)
		return
	}

	entry, err := l.persist(ctx, inv, action, rec, changes)
	if err != nil {
		l.swallow(ctx, action, rec, err)
		l.emitPostLog(ctx, action, rec, nil, err)
		return
	}

	if l.metrics != nil {
		l.metrics.EntriesWrittenTotal.WithLabelValues(action.String(), rec.Entity.Type).Inc()
	}
	l.emitPostLog(ctx, action, rec, entry, nil)
}

// logPrepared persists an entry whose changes were built by the caller,
// bypassing diff computation.
func (l *Lifecycle) logPrepared(ctx context.Context, inv Invocation, action Action, rec *schema.Record, changes Changes) {
	for _, pre := range l.preLog {
		if !pre(ctx, inv, action, rec) {
			return
		}
	}

	entry, err := l.persist(ctx, inv, action, rec, changes)
	if err != nil {
		l.swallow(ctx, action, rec, err)
		l.emitPostLog(ctx, action, rec, nil, err)
		return
	}

	if l.metrics != nil {
		l.metrics.EntriesWrittenTotal.WithLabelValues(action.String(), rec.Entity.Type).Inc()
	}
	l.emitPostLog(ctx, action, rec, entry, nil)
}

func (l *Lifecycle) emitPostLog(ctx context.Context, action Action, rec *schema.Record, entry *LogEntry, err error) {
	for _, post := range l.postLog {
		post(ctx, action, rec, entry, err)
	}
}

func (l *Lifecycle) persist(ctx context.Context, inv Invocation, action Action, rec *schema.Record, changes Changes) (*LogEntry, error) {
	entry := &LogEntry{
		EntityType: rec.Entity.Type,
		ObjectPK:   rec.ID.String(),
		ObjectRepr: rec.Repr,
		Action:     action,
		Changes:    changes,
		Actor:      inv.Actor,
		ActorEmail: inv.ActorEmail,
		RemoteAddr: inv.RemoteAddr,
		RemotePort: inv.RemotePort,
		CID:        inv.CID,
	}
	if n, ok := rec.ID.Numeric(); ok {
		entry.ObjectID = &n
	}
	if len(rec.AdditionalData) > 0 {
		entry.AdditionalData = append([]byte(nil), rec.AdditionalData...)
	}
	if entry.CID == "" {
		entry.CID = cid.FromContext(ctx)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	l.stampActor(entry)

	tx := inv.Tx
	if action == ActionCreate {
		deleted, err := l.store.DeleteForObject(ctx, tx, entry.EntityType, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("deleting stale entries: %w", err)
		}
		if deleted > 0 {
			l.log.WithField("entity_type", entry.EntityType).
				WithField("object_pk", entry.ObjectPK).
				Debugf("removed %d stale entries for reused primary key", deleted)
		}
	}

	if err := l.store.Save(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("persisting log entry: %w", err)
	}
	return entry, nil
}

// stampActor applies the innermost ambient actor scope: the principal only
// when none is set yet, the origin address and port always.
func (l *Lifecycle) stampActor(entry *LogEntry) {
	frame, ok := l.currentActorFrame()
	if !ok {
		return
	}
	if entry.Actor == nil {
		entry.Actor = frame.actor
		if entry.ActorEmail == nil {
			entry.ActorEmail = frame.actorEmail
		}
	}
	entry.RemoteAddr = frame.remoteAddr
	entry.RemotePort = frame.remotePort
}

func (l *Lifecycle) swallow(ctx context.Context, action Action, rec *schema.Record, err error) {
	if l.metrics != nil {
		l.metrics.WriteFailuresTotal.Inc()
	}
	l.log.WithError(err).
		WithField("action", action.String()).
		WithField("entity_type", rec.Entity.Type).
		WithField("object_pk", rec.ID.String()).
		Warn("audit log attempt failed; mutation unaffected")
}
