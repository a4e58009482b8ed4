package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// TrackingConfig is the per-entity-type diff configuration.
type TrackingConfig struct {
	// IncludeFields, when non-empty, is an allow-list: only these fields
	// are diffed.
	IncludeFields []string
	// ExcludeFields is subtracted after the include-list; the deny-list
	// always wins.
	ExcludeFields []string
	// MappingFields maps field names to display labels. Rendering only.
	MappingFields map[string]string
	// MaskFields are irreversibly masked before storage.
	MaskFields []string
	// MaskFunc overrides the default MaskString for this entity type.
	MaskFunc MaskFunc
}

// EventSet selects which lifecycle events a registration observes. Access
// and M2M are opt-in.
type EventSet struct {
	Create bool
	Update bool
	Delete bool
	Access bool
	M2M    bool
}

// DefaultEvents observes create, update and delete.
func DefaultEvents() EventSet {
	return EventSet{Create: true, Update: true, Delete: true}
}

// Hooks receives lifecycle events for one registered entity type. The
// standard implementation is the Lifecycle itself; registrations may override
// it to intercept dispatch.
type Hooks interface {
	OnCreate(ctx context.Context, inv Invocation, rec *schema.Record)
	OnUpdate(ctx context.Context, inv Invocation, rec *schema.Record, updateFields []string)
	OnDelete(ctx context.Context, inv Invocation, rec *schema.Record)
	OnAccess(ctx context.Context, inv Invocation, rec *schema.Record)
	OnM2M(ctx context.Context, inv Invocation, rec *schema.Record, field, operation string, objects []string)
}

type registration struct {
	config TrackingConfig
	events EventSet
	hooks  Hooks
}

// Registry holds the tracked entity types and their configuration. It is an
// explicit constructed object: independent registries (test isolation,
// special-purpose tracking) are separate instances, not shared globals.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*registration
	trackAll bool
	excluded map[string]struct{}

	// defaultReg serves track-all lookups for types without an explicit
	// registration.
	defaultReg *registration
}

// RegistryOption configures a Registry at construction.
type RegistryOption func(*Registry)

// WithTrackAll makes the registry treat every entity type as registered with
// default configuration, except the named exclusions. Explicit registrations
// still take precedence over the default.
func WithTrackAll(exclude ...string) RegistryOption {
	return func(r *Registry) {
		r.trackAll = true
		for _, name := range exclude {
			r.excluded[name] = struct{}{}
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:    make(map[string]*registration),
		excluded:   make(map[string]struct{}),
		defaultReg: &registration{events: DefaultEvents()},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption configures one registration.
type RegisterOption func(*registration)

// WithIncludeFields sets the allow-list.
func WithIncludeFields(fields ...string) RegisterOption {
	return func(r *registration) { r.config.IncludeFields = fields }
}

// WithExcludeFields sets the deny-list.
func WithExcludeFields(fields ...string) RegisterOption {
	return func(r *registration) { r.config.ExcludeFields = fields }
}

// WithMappingFields sets display labels for rendering.
func WithMappingFields(mapping map[string]string) RegisterOption {
	return func(r *registration) { r.config.MappingFields = mapping }
}

// WithMaskFields sets the masked field names.
func WithMaskFields(fields ...string) RegisterOption {
	return func(r *registration) { r.config.MaskFields = fields }
}

// WithMaskFunc installs a custom masking function, supplied directly as a
// value rather than resolved from configuration strings at runtime.
func WithMaskFunc(fn MaskFunc) RegisterOption {
	return func(r *registration) { r.config.MaskFunc = fn }
}

// WithEvents selects the observed event set.
func WithEvents(events EventSet) RegisterOption {
	return func(r *registration) { r.events = events }
}

// WithHooks overrides the dispatch target for this entity type.
func WithHooks(hooks Hooks) RegisterOption {
	return func(r *registration) { r.hooks = hooks }
}

// Register tracks an entity type. Re-registering the same type replaces its
// configuration and hooks entirely; registrations never merge or duplicate.
func (r *Registry) Register(entityType string, opts ...RegisterOption) {
	reg := &registration{events: DefaultEvents()}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entityType] = reg
}

// Unregister stops tracking an entity type. On a track-all registry the type
// joins the exclusion set, otherwise it would fall back to default tracking.
// Already-written log entries are unaffected.
func (r *Registry) Unregister(entityType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, entityType)
	if r.trackAll {
		r.excluded[entityType] = struct{}{}
	}
}

// Contains reports whether an entity type is tracked.
func (r *Registry) Contains(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[entityType]; ok {
		return true
	}
	return r.trackedByDefault(entityType)
}

// Config returns the tracking configuration for an entity type, or
// ErrNotRegistered. Callers treat the error as "track nothing". Types covered
// only by track-all get the zero configuration.
func (r *Registry) Config(entityType string) (TrackingConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[entityType]
	if !ok {
		if r.trackedByDefault(entityType) {
			return TrackingConfig{}, nil
		}
		return TrackingConfig{}, ErrNotRegistered
	}
	return reg.config, nil
}

// trackedByDefault reports track-all coverage. Callers hold r.mu.
func (r *Registry) trackedByDefault(entityType string) bool {
	if !r.trackAll {
		return false
	}
	_, excluded := r.excluded[entityType]
	return !excluded
}

// EntityTypes returns the registered type names, sorted.
func (r *Registry) EntityTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) lookup(entityType string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[entityType]
	if !ok && r.trackedByDefault(entityType) {
		return r.defaultReg, true
	}
	return reg, ok
}
