package schema

import (
	"fmt"
	"strconv"
)

// FieldKind classifies a field for diff purposes. The set is closed: hosts
// decide the kind of every field once, when the Entity descriptor is built,
// instead of probing value types on every comparison.
type FieldKind int

const (
	// KindScalar is any plain value compared by its string form.
	KindScalar FieldKind = iota
	// KindTemporal is a timestamp; values are normalized to naive UTC
	// before comparison.
	KindTemporal
	// KindJSON is a structured document; values are canonicalized with
	// sorted keys before comparison.
	KindJSON
	// KindRelation is a to-one reference; the value is the related row's
	// identity, so a change is detected by identity, not by target state.
	KindRelation
	// KindExcluded marks fields that are never tracked, such as
	// many-to-many relations and references to the audit log itself.
	KindExcluded
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindTemporal:
		return "temporal"
	case KindJSON:
		return "json"
	case KindRelation:
		return "relation"
	case KindExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// Field describes a single entity field.
type Field struct {
	Name string
	Kind FieldKind

	// Default is the fallback string form used when a value cannot be
	// extracted (for example a dangling reference). Nil means null.
	Default *string
}

// IDKind says which primary-key form is authoritative for an entity type.
type IDKind int

const (
	IDNumeric IDKind = iota
	IDString
)

// Entity describes one audited entity type.
type Entity struct {
	// Type is the stable entity-type name, e.g. "shop.Order".
	Type   string
	IDKind IDKind

	fields []Field
	byName map[string]Field
}

// NewEntity builds an entity descriptor. Field order is preserved; duplicate
// field names keep the last definition.
func NewEntity(entityType string, idKind IDKind, fields ...Field) *Entity {
	e := &Entity{
		Type:   entityType,
		IDKind: idKind,
		fields: fields,
		byName: make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		e.byName[f.Name] = f
	}
	return e
}

// Field looks up a field descriptor by name.
func (e *Entity) Field(name string) (Field, bool) {
	f, ok := e.byName[name]
	return f, ok
}

// Fields returns all field descriptors in declaration order.
func (e *Entity) Fields() []Field {
	return e.fields
}

// TrackedFields returns the fields eligible for diffing.
func (e *Entity) TrackedFields() []Field {
	tracked := make([]Field, 0, len(e.fields))
	for _, f := range e.fields {
		if f.Kind != KindExcluded {
			tracked = append(tracked, f)
		}
	}
	return tracked
}

// ID is an entity primary key in either numeric or opaque string form.
// Exactly one form is authoritative, matching the entity's IDKind.
type ID struct {
	num     int64
	str     string
	numeric bool
}

// NumericID wraps an integer primary key.
func NumericID(n int64) ID {
	return ID{num: n, numeric: true}
}

// StringID wraps a non-integer primary key such as a UUID.
func StringID(s string) ID {
	return ID{str: s}
}

// Numeric returns the integer form and whether it is authoritative.
func (id ID) Numeric() (int64, bool) {
	return id.num, id.numeric
}

// String returns the text form of the key regardless of kind.
func (id ID) String() string {
	if id.numeric {
		return strconv.FormatInt(id.num, 10)
	}
	return id.str
}

// IsZero reports whether the ID carries no key at all.
func (id ID) IsZero() bool {
	return !id.numeric && id.str == ""
}

// Record is a point-in-time snapshot of one entity instance. Values are keyed
// by field name; a field missing from the map means extraction failed (for
// example the related row was deleted), which is distinct from an explicit
// nil value.
type Record struct {
	Entity *Entity
	ID     ID
	Repr   string

	// AdditionalData is a producer-supplied free-form JSON document copied
	// verbatim onto any log entry written for this snapshot.
	AdditionalData []byte

	values map[string]any
}

// NewRecord creates an empty snapshot for the given entity.
func NewRecord(e *Entity, id ID, repr string) *Record {
	return &Record{
		Entity: e,
		ID:     id,
		Repr:   repr,
		values: make(map[string]any),
	}
}

// Set stores a field value and returns the record for chaining. Use an
// explicit nil for null; leave a field unset to signal extraction failure.
func (r *Record) Set(field string, value any) *Record {
	r.values[field] = value
	return r
}

// Value returns a field value and whether it was extracted at all.
func (r *Record) Value(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}
