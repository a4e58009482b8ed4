package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation a log entry records. Values are ordered by
// intrusiveness (CREATE < UPDATE < DELETE) so range comparisons over stored
// entries are meaningful.
type Action int16

const (
	ActionCreate Action = 0
	ActionUpdate Action = 1
	ActionDelete Action = 2
	// ActionAccess records a forced view/access log with no changes.
	ActionAccess Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionAccess:
		return "access"
	default:
		return fmt.Sprintf("Action(%d)", int16(a))
	}
}

// Change holds the before/after string forms of one field. Nil means null,
// not empty string. A membership change on a many-to-many field carries
// Operation and Objects instead of a value pair.
type Change struct {
	Old *string
	New *string

	Operation string
	Objects   []string
}

// Operations recorded for many-to-many membership changes.
const (
	M2MOperationAdd    = "add"
	M2MOperationDelete = "delete"
)

// M2MChange describes objects added to or removed from a many-to-many field.
func M2MChange(operation string, objects []string) Change {
	return Change{Operation: operation, Objects: objects}
}

type m2mChangeDoc struct {
	Type      string   `json:"type"`
	Operation string   `json:"operation"`
	Objects   []string `json:"objects"`
}

// MarshalJSON encodes a value change as a two-element [old, new] array and a
// many-to-many change as an object tagged "m2m".
func (c Change) MarshalJSON() ([]byte, error) {
	if c.Operation != "" {
		return json.Marshal(m2mChangeDoc{Type: "m2m", Operation: c.Operation, Objects: c.Objects})
	}
	return json.Marshal([2]*string{c.Old, c.New})
}

// UnmarshalJSON decodes either change form.
func (c *Change) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		var doc m2mChangeDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		c.Operation, c.Objects = doc.Operation, doc.Objects
		return nil
	}
	var pair [2]*string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	c.Old, c.New = pair[0], pair[1]
	return nil
}

// Changes maps field names to their recorded value pair. A nil Changes map
// means no tracked field changed, which is distinct from an empty map and
// suppresses entry creation unless logging is forced.
type Changes map[string]Change

// LogEntry is one immutable audit record.
type LogEntry struct {
	ID         int64  `json:"id"`
	EntityType string `json:"entity_type"`

	// Exactly one of ObjectID / ObjectPK is authoritative, depending on
	// the entity's primary-key kind. ObjectPK always carries the text form.
	ObjectID *int64 `json:"object_id,omitempty"`
	ObjectPK string `json:"object_pk"`

	ObjectRepr string  `json:"object_repr"`
	Action     Action  `json:"action"`
	Changes    Changes `json:"changes,omitempty"`

	Actor      *string `json:"actor,omitempty"`
	ActorEmail *string `json:"actor_email,omitempty"`
	RemoteAddr *string `json:"remote_addr,omitempty"`
	RemotePort *int    `json:"remote_port,omitempty"`

	AdditionalData json.RawMessage `json:"additional_data,omitempty"`
	CID            string          `json:"cid,omitempty"`

	// Timestamp is assigned at persistence; ties are broken by ID.
	Timestamp time.Time `json:"timestamp"`
}

// ChangesDisplay renders the changes with per-field display labels applied.
// Mapping labels affect rendering only, never diff computation.
func (e *LogEntry) ChangesDisplay(mapping map[string]string) Changes {
	if e.Changes == nil {
		return nil
	}
	display := make(Changes, len(e.Changes))
	for field, change := range e.Changes {
		if label, ok := mapping[field]; ok {
			field = label
		}
		display[field] = change
	}
	return display
}
