package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// MaskCharacter replaces the leading half of masked values.
const MaskCharacter = "*"

// temporalLayout is the naive (timezone-free) form timestamps are normalized
// to before comparison and storage.
const temporalLayout = "2006-01-02 15:04:05.999999"

// MaskString replaces the first half of the input with the mask character,
// keeping the second half verbatim. The mask reveals the value's length and
// trailing characters: it is a convenience for PII, not a cryptographic or
// compliance-grade redaction.
func MaskString(value string) string {
	runes := []rune(value)
	limit := len(runes) / 2
	return strings.Repeat(MaskCharacter, limit) + string(runes[limit:])
}

// MaskFunc is a masking function supplied at registration time.
type MaskFunc func(string) string

// fieldValue returns the comparable string form of one field on a snapshot,
// or nil for null. The record may be nil when one side of the diff is absent,
// in which case every field reads as null.
func fieldValue(r *schema.Record, f schema.Field) *string {
	if r == nil {
		return nil
	}

	raw, ok := r.Value(f.Name)
	if !ok {
		// Extraction failed (for example a dangling reference): fall
		// back to the field's static default rather than aborting.
		return f.Default
	}
	if raw == nil {
		return nil
	}

	switch f.Kind {
	case schema.KindTemporal:
		return temporalValue(raw)
	case schema.KindJSON:
		return jsonValue(raw)
	case schema.KindRelation, schema.KindScalar:
		return coerceString(raw)
	default:
		// Excluded or unknown kinds are filtered out before diffing;
		// treat anything that slips through as null.
		return nil
	}
}

// temporalValue normalizes timestamps to naive UTC so that two instants equal
// in absolute time compare equal regardless of zone or awareness.
func temporalValue(raw any) *string {
	switch v := raw.(type) {
	case time.Time:
		s := v.UTC().Format(temporalLayout)
		return &s
	case *time.Time:
		if v == nil {
			return nil
		}
		s := v.UTC().Format(temporalLayout)
		return &s
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			s := t.UTC().Format(temporalLayout)
			return &s
		}
		return &v
	default:
		return coerceString(raw)
	}
}

// jsonValue canonicalizes structured values via key-sorted serialization so
// that semantically-equal documents compare equal regardless of key order or
// whitespace.
func jsonValue(raw any) *string {
	var doc any
	switch v := raw.(type) {
	case json.RawMessage:
		if err := json.Unmarshal(v, &doc); err != nil {
			s := string(v)
			return &s
		}
	case []byte:
		if err := json.Unmarshal(v, &doc); err != nil {
			s := string(v)
			return &s
		}
	case string:
		if err := json.Unmarshal([]byte(v), &doc); err != nil {
			return &v
		}
	default:
		doc = raw
	}

	// encoding/json writes object keys in sorted order, which is the
	// canonical form used for comparison.
	out, err := json.Marshal(doc)
	if err != nil {
		return coerceString(raw)
	}
	s := string(out)
	return &s
}

// coerceString renders a value the way it is stored in the changes column.
// Booleans keep the capitalized vocabulary of entries written by the legacy
// system so that old and new rows stay comparable.
func coerceString(raw any) *string {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case bool:
		if v {
			s = "True"
		} else {
			s = "False"
		}
	case []byte:
		s = string(v)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		s = v.UTC().Format(temporalLayout)
	case fmt.Stringer:
		s = v.String()
	default:
		s = fmt.Sprint(v)
	}
	return &s
}
