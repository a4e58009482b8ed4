package audit

import (
	"github.com/platinummonkey/chronicle/pkg/schema"
)

// Diff computes the field-level changes between two snapshots of the same
// entity. Either side may be nil (creation and deletion respectively). A nil
// result means no tracked field changed and callers must suppress the log
// entry unless logging is forced; this is distinct from an empty map.
//
// fieldsFilter restricts the diff to the named fields when non-empty; it
// carries the explicit field list of a partial update, so fields that differ
// in memory but were never persisted are not reported.
func Diff(cfg *TrackingConfig, old, new *schema.Record, fieldsFilter []string) Changes {
	fields := candidateFields(old, new)
	if len(fields) == 0 {
		return nil
	}

	if len(fieldsFilter) > 0 {
		allowed := stringSet(fieldsFilter)
		filtered := fields[:0]
		for _, f := range fields {
			if allowed[f.Name] {
				filtered = append(filtered, f)
			}
		}
		fields = filtered
	}

	var maskSet map[string]bool
	var mask MaskFunc = MaskString
	if cfg != nil {
		if len(cfg.IncludeFields) > 0 {
			included := stringSet(cfg.IncludeFields)
			filtered := fields[:0]
			for _, f := range fields {
				if included[f.Name] {
					filtered = append(filtered, f)
				}
			}
			fields = filtered
		}
		if len(cfg.ExcludeFields) > 0 {
			excluded := stringSet(cfg.ExcludeFields)
			filtered := fields[:0]
			for _, f := range fields {
				if !excluded[f.Name] {
					filtered = append(filtered, f)
				}
			}
			fields = filtered
		}
		maskSet = stringSet(cfg.MaskFields)
		if cfg.MaskFunc != nil {
			mask = cfg.MaskFunc
		}
	}

	changes := make(Changes)
	for _, f := range fields {
		oldValue := fieldValue(old, f)
		newValue := fieldValue(new, f)

		if valuesEqual(oldValue, newValue) {
			continue
		}
		if maskSet[f.Name] {
			oldValue = maskValue(mask, oldValue)
			newValue = maskValue(mask, newValue)
		}
		changes[f.Name] = Change{Old: oldValue, New: newValue}
	}

	if len(changes) == 0 {
		return nil
	}
	return changes
}

// candidateFields resolves the tracked field set: the union of both sides
// when both are present, one side's fields when the other is absent, empty
// when both are absent.
func candidateFields(old, new *schema.Record) []schema.Field {
	switch {
	case old != nil && new != nil:
		fields := old.Entity.TrackedFields()
		seen := make(map[string]bool, len(fields))
		for _, f := range fields {
			seen[f.Name] = true
		}
		for _, f := range new.Entity.TrackedFields() {
			if !seen[f.Name] {
				fields = append(fields, f)
			}
		}
		return fields
	case old != nil:
		return old.Entity.TrackedFields()
	case new != nil:
		return new.Entity.TrackedFields()
	default:
		return nil
	}
}

func valuesEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func maskValue(mask MaskFunc, v *string) *string {
	if v == nil {
		return nil
	}
	masked := mask(*v)
	return &masked
}

func stringSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
