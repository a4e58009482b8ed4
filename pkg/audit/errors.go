package audit

import "errors"

// ErrNotRegistered is returned when tracking configuration is requested for
// an entity type the registry does not know. Callers must treat it as "track
// nothing"; it never aborts a mutation.
var ErrNotRegistered = errors.New("entity type is not registered")
