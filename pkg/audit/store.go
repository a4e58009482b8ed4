package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// DBTX is the subset of database/sql satisfied by both *sql.DB and *sql.Tx,
// so log writes can join the mutation's own transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// SearchFilter narrows a log entry search. Zero-valued fields are ignored.
type SearchFilter struct {
	EntityType string
	ObjectID   *int64
	ObjectPK   string
	Actions    []Action
	Actor      string
	CID        string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// Store persists and queries audit log entries. Entries are append-only:
// there is no update operation, and deletion exists only for primary-key
// reuse cleanup and operator-driven flushes.
type Store interface {
	// Save inserts the entry and fills in its assigned ID. A nil tx uses
	// the store's own connection.
	Save(ctx context.Context, tx DBTX, entry *LogEntry) error

	// DeleteForObject removes all entries for one entity identity and
	// returns the number removed.
	DeleteForObject(ctx context.Context, tx DBTX, entityType string, id schema.ID) (int64, error)

	// Get fetches one entry by ID, or sql.ErrNoRows.
	Get(ctx context.Context, id int64) (*LogEntry, error)

	// Search returns entries matching the filter, newest first, ties
	// broken by descending ID.
	Search(ctx context.Context, filter SearchFilter) ([]*LogEntry, error)

	// Count returns the number of entries matching the filter.
	Count(ctx context.Context, filter SearchFilter) (int64, error)

	// Flush deletes entries older than before, or all entries when before
	// is nil. With truncate set and a nil before it issues TRUNCATE
	// instead of DELETE.
	Flush(ctx context.Context, before *time.Time, truncate bool) (int64, error)

	// ConvertLegacyChanges rewrites rows whose changes column holds a
	// JSON document double-encoded as a JSON string, in batches, and
	// returns the number of rows rewritten.
	ConvertLegacyChanges(ctx context.Context, batchSize int) (int64, error)
}
