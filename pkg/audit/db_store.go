package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// DefaultTable is the log entry table name.
const DefaultTable = "audit_entries"

// DBStore is the PostgreSQL-backed Store.
type DBStore struct {
	db    *sql.DB
	table string
}

// NewDBStore creates a store over db, ensuring the table and its indexes
// exist. An empty table name uses DefaultTable.
func NewDBStore(db *sql.DB, table string) (*DBStore, error) {
	if table == "" {
		table = DefaultTable
	}
	s := &DBStore{db: db, table: table}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("ensuring table %s: %w", table, err)
	}
	return s, nil
}

// Table returns the configured table name.
func (s *DBStore) Table() string {
	return s.table
}

func (s *DBStore) ensureTable() error {
	quoted := pq.QuoteIdentifier(s.table)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			entity_type TEXT NOT NULL,
			object_id BIGINT,
			object_pk TEXT NOT NULL,
			object_repr TEXT NOT NULL,
			action SMALLINT NOT NULL,
			changes JSONB,
			actor TEXT,
			actor_email TEXT,
			remote_addr TEXT,
			remote_port INTEGER,
			additional_data JSONB,
			cid TEXT,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted)
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}

	for _, col := range IndexedColumns() {
		idx := pq.QuoteIdentifier(fmt.Sprintf("%s_%s_idx", s.table, col))
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			idx, quoted, pq.QuoteIdentifier(col))
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// IndexedColumns lists the columns carrying a single-column index, shared
// with the partition manager so converted partitions keep the same indexes.
func IndexedColumns() []string {
	return []string{"entity_type", "object_id", "object_pk", "action", "actor", "cid", "timestamp"}
}

func (s *DBStore) conn(tx DBTX) DBTX {
	if tx != nil {
		return tx
	}
	return s.db
}

const entryColumns = "id, entity_type, object_id, object_pk, object_repr, action, changes, actor, actor_email, remote_addr, remote_port, additional_data, cid, timestamp"

// Save inserts the entry and assigns its ID.
func (s *DBStore) Save(ctx context.Context, tx DBTX, entry *LogEntry) error {
	var changes interface{}
	if entry.Changes != nil {
		encoded, err := json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("encoding changes: %w", err)
		}
		changes = encoded
	}
	var additional interface{}
	if len(entry.AdditionalData) > 0 {
		additional = []byte(entry.AdditionalData)
	}
	var cid interface{}
	if entry.CID != "" {
		cid = entry.CID
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(entity_type, object_id, object_pk, object_repr, action, changes, actor, actor_email, remote_addr, remote_port, additional_data, cid, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`, pq.QuoteIdentifier(s.table))

	row := s.conn(tx).QueryRowContext(ctx, query,
		entry.EntityType, entry.ObjectID, entry.ObjectPK, entry.ObjectRepr,
		int16(entry.Action), changes, entry.Actor, entry.ActorEmail,
		entry.RemoteAddr, entry.RemotePort, additional, cid, entry.Timestamp)
	return row.Scan(&entry.ID)
}

// DeleteForObject removes all entries recorded for one entity identity.
func (s *DBStore) DeleteForObject(ctx context.Context, tx DBTX, entityType string, id schema.ID) (int64, error) {
	var query string
	var args []interface{}
	if n, ok := id.Numeric(); ok {
		query = fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND object_id = $2", pq.QuoteIdentifier(s.table))
		args = []interface{}{entityType, n}
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE entity_type = $1 AND object_pk = $2", pq.QuoteIdentifier(s.table))
		args = []interface{}{entityType, id.String()}
	}
	res, err := s.conn(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Get fetches one entry by ID.
func (s *DBStore) Get(ctx context.Context, id int64) (*LogEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", entryColumns, pq.QuoteIdentifier(s.table))
	return scanEntry(s.db.QueryRowContext(ctx, query, id))
}

// Search returns entries matching the filter, newest first with ties broken
// by descending ID.
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*LogEntry, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY timestamp DESC, id DESC",
		entryColumns, pq.QuoteIdentifier(s.table), where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Count returns the number of entries matching the filter.
func (s *DBStore) Count(ctx context.Context, filter SearchFilter) (int64, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", pq.QuoteIdentifier(s.table), where)
	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Flush deletes entries older than before, or all entries when before is
// nil. Truncate is only honored for a full flush.
func (s *DBStore) Flush(ctx context.Context, before *time.Time, truncate bool) (int64, error) {
	quoted := pq.QuoteIdentifier(s.table)
	if before != nil {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < $1", quoted), *before)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	if truncate {
		// TRUNCATE reports no row count; callers get -1.
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s", quoted)); err != nil {
			return 0, err
		}
		return -1, nil
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoted))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConvertLegacyChanges rewrites rows whose changes column holds a JSON
// document double-encoded as a JSON string, batchSize rows at a time.
func (s *DBStore) ConvertLegacyChanges(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	quoted := pq.QuoteIdentifier(s.table)
	query := fmt.Sprintf(`UPDATE %s SET changes = (changes #>> '{}')::jsonb
		WHERE id IN (
			SELECT id FROM %s WHERE jsonb_typeof(changes) = 'string' LIMIT $1
		)`, quoted, quoted)

	var total int64
	for {
		res, err := s.db.ExecContext(ctx, query, batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
	}
}

func buildWhere(filter SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.EntityType != "" {
		clauses = append(clauses, "entity_type = "+arg(filter.EntityType))
	}
	if filter.ObjectID != nil {
		clauses = append(clauses, "object_id = "+arg(*filter.ObjectID))
	}
	if filter.ObjectPK != "" {
		clauses = append(clauses, "object_pk = "+arg(filter.ObjectPK))
	}
	if len(filter.Actions) > 0 {
		actions := make([]int64, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = int64(a)
		}
		clauses = append(clauses, "action = ANY("+arg(pq.Array(actions))+")")
	}
	if filter.Actor != "" {
		clauses = append(clauses, "actor = "+arg(filter.Actor))
	}
	if filter.CID != "" {
		clauses = append(clauses, "cid = "+arg(filter.CID))
	}
	if filter.StartTime != nil {
		clauses = append(clauses, "timestamp >= "+arg(*filter.StartTime))
	}
	if filter.EndTime != nil {
		clauses = append(clauses, "timestamp < "+arg(*filter.EndTime))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*LogEntry, error) {
	var entry LogEntry
	var objectID sql.NullInt64
	var action int16
	var changes, additional []byte
	var actor, actorEmail, remoteAddr, cid sql.NullString
	var remotePort sql.NullInt64

	err := row.Scan(&entry.ID, &entry.EntityType, &objectID, &entry.ObjectPK,
		&entry.ObjectRepr, &action, &changes, &actor, &actorEmail,
		&remoteAddr, &remotePort, &additional, &cid, &entry.Timestamp)
	if err != nil {
		return nil, err
	}

	entry.Action = Action(action)
	if objectID.Valid {
		entry.ObjectID = &objectID.Int64
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &entry.Changes); err != nil {
			return nil, fmt.Errorf("decoding changes for entry %d: %w", entry.ID, err)
		}
	}
	if len(additional) > 0 {
		entry.AdditionalData = json.RawMessage(additional)
	}
	if actor.Valid {
		entry.Actor = &actor.String
	}
	if actorEmail.Valid {
		entry.ActorEmail = &actorEmail.String
	}
	if remoteAddr.Valid {
		entry.RemoteAddr = &remoteAddr.String
	}
	if remotePort.Valid {
		port := int(remotePort.Int64)
		entry.RemotePort = &port
	}
	if cid.Valid {
		entry.CID = cid.String
	}
	return &entry, nil
}

// SnapshotLoaderFunc adapts a function to the SnapshotLoader interface.
type SnapshotLoaderFunc func(ctx context.Context, database, entityType string, id schema.ID) (*schema.Record, error)

// Load calls fn.
func (fn SnapshotLoaderFunc) Load(ctx context.Context, database, entityType string, id schema.ID) (*schema.Record, error) {
	return fn(ctx, database, entityType, id)
}
