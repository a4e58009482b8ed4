package partition

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/observability"
)

// Partition describes one existing partition of the audit table.
type Partition struct {
	Name string
	Bounds
}

// Status reports the partitioning state of the audit table.
type Status struct {
	Partitioned bool
	Partitions  []Partition
}

// InitOptions configures Init. Ahead and RetentionMonths below zero fall
// back to the manager's configured values.
type InitOptions struct {
	Ahead           int
	RetentionMonths int
	Convert         bool
}

// InitResult reports what Init did.
type InitResult struct {
	AlreadyPartitioned bool
	Converted          bool
	RowCount           int64
}

// Manager performs partition lifecycle operations on one audit table.
type Manager struct {
	db              *sql.DB
	table           string
	log             *observability.Logger
	aheadMonths     int
	retentionMonths int
	indexedColumns  []string
	now             func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithAheadMonths sets the default number of future months to keep
// partitions for.
func WithAheadMonths(months int) Option {
	return func(m *Manager) { m.aheadMonths = months }
}

// WithRetentionMonths sets the default retention horizon for prune.
func WithRetentionMonths(months int) Option {
	return func(m *Manager) { m.retentionMonths = months }
}

// WithIndexedColumns overrides the columns indexed on a converted table.
func WithIndexedColumns(columns []string) Option {
	return func(m *Manager) { m.indexedColumns = columns }
}

// WithManagerLogger sets the structured logger.
func WithManagerLogger(log *observability.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager creates a partition manager for table. The driver name must be
// postgres; partition DDL does not exist on other backends.
func NewManager(db *sql.DB, driver, table string, opts ...Option) (*Manager, error) {
	if driver != "postgres" {
		return nil, fmt.Errorf("driver %q: %w", driver, ErrUnsupportedBackend)
	}
	if table == "" {
		table = audit.DefaultTable
	}
	m := &Manager{
		db:             db,
		table:          table,
		indexedColumns: audit.IndexedColumns(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = observability.NewLogger(observability.InfoLevel, nil)
	}
	return m, nil
}

// execer is satisfied by *sql.DB and *sql.Tx so DDL helpers run both inside
// and outside the swap transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Init converts the audit table to a partitioned one. An empty table is
// swapped in place under a single transaction. A populated table requires
// opts.Convert and goes through a shadow table: partitions are built and
// bulk-filled without blocking writers, then a short exclusive-lock window
// syncs the delta rows and double-renames the tables.
func (m *Manager) Init(ctx context.Context, opts InitOptions) (InitResult, error) {
	var result InitResult

	partitioned, err := m.isPartitioned(ctx)
	if err != nil {
		return result, err
	}
	if partitioned {
		result.AlreadyPartitioned = true
		return result, nil
	}

	ahead := opts.Ahead
	if ahead < 0 {
		ahead = m.aheadMonths
	}
	retention := opts.RetentionMonths
	if retention < 0 {
		retention = m.retentionMonths
	}

	exists, err := m.tableExists(ctx, m.table)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, fmt.Errorf("table %q does not exist", m.table)
	}

	oldTable := m.table + "_old"
	shadowTable := m.table + "_shadow"
	if err := m.ensureTableAbsent(ctx, oldTable); err != nil {
		return result, err
	}

	convert := opts.Convert
	rowCount, err := m.rowCount(ctx, m.table)
	if err != nil {
		return result, err
	}
	result.RowCount = rowCount

	if convert {
		if err := m.ensureTableAbsent(ctx, shadowTable); err != nil {
			return result, err
		}
		if rowCount == 0 {
			m.log.Info("table is empty, falling back to safe initialization")
			convert = false
		}
	}

	if convert {
		if err := m.convertPopulated(ctx, oldTable, shadowTable, ahead, retention, rowCount); err != nil {
			return result, err
		}
		result.Converted = true
		return result, nil
	}

	if rowCount != 0 {
		return result, fmt.Errorf("table %q is not empty; use convert for a populated table", m.table)
	}
	return result, m.initEmpty(ctx, oldTable, ahead, retention)
}

func (m *Manager) initEmpty(ctx context.Context, oldTable string, ahead, retention int) error {
	months := m.collectPartitionMonths(nil, ahead, retention)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := m.lockTable(ctx, tx, m.table); err != nil {
		return err
	}
	if err := m.renameTable(ctx, tx, m.table, oldTable); err != nil {
		return err
	}
	if err := m.createPartitionedParent(ctx, tx, m.table, oldTable); err != nil {
		return err
	}
	for _, month := range months {
		if _, err := m.createPartition(ctx, tx, m.table, MonthBounds(month)); err != nil {
			return err
		}
	}
	if err := m.createPartitionIndexes(ctx, tx, m.table); err != nil {
		return err
	}

	sequence, err := m.prepareSequence(ctx, tx, m.table, oldTable)
	if err != nil {
		return err
	}
	if sequence != "" {
		if err := m.resetSequence(ctx, tx, m.table, sequence, true); err != nil {
			return err
		}
	}
	if err := m.dropTable(ctx, tx, oldTable); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) convertPopulated(ctx context.Context, oldTable, shadowTable string, ahead, retention int, rowCount int64) error {
	bounds, err := m.timestampBounds(ctx)
	if err != nil {
		return err
	}
	if bounds == nil {
		return fmt.Errorf("unable to determine timestamp bounds for conversion")
	}

	months := m.collectPartitionMonths(bounds, ahead, retention)
	partitions := make([]Bounds, len(months))
	for i, month := range months {
		partitions[i] = MonthBounds(month)
	}

	maxIDSnapshot, err := m.maxID(ctx)
	if err != nil {
		return err
	}
	sequence, err := m.sequenceName(ctx, m.table)
	if err != nil {
		return err
	}

	m.log.WithField("rows", rowCount).Info("converting populated table, minimal-downtime swap in progress")

	shadowCreated := false
	defer func() {
		if shadowCreated {
			m.dropTableIfExists(context.Background(), shadowTable)
		}
	}()

	if err := m.createPartitionedParent(ctx, m.db, shadowTable, m.table); err != nil {
		return err
	}
	shadowCreated = true

	for _, part := range partitions {
		if _, err := m.createPartition(ctx, m.db, shadowTable, part); err != nil {
			return err
		}
	}
	if err := m.createPartitionIndexes(ctx, m.db, shadowTable); err != nil {
		return err
	}
	if sequence != "" {
		if err := m.setSequenceDefault(ctx, m.db, shadowTable, sequence); err != nil {
			return err
		}
	}

	// Bulk copy runs outside the lock; rows past the snapshot ceiling are
	// picked up by the delta sync.
	if err := m.copyToShadow(ctx, shadowTable, partitions, maxIDSnapshot); err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock order is fixed, live table before shadow.
	if err := m.lockTable(ctx, tx, m.table); err != nil {
		return err
	}
	if err := m.lockTable(ctx, tx, shadowTable); err != nil {
		return err
	}
	if err := m.syncDeltaRows(ctx, tx, shadowTable, maxIDSnapshot); err != nil {
		return err
	}
	if err := m.ensureTableAbsentIn(ctx, tx, oldTable); err != nil {
		return err
	}
	if err := m.renameTable(ctx, tx, m.table, oldTable); err != nil {
		return err
	}
	if err := m.renameTable(ctx, tx, shadowTable, m.table); err != nil {
		return err
	}

	if sequence != "" {
		if err := m.assignSequenceOwner(ctx, tx, sequence, m.table); err != nil {
			return err
		}
		if err := m.setSequenceDefault(ctx, tx, m.table, sequence); err != nil {
			return err
		}
		if err := m.resetSequence(ctx, tx, m.table, sequence, false); err != nil {
			return err
		}
	}
	if err := m.dropTable(ctx, tx, oldTable); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	shadowCreated = false
	return nil
}

// Create makes the monthly partitions in [start, end) that do not exist yet
// and returns how many were created. Both bounds must be first-of-month.
func (m *Manager) Create(ctx context.Context, start, end time.Time) (int, error) {
	partitioned, err := m.isPartitioned(ctx)
	if err != nil {
		return 0, err
	}
	if !partitioned {
		return 0, ErrNotPartitioned
	}
	if !end.After(start) {
		return 0, fmt.Errorf("end month must be after start month")
	}

	created := 0
	for _, month := range monthsIn(start, end) {
		ok, err := m.createPartition(ctx, m.db, m.table, MonthBounds(month))
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// CreateAhead creates partitions from the current month through ahead
// future months. Ahead below zero uses the configured default.
func (m *Manager) CreateAhead(ctx context.Context, ahead int) (int, error) {
	if ahead < 0 {
		ahead = m.aheadMonths
	}
	if ahead < 0 {
		ahead = 0
	}
	start := monthStart(m.now())
	return m.Create(ctx, start, addMonths(start, ahead+1))
}

// Prune drops partitions whose whole range is older than the retention
// horizon and returns them. With dryRun set the candidates are returned
// without dropping anything. RetentionMonths below zero uses the configured
// default; an unset retention is an error, never an implicit drop-all.
func (m *Manager) Prune(ctx context.Context, retentionMonths int, dryRun bool) ([]Partition, error) {
	partitioned, err := m.isPartitioned(ctx)
	if err != nil {
		return nil, err
	}
	if !partitioned {
		return nil, ErrNotPartitioned
	}

	if retentionMonths < 0 {
		retentionMonths = m.retentionMonths
	}
	if retentionMonths <= 0 {
		return nil, ErrRetentionNotConfigured
	}

	cutoff := addMonths(monthStart(m.now()), -retentionMonths)
	partitions, err := m.listPartitions(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []Partition
	for _, part := range partitions {
		if part.Lower.Before(cutoff) {
			candidates = append(candidates, part)
		}
	}
	if dryRun {
		return candidates, nil
	}

	for _, part := range candidates {
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf("DROP TABLE IF EXISTS %s", m.qn(part.Name))); err != nil {
			return nil, fmt.Errorf("dropping partition %s: %w", part.Name, err)
		}
		m.log.WithField("partition", part.Name).Info("dropped partition")
	}
	return candidates, nil
}

// Status reports whether the table is partitioned and lists its partitions.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	partitioned, err := m.isPartitioned(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{Partitioned: partitioned}
	if !partitioned {
		return status, nil
	}
	status.Partitions, err = m.listPartitions(ctx)
	if err != nil {
		return nil, err
	}
	return status, nil
}

// PartitionName returns the name a partition with the given bounds gets.
func (m *Manager) PartitionName(b Bounds) string {
	return fmt.Sprintf("%s_%s", m.table, b.NameSuffix())
}

func (m *Manager) collectPartitionMonths(bounds *Bounds, ahead, retention int) []time.Time {
	months := make(map[time.Time]struct{})
	todayMonth := monthStart(m.now())

	if bounds != nil {
		// Cover every month the existing data spans.
		end := addMonths(monthStart(bounds.Upper), 0)
		if !end.After(monthStart(bounds.Lower)) {
			end = addMonths(monthStart(bounds.Lower), 1)
		}
		for _, month := range monthsIn(bounds.Lower, end) {
			months[month] = struct{}{}
		}
	} else {
		months[todayMonth] = struct{}{}
	}

	if retention > 0 {
		for _, month := range monthsIn(addMonths(todayMonth, -retention), todayMonth) {
			months[month] = struct{}{}
		}
	}

	if ahead < 0 {
		ahead = 0
	}
	for offset := 0; offset <= ahead; offset++ {
		months[addMonths(todayMonth, offset)] = struct{}{}
	}

	sorted := make([]time.Time, 0, len(months))
	for month := range months {
		sorted = append(sorted, month)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted
}

func (m *Manager) isPartitioned(ctx context.Context) (bool, error) {
	var partitioned bool
	err := m.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_partitioned_table WHERE partrelid = $1::regclass)",
		m.table).Scan(&partitioned)
	return partitioned, err
}

func (m *Manager) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := m.db.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
	return exists, err
}

func (m *Manager) ensureTableAbsent(ctx context.Context, table string) error {
	exists, err := m.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("table %q: %w", table, ErrConflictingTemporaryObject)
	}
	return nil
}

func (m *Manager) ensureTableAbsentIn(ctx context.Context, conn execer, table string) error {
	var exists bool
	if err := conn.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("table %q: %w", table, ErrConflictingTemporaryObject)
	}
	return nil
}

func (m *Manager) rowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", m.qn(table))).Scan(&count)
	return count, err
}

func (m *Manager) maxID(ctx context.Context) (int64, error) {
	var max int64
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(id), 0) FROM %s", m.qn(m.table))).Scan(&max)
	return max, err
}

// timestampBounds returns the data's span, with the upper bound extended to
// cover the whole month of the newest row. Nil means the table is empty.
func (m *Manager) timestampBounds(ctx context.Context) (*Bounds, error) {
	var min, max sql.NullTime
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MIN(timestamp), MAX(timestamp) FROM %s", m.qn(m.table))).Scan(&min, &max)
	if err != nil {
		return nil, err
	}
	if !min.Valid || !max.Valid {
		return nil, nil
	}
	return &Bounds{Lower: min.Time.UTC(), Upper: MonthBounds(max.Time).Upper}, nil
}

func (m *Manager) sequenceName(ctx context.Context, table string) (string, error) {
	var seq sql.NullString
	err := m.db.QueryRowContext(ctx, "SELECT pg_get_serial_sequence($1, 'id')", table).Scan(&seq)
	if err != nil {
		return "", err
	}
	return seq.String, nil
}

func (m *Manager) lockTable(ctx context.Context, conn execer, table string) error {
	_, err := conn.ExecContext(ctx,
		fmt.Sprintf("LOCK TABLE %s IN ACCESS EXCLUSIVE MODE", m.qn(table)))
	return err
}

func (m *Manager) renameTable(ctx context.Context, conn execer, table, newName string) error {
	_, err := conn.ExecContext(ctx,
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", m.qn(table), pq.QuoteIdentifier(newName)))
	return err
}

func (m *Manager) createPartitionedParent(ctx context.Context, conn execer, table, likeTable string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE %s (
			LIKE %s
				INCLUDING DEFAULTS
				INCLUDING GENERATED
				INCLUDING STORAGE
				INCLUDING COMMENTS
		)
		PARTITION BY RANGE (timestamp)`, m.qn(table), m.qn(likeTable)))
	return err
}

func (m *Manager) createPartition(ctx context.Context, conn execer, table string, b Bounds) (bool, error) {
	name := fmt.Sprintf("%s_%s", table, b.NameSuffix())
	var exists bool
	if err := conn.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	// Bind parameters are not allowed in DDL, so the bounds are inlined as
	// quoted literals.
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		"CREATE TABLE %s PARTITION OF %s FOR VALUES FROM (%s) TO (%s)",
		m.qn(name), m.qn(table), boundLiteral(b.Lower), boundLiteral(b.Upper)))
	if err != nil {
		return false, fmt.Errorf("creating partition %s: %w", name, err)
	}
	return true, nil
}

func boundLiteral(t time.Time) string {
	return pq.QuoteLiteral(t.UTC().Format("2006-01-02 15:04:05+00"))
}

func (m *Manager) createPartitionIndexes(ctx context.Context, conn execer, table string) error {
	for _, col := range m.indexedColumns {
		idx := fmt.Sprintf("%s_%s_idx", m.table, col)
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			pq.QuoteIdentifier(idx), m.qn(table), pq.QuoteIdentifier(col)))
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) prepareSequence(ctx context.Context, conn execer, table, oldTable string) (string, error) {
	sequence, err := m.sequenceName(ctx, oldTable)
	if err != nil || sequence == "" {
		return "", err
	}

	target := m.targetSequenceName(sequence, table)
	if target != sequence {
		_, targetName := splitSchemaName(target)
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"ALTER SEQUENCE %s RENAME TO %s", m.qn(sequence), pq.QuoteIdentifier(targetName)))
		if err != nil {
			return "", err
		}
		sequence = target
	}

	if err := m.assignSequenceOwner(ctx, conn, sequence, table); err != nil {
		return "", err
	}
	if err := m.setSequenceDefault(ctx, conn, table, sequence); err != nil {
		return "", err
	}
	return sequence, nil
}

func (m *Manager) targetSequenceName(sequence, table string) string {
	schema, _ := splitSchemaName(sequence)
	target := table + "_id_seq"
	if schema != "" {
		return schema + "." + target
	}
	return target
}

func (m *Manager) assignSequenceOwner(ctx context.Context, conn execer, sequence, table string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		"ALTER SEQUENCE %s OWNED BY %s.id", m.qn(sequence), m.qn(table)))
	return err
}

func (m *Manager) setSequenceDefault(ctx context.Context, conn execer, table, sequence string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		"ALTER TABLE %s ALTER COLUMN id SET DEFAULT nextval(%s)",
		m.qn(table), pq.QuoteLiteral(sequence)))
	return err
}

func (m *Manager) resetSequence(ctx context.Context, conn execer, table, sequence string, empty bool) error {
	if empty {
		_, err := conn.ExecContext(ctx, "SELECT setval($1, 1, false)", sequence)
		return err
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		"SELECT setval($1, COALESCE((SELECT MAX(id) FROM %s), 1), true)", m.qn(table)), sequence)
	return err
}

func (m *Manager) copyToShadow(ctx context.Context, shadowTable string, partitions []Bounds, maxIDSnapshot int64) error {
	for _, part := range partitions {
		query := fmt.Sprintf(
			"INSERT INTO %s SELECT * FROM %s WHERE timestamp >= $1 AND timestamp < $2",
			m.qn(shadowTable), m.qn(m.table))
		args := []interface{}{part.Lower, part.Upper}
		if maxIDSnapshot > 0 {
			query += " AND id <= $3"
			args = append(args, maxIDSnapshot)
		}
		if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) syncDeltaRows(ctx context.Context, conn execer, shadowTable string, lastCopiedID int64) error {
	if lastCopiedID > 0 {
		_, err := conn.ExecContext(ctx, fmt.Sprintf(
			"INSERT INTO %s SELECT * FROM %s WHERE id > $1",
			m.qn(shadowTable), m.qn(m.table)), lastCopiedID)
		return err
	}
	_, err := conn.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s SELECT * FROM %s", m.qn(shadowTable), m.qn(m.table)))
	return err
}

func (m *Manager) listPartitions(ctx context.Context) ([]Partition, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT child.relname, pg_get_expr(child.relpartbound, child.oid) AS bound
		FROM pg_inherits
		JOIN pg_class parent ON parent.oid = pg_inherits.inhparent
		JOIN pg_class child ON child.oid = pg_inherits.inhrelid
		WHERE parent.oid = $1::regclass
		ORDER BY bound`, m.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partitions []Partition
	for rows.Next() {
		var name, bound string
		if err := rows.Scan(&name, &bound); err != nil {
			return nil, err
		}
		bounds, ok := parseBound(bound)
		if !ok {
			continue
		}
		partitions = append(partitions, Partition{Name: name, Bounds: bounds})
	}
	return partitions, rows.Err()
}

func (m *Manager) dropTable(ctx context.Context, conn execer, table string) error {
	_, err := conn.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", m.qn(table)))
	return err
}

func (m *Manager) dropTableIfExists(ctx context.Context, table string) {
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", m.qn(table))); err != nil {
		m.log.WithError(err).WithField("table", table).Warn("failed to drop leftover table")
	}
}

// qn quotes an optionally schema-qualified name.
func (m *Manager) qn(name string) string {
	if schema, obj := splitSchemaName(name); schema != "" {
		return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(obj)
	}
	return pq.QuoteIdentifier(name)
}

func splitSchemaName(name string) (string, string) {
	if schema, obj, found := strings.Cut(name, "."); found {
		return schema, obj
	}
	return "", name
}
