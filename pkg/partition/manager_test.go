package partition

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/chronicle/pkg/audit"
)

func newMockManager(t *testing.T, opts ...Option) (*Manager, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	m, err := NewManager(db, "postgres", "", opts...)
	require.NoError(t, err)
	m.now = func() time.Time {
		return time.Date(2026, 5, 17, 10, 0, 0, 0, time.UTC)
	}
	return m, mock, db
}

func expectPartitioned(mock sqlmock.Sqlmock, partitioned bool) {
	mock.ExpectQuery("SELECT EXISTS .+ pg_partitioned_table").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(partitioned))
}

func TestNewManagerRejectsNonPostgres(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewManager(db, "mysql", "audit_entries")
	assert.ErrorIs(t, err, ErrUnsupportedBackend)
}

func TestNewManagerDefaultTable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	m, err := NewManager(db, "postgres", "")
	require.NoError(t, err)
	assert.Equal(t, audit.DefaultTable, m.table)
}

func TestPartitionName(t *testing.T) {
	m, _, db := newMockManager(t)
	defer db.Close()

	name := m.PartitionName(MonthBounds(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "audit_entries_2026_05", name)
}

func TestCreateSkipsExistingPartitions(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)

	// May already exists, June is created.
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_2026_05").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_2026_06").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("CREATE TABLE .+ PARTITION OF .+ FOR VALUES FROM").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := m.Create(context.Background(),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequiresPartitionedTable(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)

	_, err := m.Create(context.Background(),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNotPartitioned)
}

func TestCreateRejectsEmptyRange(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.Create(context.Background(), at, at)
	assert.Error(t, err)
}

func TestCreateAhead(t *testing.T) {
	m, mock, db := newMockManager(t, WithAheadMonths(1))
	defer db.Close()

	expectPartitioned(mock, true)
	for _, name := range []string{"audit_entries_2026_05", "audit_entries_2026_06"} {
		mock.ExpectQuery("SELECT to_regclass").
			WithArgs(name).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("CREATE TABLE .+ PARTITION OF").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	created, err := m.CreateAhead(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 2, created, "current month plus one ahead")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func partitionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"relname", "bound"}).
		AddRow("audit_entries_2025_11", "FOR VALUES FROM ('2025-11-01 00:00:00+00') TO ('2025-12-01 00:00:00+00')").
		AddRow("audit_entries_2026_04", "FOR VALUES FROM ('2026-04-01 00:00:00+00') TO ('2026-05-01 00:00:00+00')").
		AddRow("audit_entries_2026_05", "FOR VALUES FROM ('2026-05-01 00:00:00+00') TO ('2026-06-01 00:00:00+00')")
}

func TestPruneDryRun(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)
	mock.ExpectQuery("SELECT child.relname").
		WithArgs(audit.DefaultTable).
		WillReturnRows(partitionRows())

	// Cutoff is 2026-02-01; only the November partition falls before it.
	dropped, err := m.Prune(context.Background(), 3, true)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.Equal(t, "audit_entries_2025_11", dropped[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet(), "dry run issues no drops")
}

func TestPruneDropsExpiredPartitions(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)
	mock.ExpectQuery("SELECT child.relname").
		WithArgs(audit.DefaultTable).
		WillReturnRows(partitionRows())
	mock.ExpectExec(`DROP TABLE IF EXISTS "audit_entries_2025_11"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	dropped, err := m.Prune(context.Background(), 3, false)
	require.NoError(t, err)
	require.Len(t, dropped, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPruneRequiresRetention(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)
	_, err := m.Prune(context.Background(), 0, false)
	assert.ErrorIs(t, err, ErrRetentionNotConfigured)

	// Negative retention falls back to the configured default, which is
	// unset here.
	expectPartitioned(mock, true)
	_, err = m.Prune(context.Background(), -1, false)
	assert.ErrorIs(t, err, ErrRetentionNotConfigured)
}

func TestPruneRequiresPartitionedTable(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)
	_, err := m.Prune(context.Background(), 3, false)
	assert.ErrorIs(t, err, ErrNotPartitioned)
}

func TestStatus(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)
	mock.ExpectQuery("SELECT child.relname").
		WithArgs(audit.DefaultTable).
		WillReturnRows(partitionRows())

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Partitioned)
	require.Len(t, status.Partitions, 3)
	assert.Equal(t, "audit_entries_2025_11", status.Partitions[0].Name)
	assert.Equal(t, "2025_11", status.Partitions[0].NameSuffix())
}

func TestStatusUnpartitioned(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Partitioned)
	assert.Empty(t, status.Partitions)
}

func TestInitAlreadyPartitioned(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, true)

	result, err := m.Init(context.Background(), InitOptions{})
	require.NoError(t, err)
	assert.True(t, result.AlreadyPartitioned)
}

func TestInitMissingTable(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := m.Init(context.Background(), InitOptions{})
	assert.ErrorContains(t, err, "does not exist")
}

func TestInitRejectsLeftoverOldTable(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_old").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := m.Init(context.Background(), InitOptions{})
	assert.ErrorIs(t, err, ErrConflictingTemporaryObject)
}

func TestInitRejectsPopulatedTableWithoutConvert(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_old").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(40)))

	_, err := m.Init(context.Background(), InitOptions{})
	assert.ErrorContains(t, err, "not empty")
}

func TestInitConvertSyncsDeltaRows(t *testing.T) {
	m, mock, db := newMockManager(t)
	defer db.Close()

	expectPartitioned(mock, false)
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_old").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_shadow").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	// Rows span April and May; id 3 is the snapshot ceiling captured before
	// the online copy starts.
	mock.ExpectQuery("SELECT MIN").
		WillReturnRows(sqlmock.NewRows([]string{"min", "max"}).AddRow(
			time.Date(2026, 4, 3, 12, 0, 0, 0, time.UTC),
			time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(int64(3)))
	mock.ExpectQuery("pg_get_serial_sequence").
		WithArgs(audit.DefaultTable).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow("public.audit_entries_id_seq"))

	mock.ExpectExec(`(?s)CREATE TABLE "audit_entries_shadow" .+PARTITION BY RANGE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	for _, name := range []string{"audit_entries_shadow_2026_04", "audit_entries_shadow_2026_05"} {
		mock.ExpectQuery("SELECT to_regclass").
			WithArgs(name).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("CREATE TABLE .+ PARTITION OF").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for range audit.IndexedColumns() {
		mock.ExpectExec("CREATE INDEX IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("SET DEFAULT nextval").
		WillReturnResult(sqlmock.NewResult(0, 0))

	// The bulk copy takes no lock and never reads past the ceiling.
	for _, month := range []time.Time{
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	} {
		b := MonthBounds(month)
		mock.ExpectExec(`INSERT INTO "audit_entries_shadow" SELECT .+ id <=`).
			WithArgs(b.Lower, b.Upper, int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	// Rows inserted during the copy are picked up inside the locked
	// transaction, before the swap.
	mock.ExpectBegin()
	mock.ExpectExec(`LOCK TABLE "audit_entries" IN ACCESS EXCLUSIVE MODE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`LOCK TABLE "audit_entries_shadow" IN ACCESS EXCLUSIVE MODE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO "audit_entries_shadow" SELECT .+ WHERE id >`).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT to_regclass").
		WithArgs("audit_entries_old").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`ALTER TABLE "audit_entries" RENAME TO "audit_entries_old"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ALTER TABLE "audit_entries_shadow" RENAME TO "audit_entries"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ALTER SEQUENCE .+ OWNED BY").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET DEFAULT nextval").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SELECT setval").
		WithArgs("public.audit_entries_id_seq").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TABLE "audit_entries_old"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	result, err := m.Init(context.Background(), InitOptions{Convert: true})
	require.NoError(t, err)
	assert.True(t, result.Converted)
	assert.Equal(t, int64(3), result.RowCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectPartitionMonths(t *testing.T) {
	m, _, db := newMockManager(t)
	defer db.Close()

	// Data spans Feb..Apr, retention keeps 3 months back, one month ahead.
	bounds := &Bounds{
		Lower: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Upper: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	months := m.collectPartitionMonths(bounds, 1, 3)

	expected := []time.Time{
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, expected, months)
}

func TestCollectPartitionMonthsEmptyTable(t *testing.T) {
	m, _, db := newMockManager(t)
	defer db.Close()

	months := m.collectPartitionMonths(nil, 0, 0)
	assert.Equal(t, []time.Time{time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}, months)
}
