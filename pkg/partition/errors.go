package partition

import "errors"

var (
	// ErrUnsupportedBackend is returned when the database driver is not
	// postgres. Partition management is a PostgreSQL feature.
	ErrUnsupportedBackend = errors.New("partition management requires the postgres driver")

	// ErrNotPartitioned is returned by create/prune/status when the table
	// has not been initialized for partitioning.
	ErrNotPartitioned = errors.New("table is not partitioned; run init first")

	// ErrRetentionNotConfigured is returned by prune when no retention
	// horizon is set.
	ErrRetentionNotConfigured = errors.New("retention is not configured")

	// ErrConflictingTemporaryObject is returned when a leftover temporary
	// table from an earlier failed conversion blocks a new one.
	ErrConflictingTemporaryObject = errors.New("conflicting temporary table exists; remove it before converting")
)
