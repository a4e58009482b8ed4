// Package partition manages PostgreSQL monthly range partitions for the
// audit entry table.
//
// The manager covers the whole partition lifecycle: converting an existing
// populated table to a partitioned one without losing writes, creating
// partitions ahead of time, pruning expired partitions past a retention
// horizon, and reporting status. Partitions range over the entry timestamp,
// one per calendar month, named <table>_YYYY_MM.
//
// Only the postgres driver is supported; construction fails for anything
// else rather than degrading to a no-op.
package partition
