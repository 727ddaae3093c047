// Package store defines checkpoint persistence for graph executions.
//
// A Checkpoint is an opaque, serialized State snapshot keyed by checkpoint
// id and grouped by execution id with a per-execution sequence number.
// Implementations live in subpackages:
//
//   - memory: in-process map, for tests and short-lived runs
//   - file: one JSON file per checkpoint in a directory
//   - redis: go-redis with sorted-set execution indexes and optional TTL
//   - postgres: pgx pool, BYTEA payloads
//   - sqlite: mattn/go-sqlite3
//   - mysql: go-sql-driver/mysql
//
// RetentionPolicy selects checkpoints to prune by age, per-execution count
// and total size. TypeRegistry encodes state values with their Go type so
// restored state matches the original exactly.
package store
