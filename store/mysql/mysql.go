package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/smallnest/graphrun/store"
)

// MySQLCheckpointStore implements store.CheckpointStore on MySQL or MariaDB.
type MySQLCheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ store.CheckpointStore = (*MySQLCheckpointStore)(nil)

// MySQLOptions configures the connection.
//
// DSN uses the go-sql-driver format, for example
// "user:password@tcp(localhost:3306)/graphrun".
type MySQLOptions struct {
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	TableName       string        `yaml:"table" mapstructure:"table"` // Default "checkpoints"
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// ParseOptions validates the DSN and returns a driver config with the
// settings this store depends on.
func ParseOptions(opts MySQLOptions) (*mysql.Config, error) {
	if opts.DSN == "" {
		return nil, errors.New("mysql dsn is empty")
	}
	cfg, err := mysql.ParseDSN(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.MultiStatements = false
	cfg.ParseTime = true
	return cfg, nil
}

// NewMySQLCheckpointStore opens a pooled connection, pings it and creates the table.
func NewMySQLCheckpointStore(ctx context.Context, opts MySQLOptions) (*MySQLCheckpointStore, error) {
	cfg, err := ParseOptions(opts)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	s := NewMySQLCheckpointStoreWithDB(db, opts.TableName)
	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewMySQLCheckpointStoreWithDB wraps an existing handle.
func NewMySQLCheckpointStoreWithDB(db *sql.DB, tableName string) *MySQLCheckpointStore {
	if tableName == "" {
		tableName = "checkpoints"
	}
	return &MySQLCheckpointStore{db: db, tableName: tableName}
}

// InitSchema creates the table if it doesn't exist
func (s *MySQLCheckpointStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			sequence BIGINT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			payload LONGBLOB NOT NULL,
			size_bytes BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			metadata JSON NULL,
			INDEX idx_execution_seq (execution_id, sequence)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`, s.tableName)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *MySQLCheckpointStore) Close() error {
	return s.db.Close()
}

// Save upserts a checkpoint.
func (s *MySQLCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := checkpoint.Validate(); err != nil {
		return err
	}

	var metadata any
	if checkpoint.Metadata != nil {
		data, err := json.Marshal(checkpoint.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = string(data)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, execution_id, sequence, node_id, payload, size_bytes, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			execution_id = VALUES(execution_id),
			sequence = VALUES(sequence),
			node_id = VALUES(node_id),
			payload = VALUES(payload),
			size_bytes = VALUES(size_bytes),
			created_at = VALUES(created_at),
			metadata = VALUES(metadata)
	`, s.tableName)

	_, err := s.db.ExecContext(ctx, query,
		checkpoint.ID,
		checkpoint.ExecutionID,
		checkpoint.Sequence,
		checkpoint.NodeID,
		checkpoint.Payload,
		checkpoint.SizeBytes,
		checkpoint.CreatedAt.UnixNano(),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

const selectColumns = "id, execution_id, sequence, node_id, payload, size_bytes, created_at, metadata"

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (*store.Checkpoint, error) {
	var (
		cp        store.Checkpoint
		createdAt int64
		metadata  []byte
	)
	if err := row.Scan(&cp.ID, &cp.ExecutionID, &cp.Sequence, &cp.NodeID, &cp.Payload, &cp.SizeBytes, &createdAt, &metadata); err != nil {
		return nil, err
	}
	cp.CreatedAt = time.Unix(0, createdAt).UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &cp, nil
}

// Load retrieves a checkpoint by ID
func (s *MySQLCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectColumns, s.tableName)
	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, checkpointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound(checkpointID)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the execution's checkpoints ordered by sequence.
func (s *MySQLCheckpointStore) List(ctx context.Context, executionID string) ([]*store.Checkpoint, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE execution_id = ? ORDER BY sequence ASC", selectColumns, s.tableName)
	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := make([]*store.Checkpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoint rows: %w", err)
	}
	return checkpoints, nil
}

// Delete removes a checkpoint
func (s *MySQLCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, checkpointID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes all checkpoints for an execution
func (s *MySQLCheckpointStore) Clear(ctx context.Context, executionID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE execution_id = ?", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, executionID); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Executions returns distinct execution ids in sorted order.
func (s *MySQLCheckpointStore) Executions(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT execution_id FROM %s ORDER BY execution_id", s.tableName)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
