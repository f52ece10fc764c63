package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/IEatCodeDaily/cdc-fanout/pkg/pipeline"
)

// Valid table name pattern (alphanumeric, underscore, max 63 chars for PostgreSQL)
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// DefaultPostgreSQLBatchSize bounds the rows copied in one transaction.
const DefaultPostgreSQLBatchSize = 500

// PostgreSQLSink implements the Sink interface for PostgreSQL. Each stream
// name is a table holding one JSONB document per delivered payload.
type PostgreSQLSink struct {
	connStr      string
	db           *sql.DB
	logger       *zap.Logger
	batchSize    int
	createTables bool
	mu           sync.Mutex
	ensured      map[string]bool
}

// NewPostgreSQLSink creates a new PostgreSQL sink
func NewPostgreSQLSink(connStr string, batchSize int, createTables bool, logger *zap.Logger) *PostgreSQLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = DefaultPostgreSQLBatchSize
	}
	return &PostgreSQLSink{
		connStr:      connStr,
		logger:       logger,
		batchSize:    batchSize,
		createTables: createTables,
		ensured:      make(map[string]bool),
	}
}

// Connect establishes connection to PostgreSQL
func (p *PostgreSQLSink) Connect(ctx context.Context) error {
	p.logger.Info("Connecting to PostgreSQL")

	db, err := sql.Open("postgres", p.connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	p.db = db
	p.logger.Info("Successfully connected to PostgreSQL")
	return nil
}

// MaxBatchSize returns the configured rows per transaction
func (p *PostgreSQLSink) MaxBatchSize() int {
	return p.batchSize
}

// Send copies one chunk into the stream's table in a single transaction
func (p *PostgreSQLSink) Send(ctx context.Context, stream string, payloads []pipeline.Payload) (*pipeline.Ack, error) {
	// Validate table name to prevent SQL injection
	if !validTableName.MatchString(stream) {
		return nil, fmt.Errorf("invalid table name: %s (must be alphanumeric with underscores, starting with letter or underscore)", stream)
	}
	if p.db == nil {
		return nil, errors.New("postgresql sink is not connected")
	}
	if len(payloads) > p.batchSize {
		return nil, fmt.Errorf("batch of %d exceeds batch size %d", len(payloads), p.batchSize)
	}
	if len(payloads) == 0 {
		return &pipeline.Ack{}, nil
	}

	if err := p.ensureTable(ctx, stream); err != nil {
		return nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			p.logger.Warn("Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(stream, "payload_type", "payload"))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare copy into %s: %w", stream, err)
	}
	for _, payload := range payloads {
		data, err := encodeRecord(payload)
		if err != nil {
			stmt.Close()
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, string(payload.Type()), string(data)); err != nil {
			stmt.Close()
			return nil, fmt.Errorf("failed to copy payload into %s: %w", stream, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return nil, fmt.Errorf("failed to flush copy into %s: %w", stream, err)
	}
	if err := stmt.Close(); err != nil {
		return nil, fmt.Errorf("failed to close copy into %s: %w", stream, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	p.logger.Debug("Wrote payloads to PostgreSQL", zap.String("table", stream), zap.Int("count", len(payloads)))
	return &pipeline.Ack{Accepted: len(payloads)}, nil
}

func (p *PostgreSQLSink) ensureTable(ctx context.Context, table string) error {
	if !p.createTables {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured[table] {
		return nil
	}

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	payload_type TEXT NOT NULL,
	payload JSONB NOT NULL,
	delivered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, pq.QuoteIdentifier(table))
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	p.ensured[table] = true
	return nil
}

// Close closes the PostgreSQL connection
func (p *PostgreSQLSink) Close() error {
	if p.db != nil {
		p.logger.Info("Closing PostgreSQL connection")
		return p.db.Close()
	}
	return nil
}
