package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"
)

const schema = `
	CREATE TABLE IF NOT EXISTS executor_legs (
		execution_id String,
		mode LowCardinality(String),
		success UInt8,
		attempts UInt32,
		started_at DateTime64(3),
		finished_at DateTime64(3),
		leg_index UInt16,
		input_mint String,
		output_mint String,
		amount UInt64,
		slippage_bps UInt16,
		status LowCardinality(String),
		stage LowCardinality(String),
		leg_attempt UInt32,
		provider LowCardinality(String),
		out_amount UInt64,
		min_out UInt64,
		signature String,
		bundle_id String,
		error String
	) ENGINE = MergeTree
	ORDER BY (finished_at, execution_id, leg_index)
`

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseStore is the execution ledger: one row per leg per execution.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *logrus.Logger
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig, logger *logrus.Logger) (*ClickHouseStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create executor_legs: %w", err)
	}

	logger.WithField("addr", cfg.Addr).Info("connected to ClickHouse")
	return &ClickHouseStore{conn: conn, logger: logger}, nil
}

// InsertExecution writes every leg of the execution in one batch.
func (c *ClickHouseStore) InsertExecution(ctx context.Context, e *Execution) error {
	if len(e.Legs) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO executor_legs")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	success := uint8(0)
	if e.Success {
		success = 1
	}
	for _, l := range e.Legs {
		err := batch.Append(
			e.ID,
			e.Mode,
			success,
			uint32(e.Attempt),
			e.StartedAt,
			e.FinishedAt,
			uint16(l.Index),
			l.InputMint,
			l.OutputMint,
			l.Amount,
			l.SlippageBps,
			l.Status,
			l.Stage,
			uint32(l.Attempt),
			l.Provider,
			l.OutAmount,
			l.MinOut,
			l.Signature,
			l.BundleID,
			l.Error,
		)
		if err != nil {
			return fmt.Errorf("append leg %d: %w", l.Index, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", e.ID, err)
	}
	return nil
}

// LegsByExecution reads back one execution's legs in leg order.
func (c *ClickHouseStore) LegsByExecution(ctx context.Context, id string) ([]Leg, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT leg_index, input_mint, output_mint, amount, slippage_bps, status, stage,
			leg_attempt, provider, out_amount, min_out, signature, bundle_id, error
		FROM executor_legs
		WHERE execution_id = ?
		ORDER BY leg_index
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer rows.Close()

	var legs []Leg
	for rows.Next() {
		var (
			l          Leg
			index      uint16
			legAttempt uint32
		)
		if err := rows.Scan(&index, &l.InputMint, &l.OutputMint, &l.Amount, &l.SlippageBps, &l.Status, &l.Stage,
			&legAttempt, &l.Provider, &l.OutAmount, &l.MinOut, &l.Signature, &l.BundleID, &l.Error); err != nil {
			return nil, fmt.Errorf("scan leg: %w", err)
		}
		l.Index = int(index)
		l.Attempt = int(legAttempt)
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

func (c *ClickHouseStore) Close() error {
	return c.conn.Close()
}
