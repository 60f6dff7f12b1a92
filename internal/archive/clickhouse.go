// Package archive mirrors parsed trace messages into a ClickHouse table for fleet-wide queries.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/pkg/types"
)

// Row is one archived trace message.
type Row struct {
	JobID         string
	LineNumber    uint32
	Timestamp     time.Time
	Direction     string
	Protocol      string
	SourceAddress string
	TargetAddress string
	ServiceID     uint8
	Payload       []uint8
}

// Rows converts frames of a job into archive rows. Metadata lines are skipped.
// Clock-only timestamps are anchored to day; dated ones are kept as Unix time.
func Rows(jobID string, day time.Time, msgs []types.TraceMessage) []Row {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	rows := make([]Row, 0, len(msgs))
	for _, m := range msgs {
		if m.IsMetadata() {
			continue
		}
		sid, _ := m.ServiceByte()
		payload := m.Bytes()
		if payload == nil {
			payload = []uint8{}
		}
		rows = append(rows, Row{
			JobID:         jobID,
			LineNumber:    uint32(m.LineNumber),
			Timestamp:     rowTime(midnight, m.TimestampMs),
			Direction:     string(m.Direction),
			Protocol:      m.Protocol,
			SourceAddress: m.SourceAddress,
			TargetAddress: m.TargetAddress,
			ServiceID:     sid,
			Payload:       payload,
		})
	}
	return rows
}

const dayMs = 24 * 60 * 60 * 1000

func rowTime(midnight time.Time, ms int64) time.Time {
	if ms >= dayMs {
		return time.UnixMilli(ms).UTC()
	}
	return midnight.Add(time.Duration(ms) * time.Millisecond)
}

// Writer writes trace messages to ClickHouse in batches.
type Writer struct {
	conn      driver.Conn
	table     string
	batchSize int
	logger    *zap.Logger
}

// New connects to ClickHouse and creates the archive table if needed.
func New(ctx context.Context, cfg config.ClickHouseConfig, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL(cfg.Table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}
	return &Writer{
		conn:      conn,
		table:     cfg.Table,
		batchSize: batchSize,
		logger:    logger.Named("archive"),
	}, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			job_id String,
			line_number UInt32,
			timestamp DateTime64(3),
			direction LowCardinality(String),
			protocol LowCardinality(String),
			source_address String,
			target_address String,
			service_id UInt8,
			payload Array(UInt8)
		) ENGINE = MergeTree()
		ORDER BY (job_id, line_number)
		PARTITION BY toYYYYMM(timestamp)
	`, table)
}

// Write archives the frames of a job. It returns the number of rows sent.
func (w *Writer) Write(ctx context.Context, jobID string, day time.Time, msgs []types.TraceMessage) (int, error) {
	rows := Rows(jobID, day, msgs)
	for start := 0; start < len(rows); start += w.batchSize {
		end := min(start+w.batchSize, len(rows))
		if err := w.send(ctx, rows[start:end]); err != nil {
			return start, err
		}
	}
	w.logger.Debug("archived trace", zap.String("job_id", jobID), zap.Int("rows", len(rows)))
	return len(rows), nil
}

func (w *Writer) send(ctx context.Context, rows []Row) error {
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.JobID,
			r.LineNumber,
			r.Timestamp,
			r.Direction,
			r.Protocol,
			r.SourceAddress,
			r.TargetAddress,
			r.ServiceID,
			r.Payload,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.conn.Close()
}
