package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/payment-ledger/internal/config"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// EnsureArchiveSchema creates the ledger-events table if it does not exist
func (db *ClickHouseDB) EnsureArchiveSchema(ctx context.Context) error {
	return db.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_events (
			id String,
			account_id String,
			kind String,
			natural_key String,
			tx_id String,
			token String,
			raw_amount Float64,
			credits Int64,
			chain_id String,
			rail String,
			new_balance Int64,
			created_at DateTime64(3)
		) ENGINE = MergeTree()
		ORDER BY (account_id, created_at)
	`)
}

// PaymentArchive streams applied ledger records into ClickHouse for
// out-of-band analytics. Writes are buffered and flushed in batches off the
// request path; a full buffer drops the event rather than blocking the
// ledger.
type PaymentArchive struct {
	db      *ClickHouseDB
	events  chan *models.PaymentRecord
	done    chan struct{}
	logger  *logging.Logger
	maxWait time.Duration
	maxSize int
}

// NewPaymentArchive creates the archive and starts its flush loop
func NewPaymentArchive(db *ClickHouseDB, logger *logging.Logger) *PaymentArchive {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	a := &PaymentArchive{
		db:      db,
		events:  make(chan *models.PaymentRecord, 1024),
		done:    make(chan struct{}),
		logger:  logger,
		maxWait: 5 * time.Second,
		maxSize: 200,
	}
	go a.flushLoop()
	return a
}

// RecordApplied enqueues a record for archival without blocking
func (a *PaymentArchive) RecordApplied(record *models.PaymentRecord) {
	select {
	case a.events <- record:
	default:
		a.logger.WithField("recordId", record.ID).Warn("Archive buffer full, dropping event")
	}
}

// Close flushes buffered events and stops the flush loop
func (a *PaymentArchive) Close() {
	close(a.events)
	<-a.done
}

func (a *PaymentArchive) flushLoop() {
	defer close(a.done)

	ticker := time.NewTicker(a.maxWait)
	defer ticker.Stop()

	pending := make([]*models.PaymentRecord, 0, a.maxSize)
	for {
		select {
		case record, ok := <-a.events:
			if !ok {
				a.flush(pending)
				return
			}
			pending = append(pending, record)
			if len(pending) >= a.maxSize {
				a.flush(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				a.flush(pending)
				pending = pending[:0]
			}
		}
	}
}

func (a *PaymentArchive) flush(records []*models.PaymentRecord) {
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := a.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ledger_events
			(id, account_id, kind, natural_key, tx_id, token, raw_amount,
			 credits, chain_id, rail, new_balance, created_at)
	`)
	if err != nil {
		a.logger.WithError(err).Error("Failed to prepare archive batch")
		return
	}

	for _, r := range records {
		if err := batch.Append(
			r.ID, r.AccountID, string(r.Kind), r.NaturalKey, r.TxID, r.Token,
			r.RawAmount, r.Credits, string(r.ChainID), string(r.Rail),
			r.NewBalance, r.CreatedAt,
		); err != nil {
			a.logger.WithError(err).Error("Failed to append archive event")
			return
		}
	}

	if err := batch.Send(); err != nil {
		a.logger.WithError(err).Error("Failed to send archive batch")
		return
	}

	a.logger.WithField("count", len(records)).Debug("Flushed archive batch")
}
