// Package ledger persists the append-only record of saga outcomes. Rows are
// inserted exactly once and never updated or deleted; the completed record
// for a checkout session is the durable proof the payment was fully
// processed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"visionlake/fault"
)

const system = "ledger"

// ErrDuplicateSession signals a completed record already exists for the
// session, i.e. the insert raced a concurrent delivery of the same event.
var ErrDuplicateSession = errors.New("ledger: completed record exists for session")

// Repository provides access to the transactions and outbox tables.
type Repository struct {
	pool *pgxpool.Pool
	ids  func() string
}

// NewRepository wires a pgxpool-backed repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, ids: uuid.NewString}
}

// WithIDGenerator overrides record id generation, for tests.
func (r *Repository) WithIDGenerator(gen func() string) *Repository {
	r.ids = gen
	return r
}

// CompletedExists reports whether the session already has a completed
// record. The orchestrator probes this before re-running side effects for a
// redelivered event.
func (r *Repository) CompletedExists(ctx context.Context, sessionID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE session_id = $1 AND status = 'completed'
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, sessionID).Scan(&exists); err != nil {
		return false, fault.New(fault.PersistenceUnavailable, system, "check session", err)
	}
	return exists, nil
}

// Append inserts one transaction record and, in the same transaction, an
// outbox message announcing the outcome. The transactions table carries a
// partial unique index on session_id for completed rows, so a concurrent
// duplicate completion surfaces as ErrDuplicateSession instead of a second
// record.
func (r *Repository) Append(ctx context.Context, rec TransactionRecord) (TransactionRecord, error) {
	if rec.SessionID == "" {
		return TransactionRecord{}, fmt.Errorf("ledger: missing session id")
	}
	if rec.Status == "" {
		return TransactionRecord{}, fmt.Errorf("ledger: missing status")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return TransactionRecord{}, fault.New(fault.PersistenceUnavailable, system, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	rec.ID = r.ids()

	const insertSQL = `
		INSERT INTO transactions (
			id, session_id, customer_id, customer_email, amount_minor_units,
			currency, status, failure_stage, failure_reason, invoice_id,
			contract_id, squadron_id, pcp_assigned
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING recorded_at
	`
	err = tx.QueryRow(ctx, insertSQL,
		rec.ID,
		rec.SessionID,
		rec.CustomerID,
		rec.CustomerEmail,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.FailureStage,
		rec.FailureReason,
		rec.InvoiceID,
		rec.ContractID,
		rec.SquadronID,
		rec.PCPAssigned,
	).Scan(&rec.RecordedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return TransactionRecord{}, ErrDuplicateSession
		}
		return TransactionRecord{}, fault.New(fault.PersistenceUnavailable, system, "insert record", err)
	}

	if err := r.enqueueOutbox(ctx, tx, rec); err != nil {
		return TransactionRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransactionRecord{}, fault.New(fault.PersistenceUnavailable, system, "commit tx", err)
	}

	return rec, nil
}

// GetBySession returns all recorded attempts for a session, newest first.
func (r *Repository) GetBySession(ctx context.Context, sessionID string) ([]TransactionRecord, error) {
	const query = `
		SELECT id, session_id, customer_id, customer_email, amount_minor_units,
		       currency, status, failure_stage, failure_reason, invoice_id,
		       contract_id, squadron_id, pcp_assigned, recorded_at
		FROM transactions
		WHERE session_id = $1
		ORDER BY recorded_at DESC
	`

	rows, err := r.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fault.New(fault.PersistenceUnavailable, system, "query session", err)
	}
	defer rows.Close()

	var records []TransactionRecord
	for rows.Next() {
		var rec TransactionRecord
		if err := rows.Scan(
			&rec.ID, &rec.SessionID, &rec.CustomerID, &rec.CustomerEmail,
			&rec.Amount, &rec.Currency, &rec.Status, &rec.FailureStage,
			&rec.FailureReason, &rec.InvoiceID, &rec.ContractID,
			&rec.SquadronID, &rec.PCPAssigned, &rec.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("ledger: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate records: %w", err)
	}

	return records, nil
}

func (r *Repository) enqueueOutbox(ctx context.Context, tx pgx.Tx, rec TransactionRecord) error {
	topic := TopicPaymentRecorded
	if rec.Status != StatusCompleted {
		topic = TopicAttentionRequired
	}

	payload := map[string]any{
		"record_id":  rec.ID,
		"session_id": rec.SessionID,
		"status":     rec.Status,
		"amount":     rec.Amount,
		"currency":   rec.Currency,
	}
	if rec.FailureStage != nil {
		payload["failure_stage"] = *rec.FailureStage
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal outbox payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, encoded); err != nil {
		return fault.New(fault.PersistenceUnavailable, system, "insert outbox", err)
	}
	return nil
}
