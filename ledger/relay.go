package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Relay drains the transactional outbox. Completed outcomes are announced
// at info level; attention-required outcomes are raised at error level so
// partial external state cannot slip by unnoticed.
type Relay struct {
	pool     *pgxpool.Pool
	logger   *logrus.Logger
	interval time.Duration
	batch    int
}

// NewRelay builds a Relay polling at the given interval.
func NewRelay(pool *pgxpool.Pool, logger *logrus.Logger, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Relay{pool: pool, logger: logger, interval: interval, batch: 50}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, claimSQL, r.batch)
	if err != nil {
		return fmt.Errorf("ledger: claim outbox batch: %w", err)
	}

	var claimed []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Topic, &msg.Payload, &msg.Attempts); err != nil {
			rows.Close()
			return fmt.Errorf("ledger: scan outbox message: %w", err)
		}
		claimed = append(claimed, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ledger: iterate outbox batch: %w", err)
	}
	if len(claimed) == 0 {
		return nil
	}

	for _, msg := range claimed {
		entry := r.logger.WithFields(logrus.Fields{
			"outbox_id": msg.ID,
			"topic":     msg.Topic,
			"payload":   string(msg.Payload),
		})
		if msg.Topic == TopicAttentionRequired {
			entry.Error("payment needs manual remediation")
		} else {
			entry.Info("payment outcome published")
		}

		const markSQL = `
			UPDATE outbox
			SET status = 'sent', attempts = attempts + 1, sent_at = now()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, markSQL, msg.ID); err != nil {
			return fmt.Errorf("ledger: mark outbox sent: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit drain tx: %w", err)
	}
	return nil
}
