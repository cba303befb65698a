package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"visionlake/test/infra"
)

func setupRepo(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	pgC, dsn, err := infra.StartPostgres16(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = teardown(context.Background())
	})

	return NewRepository(pool), ctx
}

func TestAppendAndDedup(t *testing.T) {
	repo, ctx := setupRepo(t)

	invoiceID := "inv-1"
	contractID := "doc-1"
	rec := TransactionRecord{
		SessionID:     "cs_live_1",
		CustomerID:    "cus_1",
		CustomerEmail: "a@x.com",
		Amount:        50000,
		Currency:      "usd",
		Status:        StatusCompleted,
		InvoiceID:     &invoiceID,
		ContractID:    &contractID,
	}

	appended, err := repo.Append(ctx, rec)
	if err != nil {
		t.Fatalf("append completed record: %v", err)
	}
	if appended.ID == "" {
		t.Errorf("expected server-assigned record id")
	}
	if appended.RecordedAt.IsZero() {
		t.Errorf("expected server-assigned timestamp")
	}

	exists, err := repo.CompletedExists(ctx, "cs_live_1")
	if err != nil {
		t.Fatalf("completed exists: %v", err)
	}
	if !exists {
		t.Errorf("expected completed record to be visible for dedup")
	}

	if _, err := repo.Append(ctx, rec); !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession on second completed append, got %v", err)
	}

	records, err := repo.GetBySession(ctx, "cs_live_1")
	if err != nil {
		t.Fatalf("get by session: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	if records[0].InvoiceID == nil || *records[0].InvoiceID != "inv-1" {
		t.Errorf("expected invoice id to round-trip, got %v", records[0].InvoiceID)
	}
}

func TestAppendPartialOutcome(t *testing.T) {
	repo, ctx := setupRepo(t)

	invoiceID := "inv-2"
	stage := "dispatch_contract"
	reason := "pandadoc: create document: upstream_rejected: status 400"
	rec := TransactionRecord{
		SessionID:     "cs_live_2",
		CustomerID:    "cus_2",
		CustomerEmail: "b@x.com",
		Amount:        120000,
		Currency:      "usd",
		Status:        StatusFailed,
		FailureStage:  &stage,
		FailureReason: &reason,
		InvoiceID:     &invoiceID,
	}

	if _, err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("append partial record: %v", err)
	}

	// A failed attempt must not satisfy the dedup probe: redelivery of a
	// rejected session is a business decision, not an automatic skip.
	exists, err := repo.CompletedExists(ctx, "cs_live_2")
	if err != nil {
		t.Fatalf("completed exists: %v", err)
	}
	if exists {
		t.Errorf("failed record must not count as completed")
	}

	records, err := repo.GetBySession(ctx, "cs_live_2")
	if err != nil {
		t.Fatalf("get by session: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	got := records[0]
	if got.InvoiceID == nil || *got.InvoiceID != "inv-2" {
		t.Errorf("partial record should keep the issued invoice id, got %v", got.InvoiceID)
	}
	if got.ContractID != nil {
		t.Errorf("partial record should have no contract id, got %v", *got.ContractID)
	}
	if got.FailureStage == nil || *got.FailureStage != "dispatch_contract" {
		t.Errorf("expected failure stage dispatch_contract, got %v", got.FailureStage)
	}
}

func TestAppendWritesOutbox(t *testing.T) {
	repo, ctx := setupRepo(t)

	rec := TransactionRecord{
		SessionID:     "cs_live_3",
		CustomerID:    "cus_3",
		CustomerEmail: "c@x.com",
		Amount:        35000,
		Currency:      "usd",
		Status:        StatusFailed,
	}
	if _, err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	var topic string
	err := repo.pool.QueryRow(ctx, `SELECT topic FROM outbox ORDER BY id DESC LIMIT 1`).Scan(&topic)
	if err != nil {
		t.Fatalf("query outbox: %v", err)
	}
	if topic != TopicAttentionRequired {
		t.Errorf("expected %s outbox topic for failed record, got %s", TopicAttentionRequired, topic)
	}
}
