// Package pipeline orchestrates the payment saga: a completed checkout
// session is turned into an accounting contact, an invoice, a dispatched
// contract, and an immutable ledger record. The three external systems fail
// independently and share no transaction, so the orchestrator's job is
// classifying each failure and making sure no money-related event is
// silently dropped.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"visionlake/fault"
	"visionlake/ledger"
	"visionlake/pandadoc"
	"visionlake/stripe"
	"visionlake/xero"
)

// Stage names the step of the saga a failure happened in. Stages are
// strictly sequential; later steps consume outputs of earlier ones.
type Stage string

const (
	StageFetchCustomer    Stage = "fetch_customer"
	StageResolveContact   Stage = "resolve_contact"
	StageIssueInvoice     Stage = "issue_invoice"
	StageDispatchContract Stage = "dispatch_contract"
	StageRecord           Stage = "record"
)

// CustomerFetcher reads the paying customer from the payment processor.
type CustomerFetcher interface {
	FetchCustomer(ctx context.Context, customerID string) (stripe.Customer, error)
}

// ContactResolver finds or creates the accounting contact for a customer.
type ContactResolver interface {
	ResolveContact(ctx context.Context, customer stripe.Customer) (xero.Contact, error)
}

// InvoiceIssuer submits an invoice against a resolved contact.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, contactID string, amountMinorUnits int64) (xero.Invoice, error)
}

// ContractDispatcher renders the tier contract and sends it for signature.
type ContractDispatcher interface {
	Dispatch(ctx context.Context, customer stripe.Customer, amountMinorUnits int64) (pandadoc.Document, error)
}

// Recorder is the append-only durable store of saga outcomes.
type Recorder interface {
	CompletedExists(ctx context.Context, sessionID string) (bool, error)
	Append(ctx context.Context, rec ledger.TransactionRecord) (ledger.TransactionRecord, error)
}

// Outcome summarizes one handled delivery for the HTTP layer.
type Outcome struct {
	Status     ledger.Status
	Duplicate  bool
	RecordID   string
	InvoiceID  string
	ContractID string
	FailStage  Stage
	Cause      error
}

// Service runs one saga per validated checkout-completed event. Collaborators
// are injected so tests can substitute fakes; the service itself holds no
// mutable state, so concurrent sessions do not interfere.
type Service struct {
	customers CustomerFetcher
	contacts  ContactResolver
	invoices  InvoiceIssuer
	contracts ContractDispatcher
	records   Recorder
	logger    *logrus.Logger

	newRecordBackoff func() backoff.BackOff
}

// NewService wires the orchestrator.
func NewService(customers CustomerFetcher, contacts ContactResolver, invoices InvoiceIssuer, contracts ContractDispatcher, records Recorder, logger *logrus.Logger) *Service {
	return &Service{
		customers: customers,
		contacts:  contacts,
		invoices:  invoices,
		contracts: contracts,
		records:   records,
		logger:    logger,
		newRecordBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// WithRecordBackoff overrides the ledger retry policy, for tests.
func (s *Service) WithRecordBackoff(factory func() backoff.BackOff) *Service {
	s.newRecordBackoff = factory
	return s
}

// HandleCheckoutCompleted drives the saga for one completed checkout
// session. The returned error is non-nil exactly when the source should
// redeliver: the failure was retryable (an upstream was unavailable) or the
// outcome could not be durably recorded. Rejections are terminal; they are
// recorded as failed and the delivery is acknowledged so the source does
// not retry into the same rejection forever.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session stripe.CheckoutSession) (Outcome, error) {
	log := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"amount":     session.AmountTotal,
		"currency":   session.Currency,
	})

	// Dedup before any side effect: a redelivered event whose saga already
	// completed must not produce a second invoice or contract.
	exists, err := s.records.CompletedExists(ctx, session.ID)
	if err != nil {
		return Outcome{}, err
	}
	if exists {
		log.Info("duplicate delivery for completed session, skipping")
		return Outcome{Status: ledger.StatusCompleted, Duplicate: true}, nil
	}

	customer, err := s.customers.FetchCustomer(ctx, session.Customer)
	if err != nil {
		// No customer data yet; fall back to the session's reference so
		// the failure record still points at something resolvable.
		customer = stripe.Customer{ID: session.Customer}
		return s.fail(ctx, log, session, customer, nil, nil, StageFetchCustomer, err)
	}

	contact, err := s.contacts.ResolveContact(ctx, customer)
	if err != nil {
		return s.fail(ctx, log, session, customer, nil, nil, StageResolveContact, err)
	}

	invoice, err := s.invoices.CreateInvoice(ctx, contact.ContactID, session.AmountTotal)
	if err != nil {
		return s.fail(ctx, log, session, customer, nil, nil, StageIssueInvoice, err)
	}

	document, err := s.contracts.Dispatch(ctx, customer, session.AmountTotal)
	if err != nil {
		return s.fail(ctx, log, session, customer, &invoice.InvoiceID, nil, StageDispatchContract, err)
	}

	rec, err := s.appendWithRetry(ctx, buildRecord(session, customer, ledger.StatusCompleted, &invoice.InvoiceID, &document.ID, "", nil))
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateSession) {
			// A concurrent delivery of the same session won the race after
			// our dedup probe. Its record is the durable one.
			log.Info("lost completion race to concurrent delivery")
			return Outcome{Status: ledger.StatusCompleted, Duplicate: true}, nil
		}
		log.WithError(err).Error("saga completed externally but outcome could not be recorded")
		return Outcome{FailStage: StageRecord, Cause: err}, err
	}

	log.WithFields(logrus.Fields{
		"record_id":   rec.ID,
		"invoice_id":  invoice.InvoiceID,
		"contract_id": document.ID,
	}).Info("payment processed")

	return Outcome{
		Status:     ledger.StatusCompleted,
		RecordID:   rec.ID,
		InvoiceID:  invoice.InvoiceID,
		ContractID: document.ID,
	}, nil
}

// fail records a partial outcome and decides the acknowledgment. Whatever
// succeeded before the failure point is referenced by the record, which is
// how a partial success (invoice issued, contract not) is distinguished
// from a total failure later.
func (s *Service) fail(ctx context.Context, log *logrus.Entry, session stripe.CheckoutSession, customer stripe.Customer, invoiceID, contractID *string, stage Stage, cause error) (Outcome, error) {
	status := ledger.StatusIncomplete
	if fault.KindOf(cause) == fault.UpstreamRejected {
		status = ledger.StatusFailed
	}

	rec, recErr := s.appendWithRetry(ctx, buildRecord(session, customer, status, invoiceID, contractID, stage, cause))
	if recErr != nil {
		log.WithError(recErr).WithFields(logrus.Fields{
			"stage": stage,
			"cause": cause.Error(),
		}).Error("saga failed and the failure could not be recorded")
		return Outcome{Status: status, FailStage: stage, Cause: cause}, recErr
	}

	outcome := Outcome{
		Status:    status,
		RecordID:  rec.ID,
		FailStage: stage,
		Cause:     cause,
	}
	if invoiceID != nil {
		outcome.InvoiceID = *invoiceID
	}
	if contractID != nil {
		outcome.ContractID = *contractID
	}

	if status == ledger.StatusFailed {
		// Terminal rejection: acknowledge so the source stops redelivering;
		// the attention-required outbox entry carries it to remediation.
		log.WithFields(logrus.Fields{"stage": stage, "record_id": rec.ID}).
			WithError(cause).Warn("payment rejected upstream, recorded for remediation")
		return outcome, nil
	}

	log.WithFields(logrus.Fields{"stage": stage, "record_id": rec.ID}).
		WithError(cause).Warn("upstream unavailable, requesting redelivery")
	return outcome, cause
}

// appendWithRetry retries the ledger write aggressively before giving up:
// by the time a record is appended the external side effects have already
// happened, so losing the write leaves external and internal state
// inconsistent.
func (s *Service) appendWithRetry(ctx context.Context, rec ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	var appended ledger.TransactionRecord
	operation := func() error {
		var err error
		appended, err = s.records.Append(ctx, rec)
		if err == nil {
			return nil
		}
		if errors.Is(err, ledger.ErrDuplicateSession) || fault.KindOf(err) != fault.PersistenceUnavailable {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(s.newRecordBackoff(), ctx)); err != nil {
		return ledger.TransactionRecord{}, err
	}
	return appended, nil
}

func buildRecord(session stripe.CheckoutSession, customer stripe.Customer, status ledger.Status, invoiceID, contractID *string, stage Stage, cause error) ledger.TransactionRecord {
	rec := ledger.TransactionRecord{
		SessionID:     session.ID,
		CustomerID:    customer.ID,
		CustomerEmail: customer.Email,
		Amount:        session.AmountTotal,
		Currency:      session.Currency,
		Status:        status,
		InvoiceID:     invoiceID,
		ContractID:    contractID,
	}
	if squadron := customer.SquadronID(); squadron != "" {
		rec.SquadronID = &squadron
	}
	if pcp := customer.PCPAssigned(); pcp != "" {
		rec.PCPAssigned = &pcp
	}
	if stage != "" {
		stageName := string(stage)
		rec.FailureStage = &stageName
	}
	if cause != nil {
		reason := cause.Error()
		rec.FailureReason = &reason
	}
	return rec
}
