package pipeline

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"visionlake/fault"
	"visionlake/ledger"
	"visionlake/pandadoc"
	"visionlake/stripe"
	"visionlake/xero"
)

func newTestService(customers *fakeCustomers, contacts *fakeContacts, invoices *fakeInvoices, contracts *fakeContracts, records *fakeRecorder) *Service {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewService(customers, contacts, invoices, contracts, records, logger).
		WithRecordBackoff(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		})
}

func testSession() stripe.CheckoutSession {
	return stripe.CheckoutSession{
		ID:          "cs_1",
		Customer:    "cus_1",
		AmountTotal: 50000,
		Currency:    "usd",
	}
}

func testCustomer() stripe.Customer {
	return stripe.Customer{
		ID:    "cus_1",
		Name:  "Ada Lovelace",
		Email: "a@x.com",
		Phone: "+15550100",
		Metadata: map[string]string{
			"squadronId":  "sq-7",
			"pcpAssigned": "dr-strange",
		},
	}
}

func TestHandleCheckoutCompleted_Success(t *testing.T) {
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{doc: pandadoc.Document{ID: "doc-1"}}
	records := &fakeRecorder{}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if outcome.Status != ledger.StatusCompleted {
		t.Errorf("expected completed status, got %s", outcome.Status)
	}
	if outcome.InvoiceID != "inv-1" || outcome.ContractID != "doc-1" {
		t.Errorf("expected invoice and contract ids in outcome, got %+v", outcome)
	}

	if len(records.appended) != 1 {
		t.Fatalf("expected one appended record, got %d", len(records.appended))
	}
	rec := records.appended[0]
	if rec.Status != ledger.StatusCompleted {
		t.Errorf("expected completed record, got %s", rec.Status)
	}
	if rec.SessionID != "cs_1" || rec.CustomerID != "cus_1" || rec.CustomerEmail != "a@x.com" {
		t.Errorf("record identity fields wrong: %+v", rec)
	}
	if rec.Amount != 50000 || rec.Currency != "usd" {
		t.Errorf("record amount fields wrong: %+v", rec)
	}
	if rec.InvoiceID == nil || *rec.InvoiceID != "inv-1" {
		t.Errorf("expected invoice id on record, got %v", rec.InvoiceID)
	}
	if rec.ContractID == nil || *rec.ContractID != "doc-1" {
		t.Errorf("expected contract id on record, got %v", rec.ContractID)
	}
	if rec.SquadronID == nil || *rec.SquadronID != "sq-7" {
		t.Errorf("expected squadron metadata on record, got %v", rec.SquadronID)
	}
	if rec.PCPAssigned == nil || *rec.PCPAssigned != "dr-strange" {
		t.Errorf("expected pcp metadata on record, got %v", rec.PCPAssigned)
	}
}

func TestHandleCheckoutCompleted_DuplicateSkipsSideEffects(t *testing.T) {
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{doc: pandadoc.Document{ID: "doc-1"}}
	records := &fakeRecorder{completed: true}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !outcome.Duplicate {
		t.Errorf("expected duplicate outcome")
	}
	if customers.calls != 0 || contacts.calls != 0 || invoices.calls != 0 || contracts.calls != 0 {
		t.Errorf("expected no side effects on duplicate delivery")
	}
	if len(records.appended) != 0 {
		t.Errorf("expected no second record, got %d", len(records.appended))
	}
}

func TestHandleCheckoutCompleted_ContactRejected(t *testing.T) {
	cause := fault.New(fault.UpstreamRejected, "xero", "create contact", fmt.Errorf("status 400"))
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{err: cause}
	invoices := &fakeInvoices{}
	contracts := &fakeContracts{}
	records := &fakeRecorder{}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err != nil {
		t.Fatalf("rejections are terminal, expected nil error, got %v", err)
	}
	if invoices.calls != 0 {
		t.Errorf("no invoice may be issued after contact rejection")
	}
	if contracts.calls != 0 {
		t.Errorf("no contract may be dispatched after contact rejection")
	}
	if outcome.Status != ledger.StatusFailed || outcome.FailStage != StageResolveContact {
		t.Errorf("expected failed outcome at resolve_contact, got %+v", outcome)
	}

	if len(records.appended) != 1 {
		t.Fatalf("expected one failure record, got %d", len(records.appended))
	}
	rec := records.appended[0]
	if rec.Status != ledger.StatusFailed {
		t.Errorf("expected failed record, got %s", rec.Status)
	}
	if rec.InvoiceID != nil || rec.ContractID != nil {
		t.Errorf("expected no invoice or contract references, got %+v", rec)
	}
	if rec.FailureStage == nil || *rec.FailureStage != string(StageResolveContact) {
		t.Errorf("expected failure stage resolve_contact, got %v", rec.FailureStage)
	}
	if rec.FailureReason == nil {
		t.Errorf("expected failure reason referencing the rejection")
	}
}

func TestHandleCheckoutCompleted_DispatchFailsAfterInvoice(t *testing.T) {
	cause := fault.New(fault.UpstreamRejected, "pandadoc", "create document", fmt.Errorf("status 422"))
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{err: cause}
	records := &fakeRecorder{}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err != nil {
		t.Fatalf("expected nil error for recorded rejection, got %v", err)
	}
	if outcome.Status != ledger.StatusFailed || outcome.FailStage != StageDispatchContract {
		t.Errorf("expected failed outcome at dispatch_contract, got %+v", outcome)
	}

	if len(records.appended) != 1 {
		t.Fatalf("expected one record, got %d", len(records.appended))
	}
	rec := records.appended[0]
	if rec.InvoiceID == nil || *rec.InvoiceID != "inv-1" {
		t.Errorf("partial record must keep the issued invoice id, got %v", rec.InvoiceID)
	}
	if rec.ContractID != nil {
		t.Errorf("partial record must not carry a contract id, got %v", *rec.ContractID)
	}
}

func TestHandleCheckoutCompleted_UnavailableRequestsRedelivery(t *testing.T) {
	cause := fault.New(fault.UpstreamUnavailable, "xero", "create invoice", fmt.Errorf("timeout"))
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{err: cause}
	contracts := &fakeContracts{}
	records := &fakeRecorder{}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err == nil {
		t.Fatalf("expected error so the source redelivers")
	}
	if fault.KindOf(err) != fault.UpstreamUnavailable {
		t.Errorf("expected unavailable fault, got %v", err)
	}
	if outcome.Status != ledger.StatusIncomplete {
		t.Errorf("expected incomplete outcome, got %s", outcome.Status)
	}
	if contracts.calls != 0 {
		t.Errorf("dispatch must not run after invoice failure")
	}
	if len(records.appended) != 1 || records.appended[0].Status != ledger.StatusIncomplete {
		t.Errorf("expected one incomplete record, got %+v", records.appended)
	}
}

func TestHandleCheckoutCompleted_RecordRetriesUntilSuccess(t *testing.T) {
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{doc: pandadoc.Document{ID: "doc-1"}}
	records := &fakeRecorder{appendErrs: []error{
		fault.New(fault.PersistenceUnavailable, "ledger", "insert record", fmt.Errorf("connection reset")),
		fault.New(fault.PersistenceUnavailable, "ledger", "insert record", fmt.Errorf("connection reset")),
	}}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	if _, err := svc.HandleCheckoutCompleted(context.Background(), testSession()); err != nil {
		t.Fatalf("expected retries to recover the ledger write, got %v", err)
	}
	if records.appendCalls != 3 {
		t.Errorf("expected 3 append attempts, got %d", records.appendCalls)
	}
}

func TestHandleCheckoutCompleted_RecordExhaustedSurfacesError(t *testing.T) {
	persistErr := fault.New(fault.PersistenceUnavailable, "ledger", "insert record", fmt.Errorf("down"))
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{doc: pandadoc.Document{ID: "doc-1"}}
	records := &fakeRecorder{appendErr: persistErr}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	_, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err == nil {
		t.Fatalf("expected error when ledger write is exhausted")
	}
	if fault.KindOf(err) != fault.PersistenceUnavailable {
		t.Errorf("expected persistence fault, got %v", err)
	}
	if records.appendCalls < 2 {
		t.Errorf("expected aggressive retries before giving up, got %d attempts", records.appendCalls)
	}
}

func TestHandleCheckoutCompleted_LostCompletionRace(t *testing.T) {
	customers := &fakeCustomers{customer: testCustomer()}
	contacts := &fakeContacts{contact: xero.Contact{ContactID: "contact-1"}}
	invoices := &fakeInvoices{invoice: xero.Invoice{InvoiceID: "inv-1"}}
	contracts := &fakeContracts{doc: pandadoc.Document{ID: "doc-1"}}
	records := &fakeRecorder{appendErr: ledger.ErrDuplicateSession}

	svc := newTestService(customers, contacts, invoices, contracts, records)

	outcome, err := svc.HandleCheckoutCompleted(context.Background(), testSession())
	if err != nil {
		t.Fatalf("losing the completion race is not an error, got %v", err)
	}
	if !outcome.Duplicate {
		t.Errorf("expected duplicate outcome after losing the race")
	}
	if records.appendCalls != 1 {
		t.Errorf("duplicate session must not be retried, got %d attempts", records.appendCalls)
	}
}

type fakeCustomers struct {
	customer stripe.Customer
	err      error
	calls    int
}

func (f *fakeCustomers) FetchCustomer(ctx context.Context, customerID string) (stripe.Customer, error) {
	f.calls++
	return f.customer, f.err
}

type fakeContacts struct {
	contact xero.Contact
	err     error
	calls   int
}

func (f *fakeContacts) ResolveContact(ctx context.Context, customer stripe.Customer) (xero.Contact, error) {
	f.calls++
	return f.contact, f.err
}

type fakeInvoices struct {
	invoice xero.Invoice
	err     error
	calls   int
}

func (f *fakeInvoices) CreateInvoice(ctx context.Context, contactID string, amountMinorUnits int64) (xero.Invoice, error) {
	f.calls++
	return f.invoice, f.err
}

type fakeContracts struct {
	doc   pandadoc.Document
	err   error
	calls int
}

func (f *fakeContracts) Dispatch(ctx context.Context, customer stripe.Customer, amountMinorUnits int64) (pandadoc.Document, error) {
	f.calls++
	return f.doc, f.err
}

type fakeRecorder struct {
	completed   bool
	existsErr   error
	appendErr   error
	appendErrs  []error
	appended    []ledger.TransactionRecord
	appendCalls int
}

func (f *fakeRecorder) CompletedExists(ctx context.Context, sessionID string) (bool, error) {
	return f.completed, f.existsErr
}

func (f *fakeRecorder) Append(ctx context.Context, rec ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	f.appendCalls++
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		return ledger.TransactionRecord{}, err
	}
	if f.appendErr != nil {
		return ledger.TransactionRecord{}, f.appendErr
	}
	rec.ID = fmt.Sprintf("rec-%d", len(f.appended)+1)
	f.appended = append(f.appended, rec)
	return rec, nil
}
