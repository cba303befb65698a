package ledger

import "time"

// Status is the terminal disposition of one saga attempt.
type Status string

const (
	// StatusCompleted means every step ran: contact, invoice, contract,
	// and the record itself.
	StatusCompleted Status = "completed"
	// StatusFailed means an external system rejected a step; redelivery
	// would hit the same rejection, so the attempt is terminal and needs
	// manual remediation.
	StatusFailed Status = "failed"
	// StatusIncomplete means an external system was unreachable; the
	// source is asked to redeliver.
	StatusIncomplete Status = "incomplete"
)

// TransactionRecord is one immutable row of the payment ledger. Optional
// references stay nil when the step that would have produced them never
// succeeded, which is how partial outcomes are told apart from complete
// ones.
type TransactionRecord struct {
	ID            string
	SessionID     string
	CustomerID    string
	CustomerEmail string
	Amount        int64
	Currency      string
	Status        Status
	FailureStage  *string
	FailureReason *string
	InvoiceID     *string
	ContractID    *string
	SquadronID    *string
	PCPAssigned   *string
	RecordedAt    time.Time
}

// OutboxMessage is a transactional outbox entry written alongside a record.
type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}

const (
	// TopicPaymentRecorded is published for fully completed sagas.
	TopicPaymentRecorded = "payment.recorded"
	// TopicAttentionRequired is published for failed or incomplete sagas
	// so partial external state is surfaced for remediation rather than
	// buried in logs.
	TopicAttentionRequired = "payment.attention_required"
)
