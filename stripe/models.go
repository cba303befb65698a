package stripe

// Event is the validated, explicitly-typed webhook payload. It is built once
// at the HTTP boundary; malformed payloads never reach the orchestrator.
type Event struct {
	ID   string    `json:"id" validate:"required"`
	Type string    `json:"type" validate:"required"`
	Data EventData `json:"data"`
}

// EventData wraps the event's object, matching Stripe's envelope shape.
type EventData struct {
	Object CheckoutSession `json:"object"`
}

// CheckoutSession carries the fields of a completed checkout session the
// pipeline consumes.
type CheckoutSession struct {
	ID          string `json:"id" validate:"required"`
	Customer    string `json:"customer" validate:"required"`
	AmountTotal int64  `json:"amount_total" validate:"gte=0"`
	Currency    string `json:"currency" validate:"required"`
}

// Customer is the payment processor's view of the paying customer. The
// pipeline only reads it.
type Customer struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Phone    string            `json:"phone"`
	Metadata map[string]string `json:"metadata"`
}

// SquadronID returns the squadron assignment from customer metadata, if any.
func (c Customer) SquadronID() string {
	return c.Metadata["squadronId"]
}

// PCPAssigned returns the assigned PCP from customer metadata, if any.
func (c Customer) PCPAssigned() string {
	return c.Metadata["pcpAssigned"]
}
