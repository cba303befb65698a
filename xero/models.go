package xero

// Contact mirrors the subset of Xero's contact resource the pipeline
// touches. Phones are omitted entirely when the customer has no phone.
type Contact struct {
	ContactID    string  `json:"ContactID,omitempty"`
	Name         string  `json:"Name"`
	EmailAddress string  `json:"EmailAddress"`
	Phones       []Phone `json:"Phones,omitempty"`
}

// Phone is a single contact phone entry.
type Phone struct {
	PhoneType   string `json:"PhoneType"`
	PhoneNumber string `json:"PhoneNumber"`
}

// Invoice is the accounts-receivable invoice issued per completed payment.
type Invoice struct {
	InvoiceID string     `json:"InvoiceID,omitempty"`
	Type      string     `json:"Type"`
	Contact   ContactRef `json:"Contact"`
	LineItems []LineItem `json:"LineItems"`
	Status    string     `json:"Status"`
	Date      string     `json:"Date"`
}

// ContactRef references an existing contact by id.
type ContactRef struct {
	ContactID string `json:"ContactID"`
}

// LineItem is a single invoice line. UnitAmount is a decimal string so no
// binary floating point touches the wire.
type LineItem struct {
	Description string `json:"Description"`
	Quantity    int    `json:"Quantity"`
	UnitAmount  string `json:"UnitAmount"`
	AccountCode string `json:"AccountCode"`
}

type contactsEnvelope struct {
	Contacts []Contact `json:"Contacts"`
}

type invoicesEnvelope struct {
	Invoices []Invoice `json:"Invoices"`
}
