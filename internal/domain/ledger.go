package domain

import "time"

// Invoice is a ledger invoice row as seen by the risk engine.
// Invoices are written by the bookkeeping side; the engine only reads
// them for company aggregation and duplicate detection.
type Invoice struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenantId"`
	ClientCompanyID string `json:"clientCompanyId"`

	// DocumentID links the invoice to its source document, if known.
	DocumentID string `json:"documentId,omitempty"`

	// ExternalNumber is the counterparty-assigned invoice number.
	ExternalNumber string `json:"externalNumber,omitempty"`

	Counterparty string  `json:"counterparty,omitempty"`
	Amount       float64 `json:"amount"`
	VATRate      float64 `json:"vatRate"`

	IssueDate time.Time `json:"issueDate"`
	DueDate   time.Time `json:"dueDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Transaction is a booked ledger transaction. Positive amounts are
// inflows for the client company, negative amounts outflows.
type Transaction struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenantId"`
	ClientCompanyID string `json:"clientCompanyId"`

	Counterparty string  `json:"counterparty,omitempty"`
	Amount       float64 `json:"amount"`
	VATRate      float64 `json:"vatRate,omitempty"`

	BookedAt  time.Time `json:"bookedAt"`
	CreatedAt time.Time `json:"createdAt"`
}
