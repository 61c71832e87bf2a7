package ar

import (
	"time"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// DocumentType enumerates receivable document kinds.
type DocumentType string

const (
	DocumentInvoice    DocumentType = "INVOICE"
	DocumentDebitNote  DocumentType = "DEBIT_NOTE"
	DocumentCreditNote DocumentType = "CREDIT_NOTE"
	DocumentReceipt    DocumentType = "RECEIPT"
	DocumentRetention  DocumentType = "RETENTION"
	DocumentAdjustment DocumentType = "ADJUSTMENT"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t.IsDebit() || t.IsCredit()
}

// IsDebit reports whether documents of this type accumulate exposure and receive applications.
func (t DocumentType) IsDebit() bool {
	return t == DocumentInvoice || t == DocumentDebitNote
}

// IsCredit reports whether documents of this type reduce exposure and fund applications.
func (t DocumentType) IsCredit() bool {
	switch t {
	case DocumentReceipt, DocumentCreditNote, DocumentRetention, DocumentAdjustment:
		return true
	}
	return false
}

// DocumentStatus enumerates document statuses.
type DocumentStatus string

const (
	StatusDraft     DocumentStatus = "BORRADOR"
	StatusPending   DocumentStatus = "PENDIENTE"
	StatusPaid      DocumentStatus = "PAGADO"
	StatusCancelled DocumentStatus = "CANCELADO"
)

// Active reports whether the document takes part in balances, aging and statements.
func (s DocumentStatus) Active() bool {
	return s == StatusPending || s == StatusPaid
}

// statusForBalance derives the settled/pending status from a balance.
func statusForBalance(balance money.Money) DocumentStatus {
	if balance.IsZero() {
		return StatusPaid
	}
	return StatusPending
}

// Document is a customer receivable document.
type Document struct {
	ID             int64          `json:"id"`
	CustomerID     int64          `json:"customer_id"`
	DocumentType   DocumentType   `json:"document_type"`
	DocumentNumber string         `json:"document_number"`
	DocumentDate   time.Time      `json:"document_date"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	CurrencyCode   string         `json:"currency_code"`
	OriginalAmount money.Money    `json:"original_amount"`
	BalanceAmount  money.Money    `json:"balance_amount"`
	Status         DocumentStatus `json:"status"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AppliedAmount is the portion of the original amount already settled.
func (d Document) AppliedAmount() money.Money {
	return d.OriginalAmount.Sub(d.BalanceAmount)
}

// SignedAmount is +original for debit-type and -original for credit-type documents.
func (d Document) SignedAmount() money.Money {
	if d.DocumentType.IsCredit() {
		return d.OriginalAmount.Neg()
	}
	return d.OriginalAmount
}

// ApplicationKind distinguishes regular applications from compensating reversals.
type ApplicationKind string

const (
	ApplicationRegular  ApplicationKind = "APPLICATION"
	ApplicationReversal ApplicationKind = "REVERSAL"
)

// Application records that part of a credit document settled a debit document.
// Records are immutable once created.
type Application struct {
	ID                    int64           `json:"id"`
	Kind                  ApplicationKind `json:"kind"`
	AppliedDocumentID     int64           `json:"applied_document_id"`
	TargetDocumentID      int64           `json:"target_document_id"`
	CustomerID            int64           `json:"customer_id"`
	Amount                money.Money     `json:"amount"`
	ApplicationDate       time.Time       `json:"application_date"`
	Reference             string          `json:"reference,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	ReversesApplicationID *int64          `json:"reverses_application_id,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// ApplicationRole selects which side of an application a document is on.
type ApplicationRole string

const (
	RoleSource ApplicationRole = "source"
	RoleTarget ApplicationRole = "target"
)

// Valid reports whether r is a known role.
func (r ApplicationRole) Valid() bool {
	return r == RoleSource || r == RoleTarget
}

// CreditStatus is the operator-controlled credit standing of a customer.
type CreditStatus string

const (
	CreditActive  CreditStatus = "ACTIVE"
	CreditOnHold  CreditStatus = "ON_HOLD"
	CreditBlocked CreditStatus = "BLOCKED"
)

// Valid reports whether s is a known credit status.
func (s CreditStatus) Valid() bool {
	return s == CreditActive || s == CreditOnHold || s == CreditBlocked
}

// Customer holds identity and credit figures.
type Customer struct {
	ID           int64        `json:"id"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	CreditLimit  money.Money  `json:"credit_limit"`
	CreditUsed   money.Money  `json:"credit_used"`
	CreditOnHold money.Money  `json:"credit_on_hold"`
	CreditStatus CreditStatus `json:"credit_status"`
	IsActive     bool         `json:"is_active"`
}

// --- Input DTOs ---

// Allocation moves Amount from the source document onto TargetDocumentID.
type Allocation struct {
	TargetDocumentID int64       `json:"target_document_id"`
	Amount           money.Money `json:"amount"`
}

// ApplyCreditInput requests application of one credit document.
type ApplyCreditInput struct {
	SourceDocumentID int64
	Allocations      []Allocation
	ApplicationDate  time.Time
	Reference        string
	Notes            string
}

// ReverseApplicationInput requests a compensating reversal.
type ReverseApplicationInput struct {
	ApplicationID int64
	ReversalDate  time.Time
	Reason        string
}

// CreateDocumentInput registers a new document.
type CreateDocumentInput struct {
	CustomerID     int64
	DocumentType   DocumentType
	DocumentNumber string
	DocumentDate   time.Time
	DueDate        *time.Time
	CurrencyCode   string
	OriginalAmount money.Money
	Post           bool
}

// CancelDocumentInput cancels a document that was never applied.
type CancelDocumentInput struct {
	DocumentID int64
	Reason     string
}

// DocumentFilter scopes document listings. Zero values mean no restriction.
type DocumentFilter struct {
	CustomerID int64
	Types      []DocumentType
	Statuses   []DocumentStatus
	DateFrom   time.Time
	DateTo     time.Time
}

// BalanceUpdate is one row of an atomic balance batch.
type BalanceUpdate struct {
	DocumentID    int64
	BalanceAmount money.Money
	Status        DocumentStatus
}

// DebitTypes lists the debit-type documents.
var DebitTypes = []DocumentType{DocumentInvoice, DocumentDebitNote}

// CreditTypes lists the credit-type documents.
var CreditTypes = []DocumentType{DocumentReceipt, DocumentCreditNote, DocumentRetention, DocumentAdjustment}
