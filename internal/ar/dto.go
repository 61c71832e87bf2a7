package ar

import (
	"time"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

const dateLayout = "2006-01-02"

type createDocumentRequest struct {
	CustomerID     int64       `json:"customer_id" validate:"required,gt=0"`
	DocumentType   string      `json:"document_type" validate:"required,oneof=INVOICE DEBIT_NOTE CREDIT_NOTE RECEIPT RETENTION ADJUSTMENT"`
	DocumentNumber string      `json:"document_number" validate:"required,max=64"`
	DocumentDate   string      `json:"document_date" validate:"required,datetime=2006-01-02"`
	DueDate        string      `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	CurrencyCode   string      `json:"currency_code" validate:"required,len=3,alpha"`
	OriginalAmount money.Money `json:"original_amount"`
	Post           bool        `json:"post"`
}

func (r createDocumentRequest) input() CreateDocumentInput {
	in := CreateDocumentInput{
		CustomerID:     r.CustomerID,
		DocumentType:   DocumentType(r.DocumentType),
		DocumentNumber: r.DocumentNumber,
		DocumentDate:   mustDate(r.DocumentDate),
		CurrencyCode:   r.CurrencyCode,
		OriginalAmount: r.OriginalAmount,
		Post:           r.Post,
	}
	if r.DueDate != "" {
		due := mustDate(r.DueDate)
		in.DueDate = &due
	}
	return in
}

type allocationRequest struct {
	TargetDocumentID int64       `json:"target_document_id" validate:"required,gt=0"`
	Amount           money.Money `json:"amount"`
}

type applyCreditRequest struct {
	ApplicationDate string              `json:"application_date" validate:"required,datetime=2006-01-02"`
	Reference       string              `json:"reference" validate:"max=128"`
	Notes           string              `json:"notes" validate:"max=1024"`
	Allocations     []allocationRequest `json:"allocations" validate:"required,min=1,dive"`
}

func (r applyCreditRequest) input(sourceID int64) ApplyCreditInput {
	allocations := make([]Allocation, len(r.Allocations))
	for i, a := range r.Allocations {
		allocations[i] = Allocation{TargetDocumentID: a.TargetDocumentID, Amount: a.Amount}
	}
	return ApplyCreditInput{
		SourceDocumentID: sourceID,
		Allocations:      allocations,
		ApplicationDate:  mustDate(r.ApplicationDate),
		Reference:        r.Reference,
		Notes:            r.Notes,
	}
}

type cancelDocumentRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type reverseApplicationRequest struct {
	ReversalDate string `json:"reversal_date" validate:"required,datetime=2006-01-02"`
	Reason       string `json:"reason" validate:"required,max=512"`
}

type creditStatusRequest struct {
	CreditStatus string `json:"credit_status" validate:"required,oneof=ACTIVE ON_HOLD BLOCKED"`
}

type applicationsResponse struct {
	Applications []Application `json:"applications"`
}

type documentsResponse struct {
	Documents []Document `json:"documents"`
}

type allocationPlanResponse struct {
	SourceDocumentID int64        `json:"source_document_id"`
	Allocations      []Allocation `json:"allocations"`
}

type problemResponse struct {
	Title      string       `json:"title"`
	Status     int          `json:"status"`
	Detail     string       `json:"detail,omitempty"`
	Kind       string       `json:"kind,omitempty"`
	DocumentID int64        `json:"document_id,omitempty"`
	Field      string       `json:"field,omitempty"`
	Requested  *money.Money `json:"requested,omitempty"`
	Available  *money.Money `json:"available,omitempty"`
}

// mustDate parses a date already checked by the validator.
func mustDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}
