package ar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CreateDocument validates and registers a new document. Documents start as
// BORRADOR unless input.Post is set, with balance equal to the original amount.
func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (Document, error) {
	input.DocumentNumber = strings.TrimSpace(input.DocumentNumber)
	input.CurrencyCode = strings.ToUpper(strings.TrimSpace(input.CurrencyCode))
	if err := validateDocumentInput(input); err != nil {
		return Document{}, err
	}

	if _, err := s.loadCustomer(ctx, input.CustomerID); err != nil {
		return Document{}, err
	}
	existing, err := s.repo.ListDocuments(ctx, DocumentFilter{CustomerID: input.CustomerID})
	if err != nil {
		return Document{}, storeError("list documents", err)
	}
	for _, doc := range existing {
		if strings.EqualFold(doc.DocumentNumber, input.DocumentNumber) {
			return Document{}, docError(ErrInvalidDocument, doc.ID, "document_number",
				fmt.Sprintf("number %s already used for customer %d", input.DocumentNumber, input.CustomerID))
		}
	}

	status := StatusDraft
	if input.Post {
		status = StatusPending
	}
	now := s.now()
	doc, err := s.repo.CreateDocument(ctx, Document{
		CustomerID:     input.CustomerID,
		DocumentType:   input.DocumentType,
		DocumentNumber: input.DocumentNumber,
		DocumentDate:   input.DocumentDate,
		DueDate:        input.DueDate,
		CurrencyCode:   input.CurrencyCode,
		OriginalAmount: input.OriginalAmount,
		BalanceAmount:  input.OriginalAmount,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Document{}, storeError("create document", err)
	}
	if status == StatusPending {
		s.invalidateAging(ctx)
	}
	s.logger.Info("document created",
		slog.Int64("document_id", doc.ID),
		slog.String("type", string(doc.DocumentType)),
		slog.String("status", string(doc.Status)),
	)
	return doc, nil
}

func validateDocumentInput(input CreateDocumentInput) error {
	switch {
	case input.CustomerID <= 0:
		return docError(ErrInvalidDocument, 0, "customer_id", "customer required")
	case !input.DocumentType.Valid():
		return docError(ErrInvalidDocument, 0, "document_type", fmt.Sprintf("unknown type %q", input.DocumentType))
	case input.DocumentNumber == "":
		return docError(ErrInvalidDocument, 0, "document_number", "number required")
	case input.DocumentDate.IsZero():
		return docError(ErrInvalidDocument, 0, "document_date", "date required")
	case len(input.CurrencyCode) != 3:
		return docError(ErrInvalidDocument, 0, "currency_code", "ISO 4217 code required")
	case !input.OriginalAmount.IsPositive():
		return docError(ErrInvalidAmount, 0, "original_amount", "amount must be positive")
	}
	if input.DueDate != nil {
		if input.DocumentType.IsCredit() {
			return docError(ErrInvalidDocument, 0, "due_date", "due date only applies to debit documents")
		}
		if input.DueDate.Before(dateOnly(input.DocumentDate)) {
			return docError(ErrInvalidDocument, 0, "due_date", "due date before document date")
		}
	}
	return nil
}

// PostDocument moves a draft document to PENDIENTE.
func (s *Service) PostDocument(ctx context.Context, id int64) (Document, error) {
	doc, err := s.transitionDocument(ctx, id, func(ctx context.Context, doc Document, tx TxStore) (DocumentStatus, string, error) {
		if doc.Status != StatusDraft {
			return "", "", docError(ErrInvalidStatusTransition, doc.ID, "status",
				fmt.Sprintf("%s -> %s", doc.Status, StatusPending))
		}
		return StatusPending, "", nil
	})
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("document posted", slog.Int64("document_id", id))
	return doc, nil
}

// CancelDocument cancels a draft or pending document that no application touches.
func (s *Service) CancelDocument(ctx context.Context, input CancelDocumentInput) (Document, error) {
	doc, err := s.transitionDocument(ctx, input.DocumentID, func(ctx context.Context, doc Document, tx TxStore) (DocumentStatus, string, error) {
		if doc.Status != StatusDraft && doc.Status != StatusPending {
			return "", "", docError(ErrInvalidStatusTransition, doc.ID, "status",
				fmt.Sprintf("%s -> %s", doc.Status, StatusCancelled))
		}
		count, err := tx.CountApplications(ctx, doc.ID)
		if err != nil {
			return "", "", storeError("count applications", err)
		}
		if count > 0 || !doc.BalanceAmount.Equal(doc.OriginalAmount) {
			return "", "", docError(ErrInvalidStatusTransition, doc.ID, "status", "document has applications")
		}
		return StatusCancelled, strings.TrimSpace(input.Reason), nil
	})
	if err != nil {
		return Document{}, err
	}
	s.logger.Info("document cancelled", slog.Int64("document_id", input.DocumentID))
	return doc, nil
}

type transitionFunc func(ctx context.Context, doc Document, tx TxStore) (DocumentStatus, string, error)

func (s *Service) transitionDocument(ctx context.Context, id int64, decide transitionFunc) (Document, error) {
	current, err := s.loadDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	release, err := s.lockCustomer(ctx, current.CustomerID)
	if err != nil {
		return Document{}, err
	}
	defer release()

	var updated Document
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		docs, err := tx.LockDocuments(ctx, []int64{id})
		if err != nil {
			return storeError("lock document", err)
		}
		doc, ok := docs[id]
		if !ok {
			return docError(ErrDocumentNotFound, id, "", "")
		}
		status, reason, err := decide(ctx, doc, tx)
		if err != nil {
			return err
		}
		if err := tx.UpdateDocumentStatus(ctx, id, status, reason); err != nil {
			return storeError("update status", err)
		}
		doc.Status = status
		doc.CancelReason = reason
		doc.UpdatedAt = s.now()
		updated = doc
		return nil
	})
	if err != nil {
		return Document{}, storeError("transition document", err)
	}
	s.invalidateAging(ctx)
	return updated, nil
}

// GetDocument returns a single document.
func (s *Service) GetDocument(ctx context.Context, id int64) (Document, error) {
	return s.loadDocument(ctx, id)
}

// ListDocuments returns documents matching filter.
func (s *Service) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	docs, err := s.repo.ListDocuments(ctx, filter)
	if err != nil {
		return nil, storeError("list documents", err)
	}
	return docs, nil
}
