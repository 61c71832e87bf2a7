package ar

import (
	"context"
	"sort"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// PlanOldestDueFirst proposes allocations of sourceBalance across targets,
// earliest due date first. Targets without a due date go last; ties fall back
// to document date, then id. Only active debit documents with a positive
// balance are considered. The result is advisory and is never reordered by ApplyCredit.
func PlanOldestDueFirst(sourceBalance money.Money, targets []Document) []Allocation {
	candidates := make([]Document, 0, len(targets))
	for _, doc := range targets {
		if doc.DocumentType.IsDebit() && doc.Status == StatusPending && doc.BalanceAmount.IsPositive() {
			candidates = append(candidates, doc)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.DueDate == nil && b.DueDate != nil:
			return false
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case !a.DocumentDate.Equal(b.DocumentDate):
			return a.DocumentDate.Before(b.DocumentDate)
		}
		return a.ID < b.ID
	})

	remaining := sourceBalance
	var plan []Allocation
	for _, doc := range candidates {
		if !remaining.IsPositive() {
			break
		}
		amount := money.Min(remaining, doc.BalanceAmount)
		plan = append(plan, Allocation{TargetDocumentID: doc.ID, Amount: amount})
		remaining = remaining.Sub(amount)
	}
	return plan
}

// SuggestAllocations plans how the source document's balance could settle the
// customer's open debit documents.
func (s *Service) SuggestAllocations(ctx context.Context, sourceDocumentID int64) ([]Allocation, error) {
	source, err := s.loadDocument(ctx, sourceDocumentID)
	if err != nil {
		return nil, err
	}
	if !source.DocumentType.IsCredit() {
		return nil, docError(ErrInvalidDocumentRole, source.ID, "document_type", string(source.DocumentType))
	}
	if !source.Status.Active() {
		return nil, docError(ErrDocumentNotApplicable, source.ID, "status", string(source.Status))
	}
	if err := zeroBalanceError(source); err != nil {
		return nil, err
	}
	targets, err := s.repo.ListDocuments(ctx, DocumentFilter{
		CustomerID: source.CustomerID,
		Types:      DebitTypes,
		Statuses:   []DocumentStatus{StatusPending},
	})
	if err != nil {
		return nil, storeError("list open documents", err)
	}
	var sameCurrency []Document
	for _, doc := range targets {
		if doc.CurrencyCode == source.CurrencyCode {
			sameCurrency = append(sameCurrency, doc)
		}
	}
	return PlanOldestDueFirst(source.BalanceAmount, sameCurrency), nil
}
