package ar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// ApplyCredit applies one credit-type document against one or more debit-type
// documents. Allocations run in the order given; either every allocation is
// committed or none is.
func (s *Service) ApplyCredit(ctx context.Context, input ApplyCreditInput) ([]Application, error) {
	apps, err := s.applyCredit(ctx, input)
	if err != nil {
		s.metrics.observeApply(err)
		s.logger.Warn("apply credit rejected",
			slog.Int64("source_document_id", input.SourceDocumentID),
			slog.String("kind", kindLabel(err)),
			slog.Any("error", err),
		)
		return nil, err
	}
	s.metrics.observeApply(nil)
	total := money.Zero
	for _, app := range apps {
		total = total.Add(app.Amount)
	}
	s.metrics.addApplied(total)
	s.logger.Info("credit applied",
		slog.Int64("source_document_id", input.SourceDocumentID),
		slog.Int("allocations", len(apps)),
		slog.String("amount", total.String()),
	)
	return apps, nil
}

func (s *Service) applyCredit(ctx context.Context, input ApplyCreditInput) ([]Application, error) {
	if err := validateApplyInput(input); err != nil {
		return nil, err
	}
	snapshot, err := s.loadApplyDocuments(ctx, input)
	if err != nil {
		return nil, err
	}
	if _, err := planApplication(snapshot, input); err != nil {
		return nil, err
	}
	source := snapshot[input.SourceDocumentID]
	release, err := s.lockCustomer(ctx, source.CustomerID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var created []Application
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		docs, err := tx.LockDocuments(ctx, applyDocumentIDs(input))
		if err != nil {
			return storeError("lock documents", err)
		}
		plan, err := planApplication(docs, input)
		if err != nil {
			return settledConcurrently(err, snapshot)
		}
		if err := tx.SaveDocumentBalances(ctx, plan.updates); err != nil {
			return storeError("save balances", err)
		}
		created = make([]Application, 0, len(plan.applications))
		for _, app := range plan.applications {
			app.CreatedAt = now
			saved, err := tx.CreateApplication(ctx, app)
			if err != nil {
				return storeError("create application", err)
			}
			created = append(created, saved)
		}
		return nil
	})
	if err != nil {
		return nil, storeError("apply credit", err)
	}
	s.invalidateAging(ctx)
	return created, nil
}

func validateApplyInput(input ApplyCreditInput) error {
	if input.SourceDocumentID <= 0 {
		return docError(ErrInvalidRequest, 0, "source_document_id", "source document required")
	}
	if len(input.Allocations) == 0 {
		return docError(ErrInvalidRequest, input.SourceDocumentID, "allocations", "at least one allocation required")
	}
	if input.ApplicationDate.IsZero() {
		return docError(ErrInvalidRequest, input.SourceDocumentID, "application_date", "application date required")
	}
	for i, alloc := range input.Allocations {
		if alloc.TargetDocumentID <= 0 {
			return docError(ErrInvalidRequest, 0, fmt.Sprintf("allocations[%d].target_document_id", i), "target document required")
		}
		if !alloc.Amount.IsPositive() {
			return docError(ErrInvalidAmount, alloc.TargetDocumentID, fmt.Sprintf("allocations[%d].amount", i), "amount must be positive")
		}
	}
	return nil
}

// loadApplyDocuments reads the source and targets without locking. Missing
// documents are left out so planApplication reports them in request order.
func (s *Service) loadApplyDocuments(ctx context.Context, input ApplyCreditInput) (map[int64]Document, error) {
	docs := make(map[int64]Document)
	for _, id := range applyDocumentIDs(input) {
		doc, err := s.loadDocument(ctx, id)
		if errors.Is(err, ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs[id] = doc
	}
	return docs, nil
}

// settledConcurrently turns a zero-balance rejection into
// ErrConcurrentModification when the document still had a balance before the
// locks were taken.
func settledConcurrently(err error, snapshot map[int64]Document) error {
	var le *LedgerError
	if !errors.As(err, &le) || le.Kind != ErrDocumentNotApplicable || le.Field != "balance_amount" {
		return err
	}
	if before, ok := snapshot[le.DocumentID]; ok && before.BalanceAmount.IsPositive() {
		return docError(ErrConcurrentModification, le.DocumentID, "balance_amount", "settled by a concurrent application")
	}
	return err
}

// zeroBalanceError rejects documents with nothing left to apply.
func zeroBalanceError(doc Document) error {
	if doc.BalanceAmount.IsPositive() {
		return nil
	}
	return docError(ErrDocumentNotApplicable, doc.ID, "balance_amount", "zero balance")
}

// applyDocumentIDs returns the source and all targets, unique and ascending,
// which is the lock acquisition order.
func applyDocumentIDs(input ApplyCreditInput) []int64 {
	seen := map[int64]struct{}{input.SourceDocumentID: {}}
	ids := []int64{input.SourceDocumentID}
	for _, alloc := range input.Allocations {
		if _, ok := seen[alloc.TargetDocumentID]; ok {
			continue
		}
		seen[alloc.TargetDocumentID] = struct{}{}
		ids = append(ids, alloc.TargetDocumentID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type applicationPlan struct {
	updates      []BalanceUpdate
	applications []Application
}

// planApplication validates a request against a locked snapshot and derives
// the balance updates and application records. It never mutates docs.
func planApplication(docs map[int64]Document, input ApplyCreditInput) (applicationPlan, error) {
	source, ok := docs[input.SourceDocumentID]
	if !ok {
		return applicationPlan{}, docError(ErrDocumentNotFound, input.SourceDocumentID, "", "")
	}
	if !source.DocumentType.IsCredit() {
		return applicationPlan{}, docError(ErrInvalidDocumentRole, source.ID, "document_type",
			fmt.Sprintf("%s cannot be applied as a source", source.DocumentType))
	}
	if !source.Status.Active() {
		return applicationPlan{}, docError(ErrDocumentNotApplicable, source.ID, "status", string(source.Status))
	}
	if err := zeroBalanceError(source); err != nil {
		return applicationPlan{}, err
	}

	for _, alloc := range input.Allocations {
		target, ok := docs[alloc.TargetDocumentID]
		if !ok {
			return applicationPlan{}, docError(ErrDocumentNotFound, alloc.TargetDocumentID, "", "")
		}
		if !target.DocumentType.IsDebit() {
			return applicationPlan{}, docError(ErrInvalidDocumentRole, target.ID, "document_type",
				fmt.Sprintf("%s cannot be a target", target.DocumentType))
		}
		if target.CustomerID != source.CustomerID {
			return applicationPlan{}, docError(ErrCustomerMismatch, target.ID, "customer_id",
				fmt.Sprintf("target customer %d, source customer %d", target.CustomerID, source.CustomerID))
		}
		if target.CurrencyCode != source.CurrencyCode {
			return applicationPlan{}, docError(ErrCurrencyMismatch, target.ID, "currency_code",
				fmt.Sprintf("target %s, source %s", target.CurrencyCode, source.CurrencyCode))
		}
		if !target.Status.Active() {
			return applicationPlan{}, docError(ErrDocumentNotApplicable, target.ID, "status", string(target.Status))
		}
		if err := zeroBalanceError(target); err != nil {
			return applicationPlan{}, err
		}
	}

	requested := make(map[int64]money.Money, len(input.Allocations))
	total := money.Zero
	for _, alloc := range input.Allocations {
		target := docs[alloc.TargetDocumentID]
		cumulative := requested[target.ID].Add(alloc.Amount)
		if cumulative.GreaterThan(target.BalanceAmount) {
			return applicationPlan{}, balanceError(ErrExceedsTargetBalance, target.ID, cumulative, target.BalanceAmount)
		}
		requested[target.ID] = cumulative
		total = total.Add(alloc.Amount)
	}
	if total.GreaterThan(source.BalanceAmount) {
		return applicationPlan{}, balanceError(ErrExceedsSourceBalance, source.ID, total, source.BalanceAmount)
	}

	plan := applicationPlan{}
	for id, amount := range requested {
		balance := docs[id].BalanceAmount.Sub(amount)
		plan.updates = append(plan.updates, BalanceUpdate{DocumentID: id, BalanceAmount: balance, Status: statusForBalance(balance)})
	}
	sourceBalance := source.BalanceAmount.Sub(total)
	plan.updates = append(plan.updates, BalanceUpdate{DocumentID: source.ID, BalanceAmount: sourceBalance, Status: statusForBalance(sourceBalance)})
	sort.Slice(plan.updates, func(i, j int) bool { return plan.updates[i].DocumentID < plan.updates[j].DocumentID })
	if err := checkBounds(docs, plan.updates); err != nil {
		return applicationPlan{}, err
	}

	for _, alloc := range input.Allocations {
		plan.applications = append(plan.applications, Application{
			Kind:              ApplicationRegular,
			AppliedDocumentID: source.ID,
			TargetDocumentID:  alloc.TargetDocumentID,
			CustomerID:        source.CustomerID,
			Amount:            alloc.Amount,
			ApplicationDate:   input.ApplicationDate,
			Reference:         input.Reference,
			Notes:             input.Notes,
		})
	}
	return plan, nil
}

// checkBounds guards 0 <= balance <= original for every update.
func checkBounds(docs map[int64]Document, updates []BalanceUpdate) error {
	for _, u := range updates {
		doc := docs[u.DocumentID]
		if u.BalanceAmount.IsNegative() || u.BalanceAmount.GreaterThan(doc.OriginalAmount) {
			return &LedgerError{
				Kind:       ErrInvalidAmount,
				DocumentID: u.DocumentID,
				Field:      "balance_amount",
				Detail:     fmt.Sprintf("balance %s outside [0, %s]", u.BalanceAmount, doc.OriginalAmount),
			}
		}
	}
	return nil
}

// ListApplicationsFor lists applications where documentID plays role.
func (s *Service) ListApplicationsFor(ctx context.Context, documentID int64, role ApplicationRole) ([]Application, error) {
	if !role.Valid() {
		return nil, docError(ErrInvalidRequest, documentID, "role", fmt.Sprintf("unknown role %q", role))
	}
	if _, err := s.loadDocument(ctx, documentID); err != nil {
		return nil, err
	}
	apps, err := s.repo.ListApplications(ctx, documentID, role)
	if err != nil {
		return nil, storeError("list applications", err)
	}
	return apps, nil
}

// ReverseApplication records a compensating application that restores the
// balances moved by an earlier one. The original record is left untouched.
func (s *Service) ReverseApplication(ctx context.Context, input ReverseApplicationInput) (Application, error) {
	app, err := s.reverseApplication(ctx, input)
	if err != nil {
		s.metrics.observeReversal(err)
		s.logger.Warn("reverse application rejected",
			slog.Int64("application_id", input.ApplicationID),
			slog.String("kind", kindLabel(err)),
			slog.Any("error", err),
		)
		return Application{}, err
	}
	s.metrics.observeReversal(nil)
	s.logger.Info("application reversed",
		slog.Int64("application_id", input.ApplicationID),
		slog.Int64("reversal_id", app.ID),
		slog.String("amount", app.Amount.String()),
	)
	return app, nil
}

func (s *Service) reverseApplication(ctx context.Context, input ReverseApplicationInput) (Application, error) {
	if input.ApplicationID <= 0 {
		return Application{}, docError(ErrInvalidRequest, 0, "application_id", "application required")
	}
	if input.ReversalDate.IsZero() {
		return Application{}, docError(ErrInvalidRequest, 0, "reversal_date", "reversal date required")
	}
	original, err := s.repo.GetApplication(ctx, input.ApplicationID)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			return Application{}, &LedgerError{Kind: ErrApplicationNotFound, Detail: fmt.Sprintf("application %d", input.ApplicationID)}
		}
		return Application{}, storeError("load application", err)
	}
	if original.Kind == ApplicationReversal {
		return Application{}, &LedgerError{Kind: ErrApplicationNotReversible, Detail: "application is itself a reversal"}
	}

	release, err := s.lockCustomer(ctx, original.CustomerID)
	if err != nil {
		return Application{}, err
	}
	defer release()

	var reversal Application
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		exists, err := tx.ReversalExists(ctx, original.ID)
		if err != nil {
			return storeError("check reversal", err)
		}
		if exists {
			return &LedgerError{Kind: ErrApplicationNotReversible, Detail: fmt.Sprintf("application %d already reversed", original.ID)}
		}
		ids := []int64{original.AppliedDocumentID, original.TargetDocumentID}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		docs, err := tx.LockDocuments(ctx, ids)
		if err != nil {
			return storeError("lock documents", err)
		}
		var updates []BalanceUpdate
		for _, id := range ids {
			doc, ok := docs[id]
			if !ok {
				return docError(ErrDocumentNotFound, id, "", "")
			}
			if doc.Status == StatusCancelled {
				return docError(ErrDocumentNotApplicable, id, "status", string(doc.Status))
			}
			restored := doc.BalanceAmount.Add(original.Amount)
			if restored.GreaterThan(doc.OriginalAmount) {
				return &LedgerError{
					Kind:       ErrApplicationNotReversible,
					DocumentID: id,
					Field:      "balance_amount",
					Detail:     fmt.Sprintf("restored balance %s exceeds original %s", restored, doc.OriginalAmount),
				}
			}
			updates = append(updates, BalanceUpdate{DocumentID: id, BalanceAmount: restored, Status: statusForBalance(restored)})
		}
		if err := tx.SaveDocumentBalances(ctx, updates); err != nil {
			return storeError("save balances", err)
		}
		reversesID := original.ID
		reversal, err = tx.CreateApplication(ctx, Application{
			Kind:                  ApplicationReversal,
			AppliedDocumentID:     original.AppliedDocumentID,
			TargetDocumentID:      original.TargetDocumentID,
			CustomerID:            original.CustomerID,
			Amount:                original.Amount,
			ApplicationDate:       input.ReversalDate,
			Reference:             fmt.Sprintf("REV-%d", original.ID),
			Notes:                 input.Reason,
			ReversesApplicationID: &reversesID,
			CreatedAt:             s.now(),
		})
		if err != nil {
			return storeError("create reversal", err)
		}
		return nil
	})
	if err != nil {
		return Application{}, storeError("reverse application", err)
	}
	s.invalidateAging(ctx)
	return reversal, nil
}
