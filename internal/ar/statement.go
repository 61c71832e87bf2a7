package ar

import (
	"context"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// StatementEntryKind distinguishes document lines from informational application lines.
type StatementEntryKind string

const (
	EntryDocument    StatementEntryKind = "DOCUMENT"
	EntryApplication StatementEntryKind = "APPLICATION"
)

// StatementEntry is one line of a customer statement.
type StatementEntry struct {
	Kind            StatementEntryKind `json:"kind"`
	Date            time.Time          `json:"date"`
	DocumentID      int64              `json:"document_id,omitempty"`
	ApplicationID   int64              `json:"application_id,omitempty"`
	DocumentType    DocumentType       `json:"document_type,omitempty"`
	ApplicationKind ApplicationKind    `json:"application_kind,omitempty"`
	Reference       string             `json:"reference,omitempty"`
	Amount          money.Money        `json:"amount"`
	BalanceAfter    money.Money        `json:"balance_after"`
}

// Statement is a running-balance statement over [From, To].
type Statement struct {
	CustomerID     int64            `json:"customer_id"`
	From           time.Time        `json:"from"`
	To             time.Time        `json:"to"`
	OpeningBalance money.Money      `json:"opening_balance"`
	Entries        []StatementEntry `json:"entries"`
	ClosingBalance money.Money      `json:"closing_balance"`
}

// BuildStatement replays documents and, optionally, applications between from
// and to (both inclusive, by calendar date). Document entries move the running
// balance by their signed original amount; application entries carry the
// applied amount but leave the balance unchanged.
func BuildStatement(customerID int64, documents []Document, applications []Application, from, to time.Time, includeApplications bool) Statement {
	from, to = dateOnly(from), dateOnly(to)
	opening := money.Zero
	entries := make([]StatementEntry, 0, len(documents))

	for _, doc := range documents {
		if doc.CustomerID != customerID || !doc.Status.Active() {
			continue
		}
		day := dateOnly(doc.DocumentDate)
		switch {
		case day.Before(from):
			opening = opening.Add(doc.SignedAmount())
		case !day.After(to):
			entries = append(entries, StatementEntry{
				Kind:         EntryDocument,
				Date:         day,
				DocumentID:   doc.ID,
				DocumentType: doc.DocumentType,
				Reference:    doc.DocumentNumber,
				Amount:       doc.SignedAmount(),
			})
		}
	}

	if includeApplications {
		for _, app := range applications {
			day := dateOnly(app.ApplicationDate)
			if app.CustomerID != customerID || day.Before(from) || day.After(to) {
				continue
			}
			entries = append(entries, StatementEntry{
				Kind:            EntryApplication,
				Date:            day,
				DocumentID:      app.TargetDocumentID,
				ApplicationID:   app.ID,
				ApplicationKind: app.Kind,
				Reference:       app.Reference,
				Amount:          app.Amount,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind == EntryDocument
		}
		if a.Kind == EntryDocument {
			return a.DocumentID < b.DocumentID
		}
		return a.ApplicationID < b.ApplicationID
	})

	balance := opening
	for i := range entries {
		if entries[i].Kind == EntryDocument {
			balance = balance.Add(entries[i].Amount)
		}
		entries[i].BalanceAfter = balance
	}

	return Statement{
		CustomerID:     customerID,
		From:           from,
		To:             to,
		OpeningBalance: opening,
		Entries:        entries,
		ClosingBalance: balance,
	}
}

// StatementRequest scopes a statement.
type StatementRequest struct {
	CustomerID          int64
	From                time.Time
	To                  time.Time
	IncludeApplications bool
}

// BuildStatement loads the customer's active documents and applications up to
// req.To and replays them.
func (s *Service) BuildStatement(ctx context.Context, req StatementRequest) (Statement, error) {
	switch {
	case req.From.IsZero() || req.To.IsZero():
		return Statement{}, docError(ErrInvalidRequest, 0, "from", "from and to dates required")
	case dateOnly(req.To).Before(dateOnly(req.From)):
		return Statement{}, docError(ErrInvalidRequest, 0, "to", "to date before from date")
	}
	if _, err := s.loadCustomer(ctx, req.CustomerID); err != nil {
		return Statement{}, err
	}
	docs, err := s.repo.ListDocuments(ctx, DocumentFilter{
		CustomerID: req.CustomerID,
		Statuses:   []DocumentStatus{StatusPending, StatusPaid},
		DateTo:     dateOnly(req.To),
	})
	if err != nil {
		return Statement{}, storeError("list statement documents", err)
	}
	var apps []Application
	if req.IncludeApplications {
		apps, err = s.repo.ListCustomerApplications(ctx, req.CustomerID)
		if err != nil {
			return Statement{}, storeError("list statement applications", err)
		}
	}
	return BuildStatement(req.CustomerID, docs, apps, req.From, req.To, req.IncludeApplications), nil
}
