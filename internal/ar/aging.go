package ar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// Aging bucket keys.
const (
	BucketCurrent = "current"
	Bucket0To30   = "0-30"
	Bucket31To60  = "31-60"
	Bucket61To90  = "61-90"
	BucketOver90  = "90+"
)

var bucketLabels = []struct {
	key   string
	label string
}{
	{BucketCurrent, "Current"},
	{Bucket0To30, "1-30 days"},
	{Bucket31To60, "31-60 days"},
	{Bucket61To90, "61-90 days"},
	{BucketOver90, "Over 90 days"},
}

// AgingBucket summarises outstanding balances inside a days-overdue range.
type AgingBucket struct {
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	Amount     money.Money     `json:"amount"`
	Count      int             `json:"count"`
	Percentage decimal.Decimal `json:"percentage"`
}

// CustomerAging is the aging breakdown for a single customer.
type CustomerAging struct {
	CustomerID    int64         `json:"customer_id"`
	Buckets       []AgingBucket `json:"buckets"`
	TotalAmount   money.Money   `json:"total_amount"`
	OverdueAmount money.Money   `json:"overdue_amount"`
}

// AgingSummary is the aging of a document scope as of a date.
type AgingSummary struct {
	AsOf          time.Time       `json:"as_of"`
	Buckets       []AgingBucket   `json:"buckets"`
	TotalAmount   money.Money     `json:"total_amount"`
	OverdueAmount money.Money     `json:"overdue_amount"`
	Customers     []CustomerAging `json:"customers"`
}

// Bucket returns the bucket with key, or a zero bucket.
func (s AgingSummary) Bucket(key string) AgingBucket {
	for _, b := range s.Buckets {
		if b.Key == key {
			return b
		}
	}
	return AgingBucket{Key: key}
}

// BucketKey maps days overdue to a bucket key.
func BucketKey(daysOverdue int) string {
	switch {
	case daysOverdue <= 0:
		return BucketCurrent
	case daysOverdue <= 30:
		return Bucket0To30
	case daysOverdue <= 60:
		return Bucket31To60
	case daysOverdue <= 90:
		return Bucket61To90
	default:
		return BucketOver90
	}
}

// DaysOverdue counts whole calendar days from dueDate to asOf. Documents
// without a due date are never overdue.
func DaysOverdue(dueDate *time.Time, asOf time.Time) int {
	if dueDate == nil || dueDate.IsZero() {
		return 0
	}
	return int(dateOnly(asOf).Sub(dateOnly(*dueDate)).Hours() / 24)
}

// dateOnly returns the calendar date of t as UTC midnight.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type agingAccumulator struct {
	amounts map[string]money.Money
	counts  map[string]int
	total   money.Money
	overdue money.Money
}

func newAgingAccumulator() *agingAccumulator {
	return &agingAccumulator{amounts: map[string]money.Money{}, counts: map[string]int{}}
}

func (a *agingAccumulator) add(key string, amount money.Money) {
	a.amounts[key] = a.amounts[key].Add(amount)
	a.counts[key]++
	a.total = a.total.Add(amount)
	if key != BucketCurrent {
		a.overdue = a.overdue.Add(amount)
	}
}

func (a *agingAccumulator) buckets() []AgingBucket {
	out := make([]AgingBucket, 0, len(bucketLabels))
	for _, bl := range bucketLabels {
		amount := a.amounts[bl.key]
		out = append(out, AgingBucket{
			Key:        bl.key,
			Label:      bl.label,
			Amount:     amount,
			Count:      a.counts[bl.key],
			Percentage: ratio(amount, a.total),
		})
	}
	return out
}

// ratio returns part/whole rounded to four places, or zero when whole is zero.
func ratio(part, whole money.Money) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Decimal().DivRound(whole.Decimal(), 4)
}

// ComputeAging buckets outstanding debit documents by days overdue as of asOf.
// Only PENDIENTE debit-type documents with a positive balance contribute.
func ComputeAging(documents []Document, asOf time.Time) AgingSummary {
	portfolio := newAgingAccumulator()
	perCustomer := map[int64]*agingAccumulator{}

	for _, doc := range documents {
		if !doc.DocumentType.IsDebit() || doc.Status != StatusPending || !doc.BalanceAmount.IsPositive() {
			continue
		}
		key := BucketKey(DaysOverdue(doc.DueDate, asOf))
		portfolio.add(key, doc.BalanceAmount)
		acc, ok := perCustomer[doc.CustomerID]
		if !ok {
			acc = newAgingAccumulator()
			perCustomer[doc.CustomerID] = acc
		}
		acc.add(key, doc.BalanceAmount)
	}

	customerIDs := make([]int64, 0, len(perCustomer))
	for id := range perCustomer {
		customerIDs = append(customerIDs, id)
	}
	sort.Slice(customerIDs, func(i, j int) bool { return customerIDs[i] < customerIDs[j] })

	customers := make([]CustomerAging, 0, len(customerIDs))
	for _, id := range customerIDs {
		acc := perCustomer[id]
		customers = append(customers, CustomerAging{
			CustomerID:    id,
			Buckets:       acc.buckets(),
			TotalAmount:   acc.total,
			OverdueAmount: acc.overdue,
		})
	}

	return AgingSummary{
		AsOf:          dateOnly(asOf),
		Buckets:       portfolio.buckets(),
		TotalAmount:   portfolio.total,
		OverdueAmount: portfolio.overdue,
		Customers:     customers,
	}
}

// AgingRequest scopes an aging report. CustomerID zero means the whole portfolio.
type AgingRequest struct {
	CustomerID int64
	AsOf       time.Time
}

// AgingReport loads pending debit documents for the scope and ages them.
// Portfolio reports go through the aging cache when one is configured.
func (s *Service) AgingReport(ctx context.Context, req AgingRequest) (AgingSummary, error) {
	if req.AsOf.IsZero() {
		return AgingSummary{}, docError(ErrInvalidRequest, 0, "as_of", "as-of date required")
	}
	loader := func(ctx context.Context) (interface{}, error) {
		docs, err := s.repo.ListDocuments(ctx, DocumentFilter{
			CustomerID: req.CustomerID,
			Types:      DebitTypes,
			Statuses:   []DocumentStatus{StatusPending},
		})
		if err != nil {
			return nil, storeError("list aging documents", err)
		}
		return ComputeAging(docs, req.AsOf), nil
	}

	if req.CustomerID != 0 || s.cache == nil {
		value, err := loader(ctx)
		if err != nil {
			return AgingSummary{}, err
		}
		return value.(AgingSummary), nil
	}

	var summary AgingSummary
	key, err := s.cache.BuildKey(ctx, "ar_aging", "portfolio", dateOnly(req.AsOf).Format("2006-01-02"))
	if err == nil {
		err = s.cache.FetchJSON(ctx, key, &summary, loader)
	}
	if err == nil {
		return summary, nil
	}
	if ErrorKind(err) != nil {
		return AgingSummary{}, err
	}
	s.logger.Warn("aging cache unavailable, computing directly", slog.Any("error", err))
	value, err := loader(ctx)
	if err != nil {
		return AgingSummary{}, err
	}
	return value.(AgingSummary), nil
}

// RefreshAging drops every cached portfolio report and rebuilds the one for asOf.
func (s *Service) RefreshAging(ctx context.Context, asOf time.Time) (AgingSummary, error) {
	if err := s.cache.Bump(ctx); err != nil {
		return AgingSummary{}, fmt.Errorf("ar: bump aging cache: %w", err)
	}
	return s.AgingReport(ctx, AgingRequest{AsOf: asOf})
}
