package ar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// HighUsageThreshold is the usage ratio from which a customer is reported as high usage.
var HighUsageThreshold = decimal.RequireFromString("0.80")

// Exposure is the descriptive credit position of a customer. It never
// decides CreditStatus, which stays operator-controlled.
type Exposure struct {
	CustomerID      int64           `json:"customer_id"`
	CreditLimit     money.Money     `json:"credit_limit"`
	CreditUsed      money.Money     `json:"credit_used"`
	CreditOnHold    money.Money     `json:"credit_on_hold"`
	AvailableCredit money.Money     `json:"available_credit"`
	UsageRatio      decimal.Decimal `json:"usage_ratio"`
	HighUsage       bool            `json:"high_usage"`
	CreditStatus    CreditStatus    `json:"credit_status"`
}

// ComputeExposure derives available credit and usage from the customer's figures.
func ComputeExposure(c Customer) Exposure {
	committed := c.CreditUsed.Add(c.CreditOnHold)
	usage := ratio(committed, c.CreditLimit)
	return Exposure{
		CustomerID:      c.ID,
		CreditLimit:     c.CreditLimit,
		CreditUsed:      c.CreditUsed,
		CreditOnHold:    c.CreditOnHold,
		AvailableCredit: c.CreditLimit.Sub(committed).ClampZero(),
		UsageRatio:      usage,
		HighUsage:       usage.GreaterThanOrEqual(HighUsageThreshold),
		CreditStatus:    c.CreditStatus,
	}
}

// CreditUsedFromLedger nets open debit balances against unapplied credit balances.
func CreditUsedFromLedger(documents []Document) money.Money {
	used := money.Zero
	for _, doc := range documents {
		if doc.Status != StatusPending {
			continue
		}
		switch {
		case doc.DocumentType.IsDebit():
			used = used.Add(doc.BalanceAmount)
		case doc.DocumentType.IsCredit():
			used = used.Sub(doc.BalanceAmount)
		}
	}
	return used.ClampZero()
}

// CheckCredit reports whether amount of new credit may be extended to the customer.
func CheckCredit(c Customer, amount money.Money) error {
	if !c.IsActive || c.CreditStatus == CreditBlocked || c.CreditStatus == CreditOnHold {
		return &LedgerError{Kind: ErrCreditBlocked, Field: "credit_status", Detail: fmt.Sprintf("customer %d is %s", c.ID, c.CreditStatus)}
	}
	available := ComputeExposure(c).AvailableCredit
	if amount.GreaterThan(available) {
		return &LedgerError{Kind: ErrCreditLimitExceeded, Field: "credit_limit", Requested: &amount, Available: &available}
	}
	return nil
}

func (s *Service) loadCustomer(ctx context.Context, id int64) (Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return Customer{}, &LedgerError{Kind: ErrCustomerNotFound, Detail: fmt.Sprintf("customer %d", id)}
		}
		return Customer{}, storeError("load customer", err)
	}
	return customer, nil
}

// CustomerExposure loads a customer and recomputes CreditUsed from its open documents.
func (s *Service) CustomerExposure(ctx context.Context, customerID int64) (Exposure, error) {
	customer, err := s.customerWithLedgerUsage(ctx, customerID)
	if err != nil {
		return Exposure{}, err
	}
	return ComputeExposure(customer), nil
}

func (s *Service) customerWithLedgerUsage(ctx context.Context, customerID int64) (Customer, error) {
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return Customer{}, err
	}
	docs, err := s.repo.ListDocuments(ctx, DocumentFilter{
		CustomerID: customerID,
		Statuses:   []DocumentStatus{StatusPending},
	})
	if err != nil {
		return Customer{}, storeError("list exposure documents", err)
	}
	customer.CreditUsed = CreditUsedFromLedger(docs)
	return customer, nil
}

// CreditCheck is the outcome of asking whether new credit may be extended.
type CreditCheck struct {
	CustomerID int64       `json:"customer_id"`
	Amount     money.Money `json:"amount"`
	Approved   bool        `json:"approved"`
	Reason     string      `json:"reason,omitempty"`
	Exposure   Exposure    `json:"exposure"`
}

// CheckCustomerCredit runs CheckCredit against the customer's ledger-derived
// exposure. A refusal is a result, not an error; it never changes CreditStatus.
func (s *Service) CheckCustomerCredit(ctx context.Context, customerID int64, amount money.Money) (CreditCheck, error) {
	if !amount.IsPositive() {
		return CreditCheck{}, &LedgerError{Kind: ErrInvalidAmount, Field: "amount", Detail: "amount must be positive"}
	}
	customer, err := s.customerWithLedgerUsage(ctx, customerID)
	if err != nil {
		return CreditCheck{}, err
	}
	check := CreditCheck{CustomerID: customerID, Amount: amount, Approved: true, Exposure: ComputeExposure(customer)}
	if err := CheckCredit(customer, amount); err != nil {
		check.Approved = false
		check.Reason = kindLabel(err)
	}
	return check, nil
}

// SetCreditStatus is the operator path for changing a customer's credit status.
// Any valid status is accepted regardless of computed usage.
func (s *Service) SetCreditStatus(ctx context.Context, customerID int64, status CreditStatus) (Customer, error) {
	if !status.Valid() {
		return Customer{}, &LedgerError{Kind: ErrCreditStatusInvalid, Field: "credit_status", Detail: string(status)}
	}
	customer, err := s.loadCustomer(ctx, customerID)
	if err != nil {
		return Customer{}, err
	}
	if err := s.repo.UpdateCreditStatus(ctx, customerID, status); err != nil {
		return Customer{}, storeError("update credit status", err)
	}
	s.logger.Info("credit status changed",
		slog.Int64("customer_id", customerID),
		slog.String("from", string(customer.CreditStatus)),
		slog.String("to", string(status)),
	)
	customer.CreditStatus = status
	return customer, nil
}

// CustomerSummary combines exposure and aging for one customer.
type CustomerSummary struct {
	Exposure Exposure     `json:"exposure"`
	Aging    AgingSummary `json:"aging"`
}

// CustomerSummary loads exposure and aging for a customer concurrently.
func (s *Service) CustomerSummary(ctx context.Context, customerID int64, asOf time.Time) (CustomerSummary, error) {
	var summary CustomerSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		exposure, err := s.CustomerExposure(gctx, customerID)
		summary.Exposure = exposure
		return err
	})
	g.Go(func() error {
		aging, err := s.AgingReport(gctx, AgingRequest{CustomerID: customerID, AsOf: asOf})
		summary.Aging = aging
		return err
	})
	if err := g.Wait(); err != nil {
		return CustomerSummary{}, err
	}
	return summary, nil
}
