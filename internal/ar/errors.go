package ar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

// Error kinds. Match with errors.Is; use errors.As with *LedgerError for details.
var (
	ErrDocumentNotFound         = errors.New("ar: document not found")
	ErrCustomerNotFound         = errors.New("ar: customer not found")
	ErrApplicationNotFound      = errors.New("ar: application not found")
	ErrCustomerMismatch         = errors.New("ar: documents belong to different customers")
	ErrCurrencyMismatch         = errors.New("ar: documents use different currencies")
	ErrInvalidDocumentRole      = errors.New("ar: invalid document role")
	ErrDocumentNotApplicable    = errors.New("ar: document not applicable")
	ErrExceedsTargetBalance     = errors.New("ar: allocation exceeds target balance")
	ErrExceedsSourceBalance     = errors.New("ar: allocations exceed source balance")
	ErrInvalidAmount            = errors.New("ar: invalid amount")
	ErrConcurrentModification   = errors.New("ar: concurrent modification")
	ErrStoreUnavailable         = errors.New("ar: store unavailable")
	ErrApplicationNotReversible = errors.New("ar: application not reversible")
	ErrInvalidStatusTransition  = errors.New("ar: invalid status transition")
	ErrInvalidDocument          = errors.New("ar: invalid document")
	ErrInvalidRequest           = errors.New("ar: invalid request")
	ErrCreditStatusInvalid      = errors.New("ar: invalid credit status")
	ErrCreditBlocked            = errors.New("ar: customer credit blocked")
	ErrCreditLimitExceeded      = errors.New("ar: credit limit exceeded")
)

// LedgerError identifies which invariant failed and on which document.
type LedgerError struct {
	Kind       error
	DocumentID int64
	Field      string
	Available  *money.Money
	Requested  *money.Money
	Detail     string
	Err        error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.DocumentID != 0 {
		fmt.Fprintf(&b, ": document %d", e.DocumentID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	if e.Requested != nil && e.Available != nil {
		fmt.Fprintf(&b, " (requested %s, available %s)", e.Requested, e.Available)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *LedgerError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func docError(kind error, documentID int64, field, detail string) *LedgerError {
	return &LedgerError{Kind: kind, DocumentID: documentID, Field: field, Detail: detail}
}

func balanceError(kind error, documentID int64, requested, available money.Money) *LedgerError {
	return &LedgerError{
		Kind:       kind,
		DocumentID: documentID,
		Field:      "balance_amount",
		Requested:  &requested,
		Available:  &available,
	}
}

// storeError classifies a repository failure. Typed ledger errors and the
// concurrency sentinel pass through; anything else is a store outage.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	for _, kind := range []error{ErrConcurrentModification, ErrDocumentNotFound, ErrCustomerNotFound, ErrApplicationNotFound} {
		if errors.Is(err, kind) {
			return &LedgerError{Kind: kind, Detail: op, Err: unwrapKind(err, kind)}
		}
	}
	return &LedgerError{Kind: ErrStoreUnavailable, Detail: op, Err: err}
}

func unwrapKind(err, kind error) error {
	if err == kind {
		return nil
	}
	return err
}

// ErrorKind returns the sentinel for err, or nil when err is not a ledger error.
func ErrorKind(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}

var kindLabels = map[error]string{
	ErrDocumentNotFound:         "document_not_found",
	ErrCustomerNotFound:         "customer_not_found",
	ErrApplicationNotFound:      "application_not_found",
	ErrCustomerMismatch:         "customer_mismatch",
	ErrCurrencyMismatch:         "currency_mismatch",
	ErrInvalidDocumentRole:      "invalid_document_role",
	ErrDocumentNotApplicable:    "document_not_applicable",
	ErrExceedsTargetBalance:     "exceeds_target_balance",
	ErrExceedsSourceBalance:     "exceeds_source_balance",
	ErrInvalidAmount:            "invalid_amount",
	ErrConcurrentModification:   "concurrent_modification",
	ErrStoreUnavailable:         "store_unavailable",
	ErrApplicationNotReversible: "application_not_reversible",
	ErrInvalidStatusTransition:  "invalid_status_transition",
	ErrInvalidDocument:          "invalid_document",
	ErrInvalidRequest:           "invalid_request",
	ErrCreditStatusInvalid:      "credit_status_invalid",
	ErrCreditBlocked:            "credit_blocked",
	ErrCreditLimitExceeded:      "credit_limit_exceeded",
}

// kindLabel renders a short metric/log label for an error kind.
func kindLabel(err error) string {
	kind := ErrorKind(err)
	if kind == nil {
		for _, k := range []error{ErrConcurrentModification, ErrStoreUnavailable} {
			if errors.Is(err, k) {
				kind = k
				break
			}
		}
	}
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return "unknown"
}
