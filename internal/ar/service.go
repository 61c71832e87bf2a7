package ar

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-receivables/internal/shared"
)

// Repository defines data access methods for AR documents, applications and customers.
type Repository interface {
	GetDocument(ctx context.Context, id int64) (Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)
	CreateDocument(ctx context.Context, doc Document) (Document, error)
	GetApplication(ctx context.Context, id int64) (Application, error)
	ListApplications(ctx context.Context, documentID int64, role ApplicationRole) ([]Application, error)
	ListCustomerApplications(ctx context.Context, customerID int64) ([]Application, error)
	GetCustomer(ctx context.Context, id int64) (Customer, error)
	UpdateCreditStatus(ctx context.Context, customerID int64, status CreditStatus) error
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore exposes the operations available inside a ledger transaction.
// LockDocuments must take exclusive locks in ascending id order and hold
// them until the transaction ends.
type TxStore interface {
	LockDocuments(ctx context.Context, ids []int64) (map[int64]Document, error)
	SaveDocumentBalances(ctx context.Context, updates []BalanceUpdate) error
	UpdateDocumentStatus(ctx context.Context, id int64, status DocumentStatus, reason string) error
	CreateApplication(ctx context.Context, app Application) (Application, error)
	CountApplications(ctx context.Context, documentID int64) (int, error)
	ReversalExists(ctx context.Context, applicationID int64) (bool, error)
}

// Locker serialises ledger mutations per customer across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(context.Context), error)
}

// Service handles AR business logic.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	locker  Locker
	cache   *AgingCache
	metrics *Metrics
	clock   func() time.Time
}

// NewService builds Service instance.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// SetLocker injects the cross-process customer lock.
func (s *Service) SetLocker(locker Locker) {
	s.locker = locker
}

// SetAgingCache injects the portfolio aging cache.
func (s *Service) SetAgingCache(cache *AgingCache) {
	s.cache = cache
}

// SetMetrics injects ledger metrics.
func (s *Service) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

func (s *Service) now() time.Time {
	return s.clock()
}

// lockCustomer takes the optional customer-wide lock. A held lock means another
// mutation for the same customer is in flight; callers may retry.
func (s *Service) lockCustomer(ctx context.Context, customerID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.CustomerLockKey(customerID))
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, &LedgerError{Kind: ErrConcurrentModification, Detail: "customer ledger busy", Err: err}
		}
		return nil, &LedgerError{Kind: ErrStoreUnavailable, Detail: "acquire customer lock", Err: err}
	}
	return func() {
		// Release must run even when the request context is already cancelled.
		release(context.WithoutCancel(ctx))
	}, nil
}

func (s *Service) loadDocument(ctx context.Context, id int64) (Document, error) {
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return Document{}, docError(ErrDocumentNotFound, id, "", "")
		}
		return Document{}, storeError("load document", err)
	}
	return doc, nil
}

func (s *Service) invalidateAging(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump aging cache", slog.Any("error", err))
	}
}
