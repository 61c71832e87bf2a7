package ar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-receivables/internal/platform/db"
)

// lockTimeout bounds how long a ledger transaction waits on row locks before
// Postgres reports 55P03.
const lockTimeout = "5s"

const documentColumns = `id, customer_id, document_type, document_number, document_date, due_date,
	currency_code, original_amount, balance_amount, status, COALESCE(cancel_reason, ''), created_at, updated_at`

const applicationColumns = `id, kind, applied_document_id, target_document_id, customer_id, amount,
	application_date, COALESCE(reference, ''), COALESCE(notes, ''), reverses_application_id, created_at`

// PGRepository provides PostgreSQL backed persistence for the ledger.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// translateError maps driver failures onto ledger sentinels.
func translateError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("ar: postgres %s: %w", pgErr.Code, ErrConcurrentModification)
		case "23505":
			switch pgErr.ConstraintName {
			case "ar_documents_customer_number_key":
				return &LedgerError{Kind: ErrInvalidDocument, Field: "document_number", Detail: "number already used for customer"}
			case "ar_applications_reverses_key":
				return &LedgerError{Kind: ErrApplicationNotReversible, Detail: "application already reversed"}
			}
		case "23514":
			return &LedgerError{Kind: ErrInvalidAmount, Field: "balance_amount", Detail: pgErr.ConstraintName, Err: err}
		}
	}
	return fmt.Errorf("ar: postgres: %w", err)
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	err := row.Scan(
		&doc.ID, &doc.CustomerID, &doc.DocumentType, &doc.DocumentNumber, &doc.DocumentDate, &doc.DueDate,
		&doc.CurrencyCode, &doc.OriginalAmount, &doc.BalanceAmount, &doc.Status, &doc.CancelReason,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	return doc, err
}

func scanApplication(row pgx.Row) (Application, error) {
	var app Application
	err := row.Scan(
		&app.ID, &app.Kind, &app.AppliedDocumentID, &app.TargetDocumentID, &app.CustomerID, &app.Amount,
		&app.ApplicationDate, &app.Reference, &app.Notes, &app.ReversesApplicationID, &app.CreatedAt,
	)
	return app, err
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func collectApplications(rows pgx.Rows) ([]Application, error) {
	defer rows.Close()
	var apps []Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// GetDocument loads a document by id.
func (r *PGRepository) GetDocument(ctx context.Context, id int64) (Document, error) {
	doc, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM ar_documents WHERE id = $1`, id))
	if err != nil {
		return Document{}, translateError(err, ErrDocumentNotFound)
	}
	return doc, nil
}

// ListDocuments returns documents matching filter ordered by date then id.
func (r *PGRepository) ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.CustomerID != 0 {
		add("customer_id = $%d", filter.CustomerID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("document_type = ANY($%d)", types)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if !filter.DateFrom.IsZero() {
		add("document_date >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		add("document_date <= $%d", filter.DateTo)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + documentColumns + ` FROM ar_documents`)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY document_date, id")

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, translateError(err, nil)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, translateError(err, nil)
	}
	return docs, nil
}

// CreateDocument inserts a document and returns it with its id.
func (r *PGRepository) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO ar_documents (
			customer_id, document_type, document_number, document_date, due_date, currency_code,
			original_amount, balance_amount, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		doc.CustomerID, doc.DocumentType, doc.DocumentNumber, doc.DocumentDate, doc.DueDate, doc.CurrencyCode,
		doc.OriginalAmount, doc.BalanceAmount, doc.Status, doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID)
	if err != nil {
		return Document{}, translateError(err, nil)
	}
	return doc, nil
}

// GetApplication loads an application by id.
func (r *PGRepository) GetApplication(ctx context.Context, id int64) (Application, error) {
	app, err := scanApplication(r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM ar_applications WHERE id = $1`, id))
	if err != nil {
		return Application{}, translateError(err, ErrApplicationNotFound)
	}
	return app, nil
}

// ListApplications lists applications where documentID is the source or the target.
func (r *PGRepository) ListApplications(ctx context.Context, documentID int64, role ApplicationRole) ([]Application, error) {
	column := "applied_document_id"
	if role == RoleTarget {
		column = "target_document_id"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+applicationColumns+` FROM ar_applications WHERE `+column+` = $1 ORDER BY application_date, id`, documentID)
	if err != nil {
		return nil, translateError(err, nil)
	}
	apps, err := collectApplications(rows)
	if err != nil {
		return nil, translateError(err, nil)
	}
	return apps, nil
}

// ListCustomerApplications lists every application recorded for a customer.
func (r *PGRepository) ListCustomerApplications(ctx context.Context, customerID int64) ([]Application, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+applicationColumns+` FROM ar_applications WHERE customer_id = $1 ORDER BY application_date, id`, customerID)
	if err != nil {
		return nil, translateError(err, nil)
	}
	apps, err := collectApplications(rows)
	if err != nil {
		return nil, translateError(err, nil)
	}
	return apps, nil
}

// GetCustomer loads a customer's identity and credit figures.
func (r *PGRepository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, credit_limit, credit_used, credit_on_hold, credit_status, is_active
		FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.CreditLimit, &c.CreditUsed, &c.CreditOnHold, &c.CreditStatus, &c.IsActive)
	if err != nil {
		return Customer{}, translateError(err, ErrCustomerNotFound)
	}
	return c, nil
}

// UpdateCreditStatus sets the operator-controlled credit status.
func (r *PGRepository) UpdateCreditStatus(ctx context.Context, customerID int64, status CreditStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE customers SET credit_status = $2, updated_at = NOW() WHERE id = $1`, customerID, status)
	if err != nil {
		return translateError(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// WithTx runs fn in a repeatable-read transaction with a bounded lock wait.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '`+lockTimeout+`'`); err != nil {
			return err
		}
		return fn(ctx, &pgTx{tx: tx})
	})
	var le *LedgerError
	if errors.As(err, &le) {
		return err
	}
	return translateError(err, nil)
}

type pgTx struct {
	tx pgx.Tx
}

// LockDocuments selects ids FOR UPDATE in ascending id order.
func (t *pgTx) LockDocuments(ctx context.Context, ids []int64) (map[int64]Document, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+documentColumns+` FROM ar_documents WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, translateError(err, nil)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, translateError(err, nil)
	}
	out := make(map[int64]Document, len(docs))
	for _, doc := range docs {
		out[doc.ID] = doc
	}
	return out, nil
}

// SaveDocumentBalances writes every update in one batch.
func (t *pgTx) SaveDocumentBalances(ctx context.Context, updates []BalanceUpdate) error {
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE ar_documents SET balance_amount = $2, status = $3, updated_at = NOW() WHERE id = $1`,
			u.DocumentID, u.BalanceAmount, u.Status)
	}
	results := t.tx.SendBatch(ctx, batch)
	for _, u := range updates {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return translateError(err, nil)
		}
		if tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("ar: update document %d: %w", u.DocumentID, ErrDocumentNotFound)
		}
	}
	return translateError(results.Close(), nil)
}

// UpdateDocumentStatus changes a document's status and cancel reason.
func (t *pgTx) UpdateDocumentStatus(ctx context.Context, id int64, status DocumentStatus, reason string) error {
	var cancelReason pgtype.Text
	if reason != "" {
		cancelReason = pgtype.Text{String: reason, Valid: true}
	}
	tag, err := t.tx.Exec(ctx, `UPDATE ar_documents SET status = $2, cancel_reason = $3, updated_at = NOW() WHERE id = $1`,
		id, status, cancelReason)
	if err != nil {
		return translateError(err, nil)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// CreateApplication inserts an application record.
func (t *pgTx) CreateApplication(ctx context.Context, app Application) (Application, error) {
	var reverses pgtype.Int8
	if app.ReversesApplicationID != nil {
		reverses = pgtype.Int8{Int64: *app.ReversesApplicationID, Valid: true}
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO ar_applications (
			kind, applied_document_id, target_document_id, customer_id, amount,
			application_date, reference, notes, reverses_application_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)
		RETURNING id`,
		app.Kind, app.AppliedDocumentID, app.TargetDocumentID, app.CustomerID, app.Amount,
		app.ApplicationDate, app.Reference, app.Notes, reverses, app.CreatedAt,
	).Scan(&app.ID)
	if err != nil {
		return Application{}, translateError(err, nil)
	}
	return app, nil
}

// CountApplications counts applications touching documentID on either side.
func (t *pgTx) CountApplications(ctx context.Context, documentID int64) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM ar_applications WHERE applied_document_id = $1 OR target_document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, translateError(err, nil)
	}
	return count, nil
}

// ReversalExists reports whether applicationID already has a reversal.
func (t *pgTx) ReversalExists(ctx context.Context, applicationID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ar_applications WHERE reverses_application_id = $1)`, applicationID).Scan(&exists)
	if err != nil {
		return false, translateError(err, nil)
	}
	return exists, nil
}
