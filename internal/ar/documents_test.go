package ar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

func validInvoiceInput() CreateDocumentInput {
	due := testDay.AddDate(0, 0, 30)
	return CreateDocumentInput{
		CustomerID:     1,
		DocumentType:   DocumentInvoice,
		DocumentNumber: " inv-100 ",
		DocumentDate:   testDay,
		DueDate:        &due,
		CurrencyCode:   "usd",
		OriginalAmount: money.MustParse("250.40"),
	}
}

func TestCreateDocumentStartsAsDraft(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)

	doc, err := svc.CreateDocument(context.Background(), validInvoiceInput())
	require.NoError(t, err)
	require.NotZero(t, doc.ID)
	require.Equal(t, StatusDraft, doc.Status)
	require.Equal(t, "inv-100", doc.DocumentNumber)
	require.Equal(t, "USD", doc.CurrencyCode)
	requireMoney(t, "250.40", doc.BalanceAmount)
	require.True(t, doc.OriginalAmount.Equal(doc.BalanceAmount))
}

func TestCreateDocumentPostedIsPending(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	in := validInvoiceInput()
	in.Post = true

	doc, err := svc.CreateDocument(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, StatusPending, doc.Status)
}

func TestCreateDocumentValidation(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	before := testDay.AddDate(0, 0, -1)

	cases := []struct {
		name   string
		mutate func(*CreateDocumentInput)
		kind   error
		field  string
	}{
		{"unknown type", func(in *CreateDocumentInput) { in.DocumentType = "PROFORMA" }, ErrInvalidDocument, "document_type"},
		{"empty number", func(in *CreateDocumentInput) { in.DocumentNumber = "  " }, ErrInvalidDocument, "document_number"},
		{"zero amount", func(in *CreateDocumentInput) { in.OriginalAmount = money.Zero }, ErrInvalidAmount, "original_amount"},
		{"negative amount", func(in *CreateDocumentInput) { in.OriginalAmount = money.MustParse("-1") }, ErrInvalidAmount, "original_amount"},
		{"bad currency", func(in *CreateDocumentInput) { in.CurrencyCode = "US" }, ErrInvalidDocument, "currency_code"},
		{"due before date", func(in *CreateDocumentInput) { in.DueDate = &before }, ErrInvalidDocument, "due_date"},
		{"due on credit", func(in *CreateDocumentInput) { in.DocumentType = DocumentReceipt }, ErrInvalidDocument, "due_date"},
		{"unknown customer", func(in *CreateDocumentInput) { in.CustomerID = 42 }, ErrCustomerNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInvoiceInput()
			tc.mutate(&in)
			_, err := svc.CreateDocument(context.Background(), in)
			require.ErrorIs(t, err, tc.kind)
			var le *LedgerError
			require.ErrorAs(t, err, &le)
			require.Equal(t, tc.field, le.Field)
		})
	}
}

func TestCreateDocumentRejectsDuplicateNumber(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	repo.seedCustomer(2)

	_, err := svc.CreateDocument(context.Background(), validInvoiceInput())
	require.NoError(t, err)

	dup := validInvoiceInput()
	dup.DocumentNumber = "INV-100"
	_, err = svc.CreateDocument(context.Background(), dup)
	require.ErrorIs(t, err, ErrInvalidDocument)

	otherCustomer := validInvoiceInput()
	otherCustomer.CustomerID = 2
	_, err = svc.CreateDocument(context.Background(), otherCustomer)
	require.NoError(t, err)
}

func TestPostDocumentTransitions(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	draft := repo.seedDoc(docSpec{typ: DocumentInvoice, number: "INV-1", original: "100", status: StatusDraft})

	posted, err := svc.PostDocument(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, posted.Status)
	require.Equal(t, StatusPending, repo.doc(t, draft.ID).Status)

	_, err = svc.PostDocument(context.Background(), draft.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.PostDocument(context.Background(), 99)
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestCancelDocument(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	untouched := repo.seedDoc(docSpec{typ: DocumentInvoice, number: "INV-1", original: "100"})
	applied := repo.seedDoc(docSpec{typ: DocumentInvoice, number: "INV-2", original: "100"})
	rec := repo.seedDoc(docSpec{typ: DocumentReceipt, number: "REC-1", original: "100"})

	cancelled, err := svc.CancelDocument(context.Background(), CancelDocumentInput{DocumentID: untouched.ID, Reason: " issued twice "})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "issued twice", repo.doc(t, untouched.ID).CancelReason)

	_, err = svc.CancelDocument(context.Background(), CancelDocumentInput{DocumentID: untouched.ID})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.ApplyCredit(context.Background(), ApplyCreditInput{
		SourceDocumentID: rec.ID,
		Allocations:      []Allocation{alloc(applied.ID, "10")},
		ApplicationDate:  testDay,
	})
	require.NoError(t, err)

	_, err = svc.CancelDocument(context.Background(), CancelDocumentInput{DocumentID: applied.ID})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = svc.CancelDocument(context.Background(), CancelDocumentInput{DocumentID: rec.ID})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	require.Equal(t, StatusPending, repo.doc(t, applied.ID).Status)
}

func TestListDocumentsFilters(t *testing.T) {
	svc, repo := newTestService(t)
	repo.seedCustomer(1)
	repo.seedCustomer(2)
	repo.seedDoc(docSpec{typ: DocumentInvoice, number: "INV-1", original: "100"})
	repo.seedDoc(docSpec{typ: DocumentReceipt, number: "REC-1", original: "100"})
	repo.seedDoc(docSpec{customer: 2, typ: DocumentInvoice, number: "INV-2", original: "100"})

	docs, err := svc.ListDocuments(context.Background(), DocumentFilter{CustomerID: 1, Types: DebitTypes})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "INV-1", docs[0].DocumentNumber)
}
