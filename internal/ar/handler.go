package ar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-receivables/internal/money"
	"github.com/odyssey-erp/odyssey-receivables/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-receivables/internal/shared"
)

// IdempotencyGuard records request keys so retried mutations run once.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyHeader carries the client-chosen request key on mutations.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the ledger as JSON endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	validator   *validator.Validate
	idempotency IdempotencyGuard
	clock       func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// SetIdempotency enables Idempotency-Key handling for apply and reverse.
func (h *Handler) SetIdempotency(guard IdempotencyGuard) {
	h.idempotency = guard
}

// MountRoutes registers AR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.listDocuments)
		r.Post("/", h.createDocument)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getDocument)
			r.Post("/post", h.postDocument)
			r.Post("/cancel", h.cancelDocument)
			r.Get("/applications", h.listApplications)
			r.Post("/applications", h.applyCredit)
			r.Get("/allocation-plan", h.allocationPlan)
		})
	})
	r.Post("/applications/{id}/reverse", h.reverseApplication)
	r.Get("/aging", h.aging)
	r.Route("/customers/{id}", func(r chi.Router) {
		r.Get("/exposure", h.exposure)
		r.Get("/credit-check", h.creditCheck)
		r.Put("/credit-status", h.setCreditStatus)
		r.Get("/statement", h.statement)
		r.Get("/summary", h.summary)
	})
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := DocumentFilter{}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.badRequest(w, "customer_id must be a positive integer")
			return
		}
		filter.CustomerID = id
	}
	for _, raw := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, DocumentStatus(strings.ToUpper(raw)))
	}
	for _, raw := range splitList(q.Get("type")) {
		t := DocumentType(strings.ToUpper(raw))
		if !t.Valid() {
			h.badRequest(w, fmt.Sprintf("unknown document type %q", raw))
			return
		}
		filter.Types = append(filter.Types, t)
	}
	docs, err := h.service.ListDocuments(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	httpx.JSON(w, http.StatusOK, documentsResponse{Documents: docs})
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.CreateDocument(r.Context(), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) postDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.PostDocument(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) cancelDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cancelDocumentRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.CancelDocument(r.Context(), CancelDocumentInput{DocumentID: id, Reason: req.Reason})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	role := ApplicationRole(r.URL.Query().Get("role"))
	if role == "" {
		role = RoleTarget
	}
	apps, err := h.service.ListApplicationsFor(r.Context(), id, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if apps == nil {
		apps = []Application{}
	}
	httpx.JSON(w, http.StatusOK, applicationsResponse{Applications: apps})
}

func (h *Handler) applyCredit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req applyCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	done, ok := h.claim(w, r, "ar.apply")
	if !ok {
		return
	}
	apps, err := h.service.ApplyCredit(r.Context(), req.input(id))
	done(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, applicationsResponse{Applications: apps})
}

func (h *Handler) allocationPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	plan, err := h.service.SuggestAllocations(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if plan == nil {
		plan = []Allocation{}
	}
	httpx.JSON(w, http.StatusOK, allocationPlanResponse{SourceDocumentID: id, Allocations: plan})
}

func (h *Handler) reverseApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req reverseApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	done, ok := h.claim(w, r, "ar.reverse")
	if !ok {
		return
	}
	app, err := h.service.ReverseApplication(r.Context(), ReverseApplicationInput{
		ApplicationID: id,
		ReversalDate:  mustDate(req.ReversalDate),
		Reason:        req.Reason,
	})
	done(err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, app)
}

func (h *Handler) aging(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.queryDate(w, r, "as_of", h.clock())
	if !ok {
		return
	}
	req := AgingRequest{AsOf: asOf}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.badRequest(w, "customer_id must be a positive integer")
			return
		}
		req.CustomerID = id
	}
	summary, err := h.service.AgingReport(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) exposure(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	exposure, err := h.service.CustomerExposure(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, exposure)
}

func (h *Handler) creditCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	amount, err := money.Parse(r.URL.Query().Get("amount"))
	if err != nil {
		h.writeError(w, r, &LedgerError{Kind: ErrInvalidAmount, Field: "amount", Detail: err.Error()})
		return
	}
	check, err := h.service.CheckCustomerCredit(r.Context(), id, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) setCreditStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req creditStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	customer, err := h.service.SetCreditStatus(r.Context(), id, CreditStatus(req.CreditStatus))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	today := h.clock()
	to, ok := h.queryDate(w, r, "to", today)
	if !ok {
		return
	}
	from, ok := h.queryDate(w, r, "from", time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC))
	if !ok {
		return
	}
	include := false
	if raw := r.URL.Query().Get("include_applications"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			h.badRequest(w, "include_applications must be a boolean")
			return
		}
		include = parsed
	}
	stmt, err := h.service.BuildStatement(r.Context(), StatementRequest{
		CustomerID:          id,
		From:                from,
		To:                  to,
		IncludeApplications: include,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stmt)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	asOf, ok := h.queryDate(w, r, "as_of", h.clock())
	if !ok {
		return
	}
	summary, err := h.service.CustomerSummary(r.Context(), id, asOf)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

// claim registers the request's idempotency key. The returned func frees the
// key again when the mutation fails so the client can retry with it.
func (h *Handler) claim(w http.ResponseWriter, r *http.Request, module string) (func(error), bool) {
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if h.idempotency == nil || key == "" {
		return func(error) {}, true
	}
	key = module + ":" + key
	if err := h.idempotency.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			httpx.Problem(w, http.StatusConflict, "Duplicate Request", "request with this Idempotency-Key was already processed")
			return nil, false
		}
		h.logger.Error("idempotency check", slog.String("module", module), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
		return nil, false
	}
	return func(err error) {
		if err == nil {
			return
		}
		if derr := h.idempotency.Delete(context.WithoutCancel(r.Context()), key); derr != nil {
			h.logger.Warn("release idempotency key", slog.String("module", module), slog.Any("error", derr))
		}
	}, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) queryDate(w http.ResponseWriter, r *http.Request, name string, fallback time.Time) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return dateOnly(fallback), true
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		h.badRequest(w, fmt.Sprintf("%s must be formatted YYYY-MM-DD", name))
		return time.Time{}, false
	}
	return t, true
}

// decode reads and validates a JSON body, writing the problem response on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		if errors.Is(err, money.ErrInvalidAmount) {
			h.writeError(w, r, &LedgerError{Kind: ErrInvalidAmount, Detail: err.Error()})
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			h.writeError(w, r, &LedgerError{
				Kind:   ErrInvalidRequest,
				Field:  fe.Field(),
				Detail: fmt.Sprintf("failed %s validation", fe.Tag()),
			})
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) badRequest(w http.ResponseWriter, detail string) {
	httpx.RespondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, detail))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("ar request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	problem := problemResponse{Title: title, Status: status, Kind: kindLabel(err)}
	var le *LedgerError
	if errors.As(err, &le) {
		problem.DocumentID = le.DocumentID
		problem.Field = le.Field
		problem.Requested = le.Requested
		problem.Available = le.Available
	}
	if status < http.StatusInternalServerError {
		problem.Detail = err.Error()
	}
	httpx.JSON(w, status, problem)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrCustomerNotFound), errors.Is(err, ErrApplicationNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict, "Concurrent Modification"
	case errors.Is(err, ErrInvalidStatusTransition), errors.Is(err, ErrApplicationNotReversible):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Store Unavailable"
	case ErrorKind(err) != nil:
		return http.StatusUnprocessableEntity, "Ledger Rule Violated"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
