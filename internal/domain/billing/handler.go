package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/dentms/dentms/internal/platform/auth"
	"github.com/dentms/dentms/pkg/pagination"
)

type Handler struct {
	factory  *Factory
	store    *Store
	recorder *Recorder
	validate *validator.Validate
}

func NewHandler(factory *Factory, store *Store, recorder *Recorder) *Handler {
	return &Handler{
		factory:  factory,
		store:    store,
		recorder: recorder,
		validate: validator.New(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – all clinic roles; dentists see a scoped view. The
	// static "invoices"/"payments" segments win over the :kind tag.
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDentist))
	readGroup.GET("/billing/invoices", h.ListInvoices)
	readGroup.GET("/billing/payments", h.ListPayments)
	readGroup.GET("/billing/:kind/:id", h.GetInvoice)
	readGroup.GET("/billing/:kind/:id/receipt", h.GetReceipt)

	// Invoice creation is open to dentists too; they bill their own records
	createGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist, auth.RoleDentist))
	createGroup.POST("/billing/:kind", h.CreateInvoice)

	// Mutations and payments stay with the front desk
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleReceptionist))
	writeGroup.PUT("/billing/:kind/:id", h.UpdateInvoice)
	writeGroup.POST("/billing/:kind/:id/cancel", h.CancelInvoice)
	writeGroup.POST("/billing/:kind/:id/uncancel", h.UncancelInvoice)
	writeGroup.POST("/billing/payments", h.RecordPayment)

	// Deletion unwinds billing state entirely; admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/billing/:kind/:id", h.DeleteInvoice)
}

// accessFrom derives the caller's ledger visibility from the authenticated
// request. A dentist whose subject is not a valid record id owns nothing and
// therefore sees nothing.
func accessFrom(ctx context.Context) Access {
	if !auth.IsScoped(ctx) {
		return Access{}
	}
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Access{Scoped: true}
	}
	return Access{Scoped: true, DentistID: id}
}

// httpError maps the billing error taxonomy onto HTTP statuses.
func httpError(err error) error {
	switch CodeOf(err) {
	case CodeValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case CodeAlreadyBilled, CodeConflict:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case CodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case CodeConfiguration:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// view returns a response copy with the read-time status applied. The stored
// row never holds "overdue".
func view(inv *Invoice, now time.Time) *Invoice {
	cp := *inv
	cp.Status = EffectiveStatus(inv, now)
	return &cp
}

// invoiceByKind resolves the :kind/:id path pair to a visible invoice. The
// kind segment is a routing tag: an id that exists under a different kind is
// reported as absent. Invoice types never change after creation, so the
// check stays valid across a following write.
func (h *Handler) invoiceByKind(c echo.Context) (Access, *Invoice, error) {
	kind := InvoiceType(c.Param("kind"))
	if !ValidInvoiceType(kind) {
		return Access{}, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid invoice kind")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return Access{}, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	acc := accessFrom(ctx)
	inv, err := h.store.Get(ctx, acc, id)
	if err != nil {
		return Access{}, nil, httpError(err)
	}
	if inv.InvoiceType != kind {
		return Access{}, nil, httpError(NewNotFound("invoice %s not found", id))
	}
	return acc, inv, nil
}

type createInvoiceRequest struct {
	SourceIDs   []uuid.UUID      `json:"sourceIds" validate:"required,min=1"`
	PatientName string           `json:"patientName"`
	Amount      *decimal.Decimal `json:"amount"`
	Tax         *decimal.Decimal `json:"tax"`
	Discount    *decimal.Decimal `json:"discount"`
	PaidAmount  *decimal.Decimal `json:"paidAmount"`
	DueDate     *time.Time       `json:"dueDate"`
	Notes       string           `json:"notes"`
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.factory.Create(c.Request().Context(), InvoiceType(c.Param("kind")), req.SourceIDs, req.PatientName, CreateOverrides{
		Amount:     req.Amount,
		Tax:        req.Tax,
		Discount:   req.Discount,
		PaidAmount: req.PaidAmount,
		DueDate:    req.DueDate,
		Notes:      req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, view(inv, time.Now()))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	_, inv, err := h.invoiceByKind(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view(inv, time.Now()))
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{}
	if v := c.QueryParam("invoiceType"); v != "" {
		t := InvoiceType(v)
		if !ValidInvoiceType(t) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid invoiceType")
		}
		filter.InvoiceType = &t
	}
	if v := c.QueryParam("status"); v != "" {
		s := Status(v)
		if !ValidStatusFilter(s) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
		filter.Status = &s
	}
	if v := c.QueryParam("patientId"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
		}
		filter.PatientID = &pid
	}

	ctx := c.Request().Context()
	invoices, total, err := h.store.List(ctx, accessFrom(ctx), filter, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	now := time.Now()
	views := make([]*Invoice, len(invoices))
	for i, inv := range invoices {
		views[i] = view(inv, now)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

type updateInvoiceRequest struct {
	Cost       *decimal.Decimal `json:"cost"`
	Tax        *decimal.Decimal `json:"tax"`
	Discount   *decimal.Decimal `json:"discount"`
	PaidAmount *decimal.Decimal `json:"paidAmount"`
	Notes      *string          `json:"notes"`
	DueDate    *time.Time       `json:"dueDate"`
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	acc, target, err := h.invoiceByKind(c)
	if err != nil {
		return err
	}
	var req updateInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.store.Update(c.Request().Context(), acc, target.ID, UpdatePatch{
		Cost:       req.Cost,
		Tax:        req.Tax,
		Discount:   req.Discount,
		PaidAmount: req.PaidAmount,
		Notes:      req.Notes,
		DueDate:    req.DueDate,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view(inv, time.Now()))
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	acc, target, err := h.invoiceByKind(c)
	if err != nil {
		return err
	}
	if err := h.store.Delete(c.Request().Context(), acc, target.ID); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	return h.setCancelled(c, true)
}

func (h *Handler) UncancelInvoice(c echo.Context) error {
	return h.setCancelled(c, false)
}

func (h *Handler) setCancelled(c echo.Context, cancel bool) error {
	acc, target, err := h.invoiceByKind(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	var inv *Invoice
	if cancel {
		inv, err = h.store.Cancel(ctx, acc, target.ID)
	} else {
		inv, err = h.store.Uncancel(ctx, acc, target.ID)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, view(inv, time.Now()))
}

func (h *Handler) GetReceipt(c echo.Context) error {
	acc, target, err := h.invoiceByKind(c)
	if err != nil {
		return err
	}
	receipt, err := h.store.Receipt(c.Request().Context(), acc, target.ID, time.Now())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, receipt)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := uuid.Parse(c.QueryParam("invoiceId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoiceId")
	}
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	payments, total, err := h.store.Payments(ctx, accessFrom(ctx), id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(payments, total, pg.Limit, pg.Offset))
}

type recordPaymentRequest struct {
	InvoiceID      uuid.UUID       `json:"invoiceId" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	PaymentMethod  string          `json:"paymentMethod"`
	Method         string          `json:"method"`
	TransactionID  string          `json:"transactionId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Notes          string          `json:"notes"`
	PaymentDate    *time.Time      `json:"paymentDate"`
}

type recordPaymentResponse struct {
	Payment *Payment `json:"payment"`
	Invoice *Invoice `json:"invoice"`
}

func (h *Handler) RecordPayment(c echo.Context) error {
	var req recordPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The header form wins over the body field when both are present.
	if key := c.Request().Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}
	// paymentMethod is the documented field; method survives as an alias.
	if req.PaymentMethod != "" {
		req.Method = req.PaymentMethod
	}
	ctx := c.Request().Context()
	payment, inv, err := h.recorder.Record(ctx, accessFrom(ctx), RecordInput{
		InvoiceID:      req.InvoiceID,
		Amount:         req.Amount,
		Method:         req.Method,
		TransactionID:  req.TransactionID,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
		PaymentDate:    req.PaymentDate,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recordPaymentResponse{
		Payment: payment,
		Invoice: view(inv, time.Now()),
	})
}
