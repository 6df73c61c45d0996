package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/batisoft/batifact/internal/auth"
	"github.com/batisoft/batifact/internal/httpx"
	"github.com/batisoft/batifact/internal/middleware"
	"github.com/batisoft/batifact/internal/models"
	"github.com/batisoft/batifact/internal/pdf"
	"github.com/batisoft/batifact/internal/services"
)

// InvoiceHandler serves the invoice and payment-ledger endpoints.
type InvoiceHandler struct {
	DB  *gorm.DB
	Svc *services.InvoiceService
	Log *zap.Logger
}

func NewInvoiceHandler(db *gorm.DB, svc *services.InvoiceService, log *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{DB: db, Svc: svc, Log: log}
}

// invoiceView adds the ledger-derived money fields to the stored invoice.
type invoiceView struct {
	*models.Invoice
	Number          string  `json:"number"`
	PaidAmount      float64 `json:"paid_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

func (h *InvoiceHandler) view(ctx context.Context, inv *models.Invoice) invoiceView {
	number, err := h.Svc.DisplayNumber(ctx, inv)
	if err != nil {
		h.Log.Warn("invoice number derivation failed", zap.Uint("invoice_id", inv.ID), zap.Error(err))
	}
	return invoiceView{
		Invoice:         inv,
		Number:          number,
		PaidAmount:      services.PaidAmount(inv.Payments),
		RemainingAmount: services.RemainingAmount(inv, inv.Payments),
	}
}

type createInvoiceRequest struct {
	QuoteID      uint   `json:"quote_id" validate:"required"`
	PaymentTerms string `json:"payment_terms"`
	DueDate      string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
}

// Collection handles GET (list) and POST (create from quote) on /api/invoices.
func (h *InvoiceHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

func (h *InvoiceHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	var due *time.Time
	if req.DueDate != "" {
		d, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_due_date", nil)
			return
		}
		due = &d
	}
	inv, err := h.Svc.CreateFromQuote(r.Context(), userID, req.QuoteID, req.PaymentTerms, due)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(r.Context(), inv))
}

func (h *InvoiceHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()
	f := services.InvoiceFilter{Status: q.Get("status")}
	if cid, ok := idParam(r, "client_id"); ok {
		f.ClientID = cid
	}
	if chid, ok := idParam(r, "chantier_id"); ok {
		f.ChantierID = chid
	}
	if y := q.Get("year"); y != "" {
		if year, err := strconv.Atoi(y); err == nil {
			f.Year = year
		}
	}
	if l := q.Get("limit"); l != "" {
		if limit, err := strconv.Atoi(l); err == nil {
			f.Limit = limit
		}
	}
	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil {
			f.Page = page
		}
	}
	invoices, total, err := h.Svc.List(r.Context(), userID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]invoiceView, 0, len(invoices))
	for i := range invoices {
		views = append(views, h.view(r.Context(), &invoices[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": views, "total": total})
}

type updateInvoiceRequest struct {
	PaymentTerms *string `json:"payment_terms"`
	DueDate      *string `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	Notes        *string `json:"notes"`
	Status       *string `json:"status" validate:"omitempty,oneof=brouillon envoyée"`
}

// Item handles GET/PUT on /api/invoices/item?id=N.
func (h *InvoiceHandler) Item(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		inv, err := h.Svc.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, h.view(r.Context(), inv))
	case http.MethodPut:
		h.update(w, r, userID, id)
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

func (h *InvoiceHandler) update(w http.ResponseWriter, r *http.Request, userID, id uint) {
	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	in := services.InvoiceUpdate{PaymentTerms: req.PaymentTerms, Notes: req.Notes, Status: req.Status}
	if req.DueDate != nil {
		d, err := time.Parse("2006-01-02", *req.DueDate)
		if err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_due_date", nil)
			return
		}
		in.DueDate = &d
	}
	inv, err := h.Svc.Update(r.Context(), userID, id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), inv))
}

// Cancel handles POST /api/invoices/cancel?id=N.
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	inv, err := h.Svc.Cancel(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), inv))
}

type paymentRequest struct {
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	PaymentDate   string  `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod string  `json:"payment_method" validate:"required,oneof=virement cheque especes carte autre"`
	Reference     string  `json:"reference"`
	Notes         string  `json:"notes"`
}

// Payments handles POST (record) on /api/invoices/payments?id=N and
// DELETE (remove) on /api/invoices/payments?payment_id=M.
func (h *InvoiceHandler) Payments(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	switch r.Method {
	case http.MethodPost:
		id, ok := idParam(r, "id")
		if !ok {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
			return
		}
		var req paymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
			return
		}
		if err := checkStruct(&req); err != nil {
			writeError(w, err)
			return
		}
		in := services.PaymentInput{
			Amount:        req.Amount,
			PaymentMethod: req.PaymentMethod,
			Reference:     req.Reference,
			Notes:         req.Notes,
		}
		if req.PaymentDate != "" {
			d, err := time.Parse("2006-01-02", req.PaymentDate)
			if err != nil {
				httpx.JSONError(w, http.StatusBadRequest, "invalid_payment_date", nil)
				return
			}
			in.PaymentDate = d
		}
		payment, err := h.Svc.RecordPayment(r.Context(), userID, id, in)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, payment)
	case http.MethodDelete:
		paymentID, ok := idParam(r, "payment_id")
		if !ok {
			httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
			return
		}
		if err := h.Svc.DeletePayment(r.Context(), userID, paymentID); err != nil {
			writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

// Stats handles GET /api/invoices/stats.
func (h *InvoiceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	stats, err := h.Svc.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

// PDF handles GET /api/invoices/pdf?id=N[&format=datauri].
func (h *InvoiceHandler) PDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	userID, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	inv, err := h.Svc.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	number, err := h.Svc.DisplayNumber(r.Context(), inv)
	if err != nil {
		writeError(w, err)
		return
	}
	company, err := loadCompany(r.Context(), h.DB, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := pdf.InvoicePDF(pdf.InvoiceData{
		Number:  number,
		Date:    inv.InvoiceDate,
		DueDate: inv.DueDate,
		Company: company,
		Client: pdf.Party{
			Name:    inv.ClientNom,
			Address: inv.ClientAdresse,
			Email:   inv.ClientEmail,
			Phone:   inv.ClientTelephone,
		},
		Items:        inv.Items,
		Totals:       pdf.Totals{HT: inv.SubtotalHT, TVA: inv.TVAAmount, TTC: inv.TotalTTC},
		PaymentTerms: inv.PaymentTerms,
		Lang:         middleware.Lang(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	name := pdf.Filename("facture", number, inv.ClientNom, inv.InvoiceDate)
	servePDF(w, r, doc, name)
}
