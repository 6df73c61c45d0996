package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/batisoft/batifact/internal/apperr"
	"github.com/batisoft/batifact/internal/models"
)

// reconcileTolerance absorbs floating-point and rounding drift from
// line-item arithmetic: one currency cent. Deliberate epsilon, not a bug.
var reconcileTolerance = decimal.NewFromFloat(0.01)

// InvoiceService derives invoice status from the payment ledger and owns
// the payment append/delete commands.
type InvoiceService struct {
	DB  *gorm.DB
	Log *zap.Logger
	Now func() time.Time
}

func NewInvoiceService(db *gorm.DB, log *zap.Logger) *InvoiceService {
	return &InvoiceService{DB: db, Log: log, Now: time.Now}
}

// ReconcileStatus derives the invoice status from its ledger. Pure and
// idempotent; it must be re-run on every read path instead of trusting the
// stored column, and re-run-and-persisted after every payment write.
func ReconcileStatus(inv *models.Invoice, payments []models.Payment) string {
	if inv.Status == models.InvoiceStatusAnnulee {
		return models.InvoiceStatusAnnulee
	}
	paid := sumPayments(payments)
	total := decimal.NewFromFloat(inv.TotalTTC).Round(2)
	if paid.GreaterThanOrEqual(total.Sub(reconcileTolerance)) {
		return models.InvoiceStatusPayee
	}
	if paid.GreaterThan(decimal.Zero) {
		return models.InvoiceStatusPartielle
	}
	if inv.Status == models.InvoiceStatusEnvoyee {
		return models.InvoiceStatusEnvoyee
	}
	return models.InvoiceStatusBrouillon
}

// PaidAmount is always derived from the ledger, never stored.
func PaidAmount(payments []models.Payment) float64 {
	return sumPayments(payments).InexactFloat64()
}

// RemainingAmount derives what is still due on the invoice.
func RemainingAmount(inv *models.Invoice, payments []models.Payment) float64 {
	total := decimal.NewFromFloat(inv.TotalTTC).Round(2)
	return total.Sub(sumPayments(payments)).InexactFloat64()
}

func sumPayments(payments []models.Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(decimal.NewFromFloat(p.Amount))
	}
	return sum.Round(2)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// CreateFromQuote converts an accepted/validated quote into an invoice,
// copying client identity and items. One quote yields at most one invoice;
// checked here as a should-invariant rather than a unique constraint.
func (s *InvoiceService) CreateFromQuote(ctx context.Context, userID, quoteID uint, paymentTerms string, dueDate *time.Time) (*models.Invoice, error) {
	var q models.Quote
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&q, quoteID).Error; err != nil {
		return nil, wrapLookup("load quote", err)
	}
	switch q.EffectiveStatus() {
	case models.QuoteStatusAccepte, models.QuoteStatusValide, models.QuoteStatusSigne:
	default:
		return nil, apperr.NewValidation("quote_id", "quote_not_validated")
	}
	var existing int64
	if err := s.DB.WithContext(ctx).Model(&models.Invoice{}).Where("quote_id = ?", quoteID).Count(&existing).Error; err != nil {
		return nil, apperr.External("check existing invoice", err)
	}
	if existing > 0 {
		return nil, apperr.NewValidation("quote_id", "quote_already_invoiced")
	}

	now := s.Now()
	terms := paymentTerms
	if terms == "" {
		terms = "Paiement à 30 jours. Pénalités de retard : 3 fois le taux d'intérêt légal."
	}
	due := now.AddDate(0, 0, 30)
	if dueDate != nil {
		due = *dueDate
	}
	subtotal := q.Items.TotalHT()
	tva := round2(subtotal * 0.20)
	inv := models.Invoice{
		UserID:          userID,
		QuoteID:         &q.ID,
		ClientID:        q.ClientID,
		ChantierID:      q.ChantierID,
		ClientNom:       q.ClientNom,
		ClientEmail:     q.ClientEmail,
		ClientTelephone: q.ClientTelephone,
		ClientAdresse:   q.ClientAdresse,
		Items:           q.Items,
		SubtotalHT:      subtotal,
		TVAAmount:       tva,
		TotalTTC:        round2(subtotal + tva),
		InvoiceDate:     now,
		DueDate:         due,
		PaymentTerms:    terms,
		Status:          models.InvoiceStatusBrouillon,
		Notes:           q.Notes,
	}
	if err := s.DB.WithContext(ctx).Create(&inv).Error; err != nil {
		return nil, apperr.External("create invoice", err)
	}
	return &inv, nil
}

// lockedInvoice loads an invoice inside tx with a row lock on postgres.
// sqlite serializes writers on its own and rejects FOR UPDATE.
func lockedInvoice(tx *gorm.DB, userID, id uint) (*models.Invoice, error) {
	q := tx.Where("user_id = ?", userID)
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var inv models.Invoice
	if err := q.First(&inv, id).Error; err != nil {
		return nil, wrapLookup("load invoice", err)
	}
	return &inv, nil
}

// PaymentInput is the record-payment payload.
type PaymentInput struct {
	Amount        float64
	PaymentDate   time.Time
	PaymentMethod string
	Reference     string
	Notes         string
}

// RecordPayment appends a payment then reconciles and persists the derived
// status. The read-check-write runs inside one transaction so two
// simultaneous payments cannot both pass the remaining-balance check.
func (s *InvoiceService) RecordPayment(ctx context.Context, userID, invoiceID uint, in PaymentInput) (*models.Payment, error) {
	if in.Amount <= 0 {
		return nil, apperr.NewValidation("amount", "must_be_positive")
	}
	if !models.ValidPaymentMethod(in.PaymentMethod) {
		return nil, apperr.NewValidation("payment_method", "unknown_method")
	}
	if in.PaymentDate.IsZero() {
		in.PaymentDate = s.Now()
	}

	var payment models.Payment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := lockedInvoice(tx, userID, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == models.InvoiceStatusAnnulee {
			return &apperr.ImmutableStateError{Entity: "facture", Status: inv.Status, Reason: "une facture annulée n'accepte plus de paiement"}
		}
		var payments []models.Payment
		if err := tx.Where("invoice_id = ?", inv.ID).Find(&payments).Error; err != nil {
			return apperr.External("load payments", err)
		}
		remaining := decimal.NewFromFloat(inv.TotalTTC).Round(2).Sub(sumPayments(payments))
		amount := decimal.NewFromFloat(in.Amount).Round(2)
		if amount.GreaterThan(remaining) {
			return &apperr.OverpaymentError{Remaining: remaining.InexactFloat64()}
		}
		payment = models.Payment{
			InvoiceID:     inv.ID,
			Amount:        amount.InexactFloat64(),
			PaymentDate:   in.PaymentDate,
			PaymentMethod: in.PaymentMethod,
			Reference:     in.Reference,
			Notes:         in.Notes,
		}
		if err := tx.Create(&payment).Error; err != nil {
			return apperr.External("create payment", err)
		}
		return s.persistReconciled(tx, inv, append(payments, payment))
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// DeletePayment removes a ledger row then reconciles against what is left.
func (s *InvoiceService) DeletePayment(ctx context.Context, userID, paymentID uint) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		if err := tx.First(&payment, paymentID).Error; err != nil {
			return wrapLookup("load payment", err)
		}
		inv, err := lockedInvoice(tx, userID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if err := tx.Delete(&payment).Error; err != nil {
			return apperr.External("delete payment", err)
		}
		var payments []models.Payment
		if err := tx.Where("invoice_id = ?", inv.ID).Find(&payments).Error; err != nil {
			return apperr.External("load payments", err)
		}
		return s.persistReconciled(tx, inv, payments)
	})
}

func (s *InvoiceService) persistReconciled(tx *gorm.DB, inv *models.Invoice, payments []models.Payment) error {
	derived := ReconcileStatus(inv, payments)
	if derived == inv.Status {
		return nil
	}
	if err := tx.Model(inv).Update("status", derived).Error; err != nil {
		return apperr.External("persist reconciled status", err)
	}
	inv.Status = derived
	return nil
}

// InvoiceUpdate carries the mutable invoice fields.
type InvoiceUpdate struct {
	PaymentTerms *string
	DueDate      *time.Time
	Notes        *string
	Status       *string // only brouillon/envoyée may be set by hand
}

// Update edits an invoice. payée and annulée invoices are locked.
func (s *InvoiceService) Update(ctx context.Context, userID, id uint, in InvoiceUpdate) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.DB.WithContext(ctx).Preload("Payments").Where("user_id = ?", userID).First(&inv, id).Error; err != nil {
		return nil, wrapLookup("load invoice", err)
	}
	current := ReconcileStatus(&inv, inv.Payments)
	if current == models.InvoiceStatusPayee || current == models.InvoiceStatusAnnulee {
		return nil, &apperr.ImmutableStateError{Entity: "facture", Status: current, Reason: "une facture payée ou annulée est verrouillée"}
	}
	updates := map[string]any{}
	if in.PaymentTerms != nil {
		updates["payment_terms"] = *in.PaymentTerms
	}
	if in.DueDate != nil {
		updates["due_date"] = *in.DueDate
	}
	if in.Notes != nil {
		updates["notes"] = *in.Notes
	}
	if in.Status != nil {
		if *in.Status != models.InvoiceStatusBrouillon && *in.Status != models.InvoiceStatusEnvoyee {
			return nil, apperr.NewValidation("status", "only_brouillon_or_envoyée")
		}
		updates["status"] = *in.Status
	}
	if len(updates) == 0 {
		return &inv, nil
	}
	if err := s.DB.WithContext(ctx).Model(&inv).Updates(updates).Error; err != nil {
		return nil, apperr.External("update invoice", err)
	}
	if err := s.DB.WithContext(ctx).Preload("Payments").First(&inv, id).Error; err != nil {
		return nil, apperr.External("reload invoice", err)
	}
	return &inv, nil
}

// Cancel marks the invoice annulée and stamps the soft-delete marker.
// A fully paid invoice cannot be cancelled.
func (s *InvoiceService) Cancel(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.DB.WithContext(ctx).Preload("Payments").Where("user_id = ?", userID).First(&inv, id).Error; err != nil {
		return nil, wrapLookup("load invoice", err)
	}
	if ReconcileStatus(&inv, inv.Payments) == models.InvoiceStatusPayee {
		return nil, &apperr.ImmutableStateError{Entity: "facture", Status: models.InvoiceStatusPayee, Reason: "une facture payée ne peut pas être annulée"}
	}
	now := s.Now()
	updates := map[string]any{"status": models.InvoiceStatusAnnulee, "deleted_at": now}
	if err := s.DB.WithContext(ctx).Model(&inv).Updates(updates).Error; err != nil {
		return nil, apperr.External("cancel invoice", err)
	}
	inv.Status = models.InvoiceStatusAnnulee
	inv.DeletedAt = &now
	return &inv, nil
}

// DisplayNumber derives "{year}-{rank:03d}" from the invoice's position
// among same-year invoices, ordered by invoice_date. Positional like the
// quote numbering: recomputed per call, never stored.
func (s *InvoiceService) DisplayNumber(ctx context.Context, inv *models.Invoice) (string, error) {
	year := inv.InvoiceDate.Year()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, inv.InvoiceDate.Location())
	end := start.AddDate(1, 0, 0)
	var rank int64
	err := s.DB.WithContext(ctx).Model(&models.Invoice{}).
		Where("user_id = ? AND invoice_date >= ? AND invoice_date < ?", inv.UserID, start, end).
		Where("invoice_date < ? OR (invoice_date = ? AND id <= ?)", inv.InvoiceDate, inv.InvoiceDate, inv.ID).
		Count(&rank).Error
	if err != nil {
		return "", apperr.External("rank invoice", err)
	}
	if rank == 0 {
		rank = 1
	}
	return fmt.Sprintf("%d-%03d", year, rank), nil
}

// Get loads one invoice with its ledger; Status carries the derived value.
func (s *InvoiceService) Get(ctx context.Context, userID, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := s.DB.WithContext(ctx).Preload("Payments").Where("user_id = ?", userID).First(&inv, id).Error; err != nil {
		return nil, wrapLookup("load invoice", err)
	}
	inv.Status = ReconcileStatus(&inv, inv.Payments)
	return &inv, nil
}

// InvoiceFilter narrows List. Status is matched against the derived status,
// consistent with reconcile-on-read.
type InvoiceFilter struct {
	ClientID   uint
	ChantierID uint
	Status     string
	Year       int
	Limit      int
	Page       int
}

// List returns invoices newest first with statuses reconciled from their
// ledgers, plus the total row count before pagination.
func (s *InvoiceService) List(ctx context.Context, userID uint, f InvoiceFilter) ([]models.Invoice, int64, error) {
	dbq := s.DB.WithContext(ctx).Model(&models.Invoice{}).Where("user_id = ?", userID)
	if f.ClientID != 0 {
		dbq = dbq.Where("client_id = ?", f.ClientID)
	}
	if f.ChantierID != 0 {
		dbq = dbq.Where("chantier_id = ?", f.ChantierID)
	}
	if f.Year != 0 {
		start := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		dbq = dbq.Where("invoice_date >= ? AND invoice_date < ?", start, start.AddDate(1, 0, 0))
	}
	var invoices []models.Invoice
	if err := dbq.Preload("Payments").Order("invoice_date desc, id desc").Find(&invoices).Error; err != nil {
		return nil, 0, apperr.External("list invoices", err)
	}
	out := invoices[:0]
	for i := range invoices {
		invoices[i].Status = ReconcileStatus(&invoices[i], invoices[i].Payments)
		if f.Status != "" && invoices[i].Status != f.Status {
			continue
		}
		out = append(out, invoices[i])
	}
	total := int64(len(out))
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := 0
	if f.Page > 1 {
		offset = (f.Page - 1) * limit
	}
	if offset >= len(out) {
		return []models.Invoice{}, total, nil
	}
	endIdx := offset + limit
	if endIdx > len(out) {
		endIdx = len(out)
	}
	return out[offset:endIdx], total, nil
}

// InvoiceStats is the aggregation served to the dashboard.
type InvoiceStats struct {
	TotalRevenue  float64 `json:"totalRevenue"`
	PaidAmount    float64 `json:"paidAmount"`
	UnpaidAmount  float64 `json:"unpaidAmount"`
	OverdueAmount float64 `json:"overdueAmount"`
	InvoiceCount  int     `json:"invoiceCount"`
	PaidCount     int     `json:"paidCount"`
	UnpaidCount   int     `json:"unpaidCount"`
}

// Stats iterates all non-deleted invoices and their ledgers. Overdue
// additionally requires due_date strictly before today and a not-fully-paid
// derived status.
func (s *InvoiceService) Stats(ctx context.Context, userID uint) (*InvoiceStats, error) {
	var invoices []models.Invoice
	if err := s.DB.WithContext(ctx).Preload("Payments").
		Where("user_id = ? AND deleted_at IS NULL", userID).Find(&invoices).Error; err != nil {
		return nil, apperr.External("list invoices for stats", err)
	}
	now := s.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	stats := InvoiceStats{}
	revenue, paidTotal, unpaid, overdue := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for i := range invoices {
		inv := &invoices[i]
		status := ReconcileStatus(inv, inv.Payments)
		total := decimal.NewFromFloat(inv.TotalTTC).Round(2)
		paid := sumPayments(inv.Payments)
		stats.InvoiceCount++
		revenue = revenue.Add(total)
		paidTotal = paidTotal.Add(paid)
		if status == models.InvoiceStatusPayee {
			stats.PaidCount++
			continue
		}
		stats.UnpaidCount++
		remaining := total.Sub(paid)
		unpaid = unpaid.Add(remaining)
		if inv.DueDate.Before(today) {
			overdue = overdue.Add(remaining)
		}
	}
	stats.TotalRevenue = revenue.InexactFloat64()
	stats.PaidAmount = paidTotal.InexactFloat64()
	stats.UnpaidAmount = unpaid.InexactFloat64()
	stats.OverdueAmount = overdue.InexactFloat64()
	return &stats, nil
}

// errNotFound re-exported check for handlers.
func IsNotFound(err error) bool { return errors.Is(err, gorm.ErrRecordNotFound) }
