package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/batisoft/batifact/internal/apperr"
	"github.com/batisoft/batifact/internal/models"
)

func seedInvoice(t *testing.T, svc *InvoiceService, total float64, status string) *models.Invoice {
	t.Helper()
	now := svc.Now()
	inv := &models.Invoice{
		UserID:      1,
		ClientNom:   "Client Test",
		SubtotalHT:  total / 1.2,
		TVAAmount:   total - total/1.2,
		TotalTTC:    total,
		InvoiceDate: now,
		DueDate:     now.AddDate(0, 0, 30),
		Status:      status,
	}
	if err := svc.DB.Create(inv).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return inv
}

func TestReconcileStatus(t *testing.T) {
	pay := func(amounts ...float64) []models.Payment {
		var out []models.Payment
		for _, a := range amounts {
			out = append(out, models.Payment{Amount: a})
		}
		return out
	}
	cases := []struct {
		name     string
		total    float64
		status   string
		payments []models.Payment
		want     string
	}{
		{"no payments keeps envoyée", 1000, models.InvoiceStatusEnvoyee, nil, models.InvoiceStatusEnvoyee},
		{"no payments keeps brouillon", 1000, models.InvoiceStatusBrouillon, nil, models.InvoiceStatusBrouillon},
		{"partial payment", 1000, models.InvoiceStatusEnvoyee, pay(400), models.InvoiceStatusPartielle},
		{"sum reaches total", 1000, models.InvoiceStatusEnvoyee, pay(400, 600), models.InvoiceStatusPayee},
		{"within cent tolerance", 1000, models.InvoiceStatusEnvoyee, pay(999.99), models.InvoiceStatusPayee},
		{"two cents short stays partial", 1000, models.InvoiceStatusEnvoyee, pay(999.98), models.InvoiceStatusPartielle},
		{"annulée is terminal", 1000, models.InvoiceStatusAnnulee, pay(1000), models.InvoiceStatusAnnulee},
		{"stale stored payée is corrected", 1000, models.InvoiceStatusPayee, pay(100), models.InvoiceStatusPartielle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &models.Invoice{TotalTTC: tc.total, Status: tc.status}
			if got := ReconcileStatus(inv, tc.payments); got != tc.want {
				t.Errorf("ReconcileStatus = %q, want %q", got, tc.want)
			}
			// Idempotent: feeding the derived value back changes nothing.
			inv.Status = tc.want
			if got := ReconcileStatus(inv, tc.payments); got != tc.want {
				t.Errorf("second pass = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRecordPaymentDerivesStatus(t *testing.T) {
	svc := testInvoiceService(t, "invoice_record_payment")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 1000, models.InvoiceStatusEnvoyee)

	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 400, PaymentMethod: models.PaymentVirement}); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	got, err := svc.Get(ctx, 1, inv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.InvoiceStatusPartielle {
		t.Fatalf("status after partial = %q, want partiellement_payée", got.Status)
	}
	if r := RemainingAmount(got, got.Payments); r != 600 {
		t.Fatalf("remaining = %v, want 600", r)
	}

	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 600, PaymentMethod: models.PaymentCheque}); err != nil {
		t.Fatalf("second payment: %v", err)
	}
	got, _ = svc.Get(ctx, 1, inv.ID)
	if got.Status != models.InvoiceStatusPayee {
		t.Fatalf("status after full = %q, want payée", got.Status)
	}
}

func TestRecordPaymentOverpaymentRejected(t *testing.T) {
	svc := testInvoiceService(t, "invoice_overpayment")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 500, models.InvoiceStatusEnvoyee)

	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 300, PaymentMethod: models.PaymentVirement}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	_, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 300, PaymentMethod: models.PaymentVirement})
	var oErr *apperr.OverpaymentError
	if !errors.As(err, &oErr) {
		t.Fatalf("overpayment = %v, want OverpaymentError", err)
	}
	if oErr.Remaining != 200 {
		t.Errorf("remaining in error = %v, want 200", oErr.Remaining)
	}
	// The rejected payment must not have been recorded.
	got, _ := svc.Get(ctx, 1, inv.ID)
	if len(got.Payments) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(got.Payments))
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	svc := testInvoiceService(t, "invoice_payment_validation")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 100, models.InvoiceStatusEnvoyee)

	var vErr *apperr.ValidationError
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 0, PaymentMethod: models.PaymentVirement}); !errors.As(err, &vErr) {
		t.Errorf("zero amount = %v, want ValidationError", err)
	}
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: -5, PaymentMethod: models.PaymentVirement}); !errors.As(err, &vErr) {
		t.Errorf("negative amount = %v, want ValidationError", err)
	}
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 10, PaymentMethod: "paypal"}); !errors.As(err, &vErr) {
		t.Errorf("unknown method = %v, want ValidationError", err)
	}
}

func TestCancelledInvoiceRefusesPayments(t *testing.T) {
	svc := testInvoiceService(t, "invoice_cancelled_payment")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 100, models.InvoiceStatusEnvoyee)
	if _, err := svc.Cancel(ctx, 1, inv.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 50, PaymentMethod: models.PaymentCarte})
	var iErr *apperr.ImmutableStateError
	if !errors.As(err, &iErr) {
		t.Fatalf("payment on annulée = %v, want ImmutableStateError", err)
	}
}

func TestDeletePaymentDowngradesStatus(t *testing.T) {
	svc := testInvoiceService(t, "invoice_delete_payment")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 1000, models.InvoiceStatusEnvoyee)

	p1, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 400, PaymentMethod: models.PaymentVirement})
	if err != nil {
		t.Fatalf("payment 1: %v", err)
	}
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 600, PaymentMethod: models.PaymentVirement}); err != nil {
		t.Fatalf("payment 2: %v", err)
	}
	if got, _ := svc.Get(ctx, 1, inv.ID); got.Status != models.InvoiceStatusPayee {
		t.Fatalf("status = %q, want payée", got.Status)
	}

	if err := svc.DeletePayment(ctx, 1, p1.ID); err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	got, _ := svc.Get(ctx, 1, inv.ID)
	if got.Status != models.InvoiceStatusPartielle {
		t.Fatalf("status after delete = %q, want partiellement_payée", got.Status)
	}
	if r := RemainingAmount(got, got.Payments); r != 400 {
		t.Fatalf("remaining = %v, want 400", r)
	}
}

func TestCancelPaidInvoiceFails(t *testing.T) {
	svc := testInvoiceService(t, "invoice_cancel_paid")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 200, models.InvoiceStatusEnvoyee)
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 200, PaymentMethod: models.PaymentEspeces}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	_, err := svc.Cancel(ctx, 1, inv.ID)
	var iErr *apperr.ImmutableStateError
	if !errors.As(err, &iErr) {
		t.Fatalf("cancel paid = %v, want ImmutableStateError", err)
	}
}

func TestCancelKeepsInvoiceListable(t *testing.T) {
	svc := testInvoiceService(t, "invoice_cancel_listable")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 300, models.InvoiceStatusEnvoyee)

	got, err := svc.Cancel(ctx, 1, inv.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatal("deleted_at should be stamped")
	}
	list, total, err := svc.List(ctx, 1, InvoiceFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].Status != models.InvoiceStatusAnnulee {
		t.Fatalf("cancelled invoice must stay listable, got %d rows", len(list))
	}
}

func TestUpdateLockedWhenPaidOrCancelled(t *testing.T) {
	svc := testInvoiceService(t, "invoice_update_lock")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 100, models.InvoiceStatusEnvoyee)
	if _, err := svc.RecordPayment(ctx, 1, inv.ID, PaymentInput{Amount: 100, PaymentMethod: models.PaymentCarte}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	notes := "relance"
	_, err := svc.Update(ctx, 1, inv.ID, InvoiceUpdate{Notes: &notes})
	var iErr *apperr.ImmutableStateError
	if !errors.As(err, &iErr) {
		t.Fatalf("update paid = %v, want ImmutableStateError", err)
	}
}

func TestUpdateRejectsDerivedStatuses(t *testing.T) {
	svc := testInvoiceService(t, "invoice_update_status")
	ctx := context.Background()
	inv := seedInvoice(t, svc, 100, models.InvoiceStatusBrouillon)

	status := models.InvoiceStatusPayee
	_, err := svc.Update(ctx, 1, inv.ID, InvoiceUpdate{Status: &status})
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("manual payée = %v, want ValidationError", err)
	}

	status = models.InvoiceStatusEnvoyee
	got, err := svc.Update(ctx, 1, inv.ID, InvoiceUpdate{Status: &status})
	if err != nil {
		t.Fatalf("set envoyée: %v", err)
	}
	if got.Status != models.InvoiceStatusEnvoyee {
		t.Fatalf("status = %q, want envoyée", got.Status)
	}
}

func TestCreateFromQuote(t *testing.T) {
	db := testDB(t, "invoice_from_quote")
	quoteSvc := NewQuoteService(db, zap.NewNop())
	svc := NewInvoiceService(db, zap.NewNop())
	ctx := context.Background()

	q, err := quoteSvc.Create(ctx, 1, QuoteInput{
		ClientNom:     "Chantier Leroy",
		ClientAdresse: "4 rue du Four, 69001 Lyon",
		Items:         models.LineItems{{Description: "Maçonnerie", Quantity: 10, UnitPrice: 100}},
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	// A draft quote cannot be invoiced.
	_, err = svc.CreateFromQuote(ctx, 1, q.ID, "", nil)
	var vErr *apperr.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("invoice from draft = %v, want ValidationError", err)
	}

	if _, err := quoteSvc.SetStatus(ctx, 1, q.ID, models.QuoteStatusAccepte); err != nil {
		t.Fatalf("accept quote: %v", err)
	}
	inv, err := svc.CreateFromQuote(ctx, 1, q.ID, "", nil)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.ClientNom != "Chantier Leroy" || inv.ClientAdresse != q.ClientAdresse {
		t.Error("client snapshot not copied")
	}
	if inv.SubtotalHT != 1000 || inv.TVAAmount != 200 || inv.TotalTTC != 1200 {
		t.Errorf("totals = %v/%v/%v, want 1000/200/1200", inv.SubtotalHT, inv.TVAAmount, inv.TotalTTC)
	}
	if inv.PaymentTerms == "" {
		t.Error("default payment terms missing")
	}
	if inv.QuoteID == nil || *inv.QuoteID != q.ID {
		t.Error("quote link missing")
	}

	// One invoice per quote.
	if _, err := svc.CreateFromQuote(ctx, 1, q.ID, "", nil); !errors.As(err, &vErr) {
		t.Fatalf("second invoice = %v, want ValidationError", err)
	}
}

func TestStats(t *testing.T) {
	svc := testInvoiceService(t, "invoice_stats")
	ctx := context.Background()
	now := time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	paid := seedInvoice(t, svc, 1000, models.InvoiceStatusEnvoyee)
	if _, err := svc.RecordPayment(ctx, 1, paid.ID, PaymentInput{Amount: 1000, PaymentMethod: models.PaymentVirement}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	overdue := seedInvoice(t, svc, 600, models.InvoiceStatusEnvoyee)
	if err := svc.DB.Model(&models.Invoice{}).Where("id = ?", overdue.ID).
		Update("due_date", now.AddDate(0, 0, -5)).Error; err != nil {
		t.Fatalf("age invoice: %v", err)
	}
	if _, err := svc.RecordPayment(ctx, 1, overdue.ID, PaymentInput{Amount: 100, PaymentMethod: models.PaymentCheque}); err != nil {
		t.Fatalf("partial payment: %v", err)
	}

	stats, err := svc.Stats(ctx, 1)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.InvoiceCount != 2 || stats.PaidCount != 1 || stats.UnpaidCount != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", stats.InvoiceCount, stats.PaidCount, stats.UnpaidCount)
	}
	if stats.TotalRevenue != 1600 {
		t.Errorf("revenue = %v, want 1600", stats.TotalRevenue)
	}
	if stats.PaidAmount != 1100 {
		t.Errorf("paid = %v, want 1100", stats.PaidAmount)
	}
	if stats.UnpaidAmount != 500 {
		t.Errorf("unpaid = %v, want 500", stats.UnpaidAmount)
	}
	if stats.OverdueAmount != 500 {
		t.Errorf("overdue = %v, want 500", stats.OverdueAmount)
	}
}

func TestListFiltersByDerivedStatus(t *testing.T) {
	svc := testInvoiceService(t, "invoice_list_filter")
	ctx := context.Background()
	a := seedInvoice(t, svc, 100, models.InvoiceStatusEnvoyee)
	seedInvoice(t, svc, 200, models.InvoiceStatusEnvoyee)
	if _, err := svc.RecordPayment(ctx, 1, a.ID, PaymentInput{Amount: 100, PaymentMethod: models.PaymentVirement}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	list, total, err := svc.List(ctx, 1, InvoiceFilter{Status: models.InvoiceStatusPayee})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != a.ID {
		t.Fatalf("payée filter returned %d rows", len(list))
	}
}
