package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/batisoft/batifact/internal/auth"
	"github.com/batisoft/batifact/internal/db"
	"github.com/batisoft/batifact/internal/models"
)

func testApp(t *testing.T, name string) (*App, *models.User) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, m := range db.Migratable() {
		if err := gdb.AutoMigrate(m); err != nil {
			t.Fatalf("automigrate %T: %v", m, err)
		}
	}
	user := &models.User{Email: "artisan@test.fr", Prenom: "Test", Nom: "Artisan"}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return NewApp(gdb, zap.NewNop()), user
}

func sessionCookie(userID uint) *http.Cookie {
	rec := httptest.NewRecorder()
	auth.CreateSession(rec, userID)
	return rec.Result().Cookies()[0]
}

func doJSON(t *testing.T, ts *httptest.Server, cookie *http.Cookie, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealthEndpoints(t *testing.T) {
	app, _ := testApp(t, "srv_health")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()

	resp, _ := doJSON(t, ts, nil, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, nil, http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("request id header missing")
	}
}

func TestAPIRequiresSession(t *testing.T) {
	app, _ := testApp(t, "srv_auth")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()

	resp, _ := doJSON(t, ts, nil, http.MethodGet, "/api/quotes", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", resp.StatusCode)
	}
	// A forged session for a user that does not exist is rejected too.
	resp, _ = doJSON(t, ts, sessionCookie(999), http.MethodGet, "/api/quotes", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown user session = %d, want 401", resp.StatusCode)
	}
}

func TestQuoteToPaidInvoiceFlow(t *testing.T) {
	app, user := testApp(t, "srv_flow")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	cookie := sessionCookie(user.ID)

	// Create a quote with an aggregate line.
	resp, body := doJSON(t, ts, cookie, http.MethodPost, "/api/quotes", map[string]any{
		"client_name":    "M. Dupont",
		"client_address": "8 avenue des Chênes, 94300 Vincennes",
		"items": []map[string]any{
			{"description": "Dépose", "quantity": 1, "unitPrice": 450},
			{"description": "Rénovation", "subItems": []map[string]any{
				{"description": "Carrelage", "quantity": 2, "unitPrice": 10},
				{"description": "Joints", "quantity": 1, "unitPrice": 5},
			}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create quote = %d: %s", resp.StatusCode, body)
	}
	var quote struct {
		ID       uint    `json:"id"`
		Number   string  `json:"number"`
		TotalHT  float64 `json:"total_ht"`
		TotalTTC float64 `json:"total_ttc"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.TotalHT != 475 || quote.TotalTTC != 570 {
		t.Fatalf("totals = %v/%v, want 475/570", quote.TotalHT, quote.TotalTTC)
	}
	if !strings.HasSuffix(quote.Number, "-001") {
		t.Errorf("number = %q, want first rank", quote.Number)
	}

	// Invoicing a draft quote is rejected.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, "/api/invoices", map[string]any{"quote_id": quote.ID})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invoice from draft = %d: %s", resp.StatusCode, body)
	}

	// Accept, then invoice.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/quotes/status?id=%d", quote.ID), map[string]string{"status": "accepté"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept quote = %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, cookie, http.MethodPost, "/api/invoices", map[string]any{"quote_id": quote.ID})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create invoice = %d: %s", resp.StatusCode, body)
	}
	var invoice struct {
		ID       uint    `json:"id"`
		TotalTTC float64 `json:"total_ttc"`
		Status   string  `json:"status"`
	}
	if err := json.Unmarshal(body, &invoice); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if invoice.TotalTTC != 570 {
		t.Fatalf("invoice total = %v, want 570", invoice.TotalTTC)
	}

	// Partial payment, then overpayment attempt, then settle.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/invoices/payments?id=%d", invoice.ID), map[string]any{
		"amount": 300, "payment_method": "virement",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("payment = %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/invoices/payments?id=%d", invoice.ID), map[string]any{
		"amount": 400, "payment_method": "virement",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("overpayment = %d, want 400: %s", resp.StatusCode, body)
	}
	var overErr struct {
		Error   string `json:"error"`
		Details struct {
			Remaining float64 `json:"remaining"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &overErr); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if overErr.Error != "overpayment" || overErr.Details.Remaining != 270 {
		t.Fatalf("overpayment payload = %s", body)
	}
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/invoices/payments?id=%d", invoice.ID), map[string]any{
		"amount": 270, "payment_method": "cheque",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("settling payment = %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, ts, cookie, http.MethodGet, fmt.Sprintf("/api/invoices/item?id=%d", invoice.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get invoice = %d", resp.StatusCode)
	}
	var paid struct {
		Status          string  `json:"status"`
		PaidAmount      float64 `json:"paid_amount"`
		RemainingAmount float64 `json:"remaining_amount"`
	}
	if err := json.Unmarshal(body, &paid); err != nil {
		t.Fatalf("decode invoice: %v", err)
	}
	if paid.Status != "payée" || paid.PaidAmount != 570 || paid.RemainingAmount != 0 {
		t.Fatalf("settled invoice = %+v", paid)
	}

	// A paid invoice cannot be cancelled.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/invoices/cancel?id=%d", invoice.ID), nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel paid = %d, want 409: %s", resp.StatusCode, body)
	}
}

func TestQuotePDFDownload(t *testing.T) {
	app, user := testApp(t, "srv_pdf")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	cookie := sessionCookie(user.ID)

	resp, body := doJSON(t, ts, cookie, http.MethodPost, "/api/quotes", map[string]any{
		"client_name": "Mme Martin",
		"items":       []map[string]any{{"description": "Peinture", "quantity": 4, "unitPrice": 120}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create quote = %d: %s", resp.StatusCode, body)
	}
	var quote struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}

	resp, body = doJSON(t, ts, cookie, http.MethodGet, fmt.Sprintf("/api/quotes/pdf?id=%d", quote.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "devis-") || !strings.Contains(cd, "Mme-Martin") {
		t.Errorf("disposition = %q", cd)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatal("body is not a PDF stream")
	}

	// Data-URI variant wraps the same bytes in JSON.
	resp, body = doJSON(t, ts, cookie, http.MethodGet, fmt.Sprintf("/api/quotes/pdf?id=%d&format=datauri", quote.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("datauri = %d", resp.StatusCode)
	}
	var uri struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(body, &uri); err != nil {
		t.Fatalf("decode datauri: %v", err)
	}
	if !strings.HasPrefix(uri.Data, "data:application/pdf;base64,") {
		t.Errorf("data prefix wrong: %.40s", uri.Data)
	}
}

func TestSignLocksQuote(t *testing.T) {
	app, user := testApp(t, "srv_sign")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	cookie := sessionCookie(user.ID)

	resp, body := doJSON(t, ts, cookie, http.MethodPost, "/api/quotes", map[string]any{
		"client_name": "M. Bernard",
		"items":       []map[string]any{{"description": "Électricité", "quantity": 1, "unitPrice": 900}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create quote = %d: %s", resp.StatusCode, body)
	}
	var quote struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}

	// Corrupt signature payloads still sign: embedding fails open.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/quotes/sign?id=%d", quote.ID), map[string]any{
		"image":         "bm90IGEgcG5n",
		"signer_prenom": "Paul",
		"signer_nom":    "Bernard",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sign = %d: %s", resp.StatusCode, body)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatal("signed response is not a PDF stream")
	}

	resp, body = doJSON(t, ts, cookie, http.MethodGet, fmt.Sprintf("/api/quotes/item?id=%d", quote.ID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get quote = %d", resp.StatusCode)
	}
	var signed struct {
		Status       string `json:"status"`
		SignerPrenom string `json:"signer_prenom"`
	}
	if err := json.Unmarshal(body, &signed); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if signed.Status != "signé" || signed.SignerPrenom != "Paul" {
		t.Fatalf("signed quote = %+v", signed)
	}

	// Signé is a hard lock.
	resp, body = doJSON(t, ts, cookie, http.MethodPost, fmt.Sprintf("/api/quotes/sign?id=%d", quote.ID), map[string]any{"image": "bm90IGEgcG5n"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-sign = %d, want 409: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, cookie, http.MethodPut, fmt.Sprintf("/api/quotes/item?id=%d", quote.ID), map[string]any{"client_name": "Autre"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("update signé = %d, want 409: %s", resp.StatusCode, body)
	}
}

func TestValidationErrorsSurfaceDetails(t *testing.T) {
	app, user := testApp(t, "srv_validation")
	ts := httptest.NewServer(app.Handler())
	defer ts.Close()
	cookie := sessionCookie(user.ID)

	resp, body := doJSON(t, ts, cookie, http.MethodPost, "/api/quotes", map[string]any{"client_email": "not-an-email"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid quote = %d: %s", resp.StatusCode, body)
	}
	var errResp struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error != "validation_failed" || len(errResp.Details) == 0 {
		t.Fatalf("error payload = %s", body)
	}
}
