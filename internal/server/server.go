// Package server wires the handlers, middleware and HTTP surface.
package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/batisoft/batifact/internal/auth"
	"github.com/batisoft/batifact/internal/handlers"
	"github.com/batisoft/batifact/internal/httpx"
	"github.com/batisoft/batifact/internal/middleware"
	"github.com/batisoft/batifact/internal/models"
	"github.com/batisoft/batifact/internal/pdf"
	"github.com/batisoft/batifact/internal/services"
)

// App holds the wired application.
type App struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Quotes   *handlers.QuoteHandler
	Invoices *handlers.InvoiceHandler
}

// NewApp builds the services and handlers on top of an opened store.
func NewApp(db *gorm.DB, log *zap.Logger) *App {
	quoteSvc := services.NewQuoteService(db, log)
	invoiceSvc := services.NewInvoiceService(db, log)
	embedder := pdf.NewEmbedder(log)

	auth.SetUserVerifier(func(ctx context.Context, uid uint) bool {
		var count int64
		if err := db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&count).Error; err != nil {
			return false
		}
		return count > 0
	})

	return &App{
		DB:       db,
		Log:      log,
		Quotes:   handlers.NewQuoteHandler(db, quoteSvc, embedder, log),
		Invoices: handlers.NewInvoiceHandler(db, invoiceSvc, log),
	}
}

// Handler assembles the route table with the middleware chain.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/healthz", a.healthz)

	protect := func(h http.HandlerFunc) http.Handler { return auth.RequireAuth(h) }
	mux.Handle("/api/quotes", protect(a.Quotes.Collection))
	mux.Handle("/api/quotes/item", protect(a.Quotes.Item))
	mux.Handle("/api/quotes/status", protect(a.Quotes.Status))
	mux.Handle("/api/quotes/pdf", protect(a.Quotes.PDF))
	mux.Handle("/api/quotes/sign", protect(a.Quotes.Sign))

	mux.Handle("/api/invoices", protect(a.Invoices.Collection))
	mux.Handle("/api/invoices/item", protect(a.Invoices.Item))
	mux.Handle("/api/invoices/cancel", protect(a.Invoices.Cancel))
	mux.Handle("/api/invoices/payments", protect(a.Invoices.Payments))
	mux.Handle("/api/invoices/stats", protect(a.Invoices.Stats))
	mux.Handle("/api/invoices/pdf", protect(a.Invoices.PDF))

	var h http.Handler = mux
	h = auth.Middleware(h)
	h = middleware.AccessLog(h)
	h = middleware.RequestID(a.Log)(h)
	return h
}

// healthz checks store reachability, 503 when the ping fails.
func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.DB.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
		httpx.JSONError(w, http.StatusServiceUnavailable, "store_unreachable", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
