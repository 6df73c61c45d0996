package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/batisoft/batifact/internal/apperr"
	"github.com/batisoft/batifact/internal/auth"
	"github.com/batisoft/batifact/internal/httpx"
	"github.com/batisoft/batifact/internal/middleware"
	"github.com/batisoft/batifact/internal/models"
	"github.com/batisoft/batifact/internal/pdf"
	"github.com/batisoft/batifact/internal/services"
)

// QuoteHandler serves the quote lifecycle endpoints.
type QuoteHandler struct {
	DB       *gorm.DB
	Svc      *services.QuoteService
	Embedder *pdf.Embedder
	Log      *zap.Logger
}

func NewQuoteHandler(db *gorm.DB, svc *services.QuoteService, emb *pdf.Embedder, log *zap.Logger) *QuoteHandler {
	return &QuoteHandler{DB: db, Svc: svc, Embedder: emb, Log: log}
}

type quoteRequest struct {
	ClientID      uint             `json:"client_id"`
	ChantierID    *uint            `json:"chantier_id"`
	ClientName    string           `json:"client_name" validate:"required"`
	ClientEmail   string           `json:"client_email" validate:"omitempty,email"`
	ClientPhone   string           `json:"client_phone"`
	ClientAddress string           `json:"client_address"`
	Items         models.LineItems `json:"items"`
	ValidityDays  int              `json:"validity_days" validate:"omitempty,gte=1,lte=365"`
	Notes         string           `json:"notes"`
	Status        string           `json:"status" validate:"omitempty,oneof=brouillon envoyé accepté refusé expiré validé signé"`
}

func (req *quoteRequest) toInput() services.QuoteInput {
	return services.QuoteInput{
		ClientID:        req.ClientID,
		ChantierID:      req.ChantierID,
		ClientNom:       req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientTelephone: req.ClientPhone,
		ClientAdresse:   req.ClientAddress,
		Items:           req.Items,
		ValidityDays:    req.ValidityDays,
		Notes:           req.Notes,
		Status:          req.Status,
	}
}

// quoteView adds the derived display fields to the stored quote.
type quoteView struct {
	*models.Quote
	Number    string `json:"number"`
	IsExpired bool   `json:"is_expired"`
}

func (h *QuoteHandler) view(ctx context.Context, q *models.Quote) quoteView {
	number, err := h.Svc.DisplayNumber(ctx, q)
	if err != nil {
		h.Log.Warn("quote number derivation failed", zap.Uint("quote_id", q.ID), zap.Error(err))
	}
	return quoteView{Quote: q, Number: number, IsExpired: services.IsExpired(q, h.Svc.Now())}
}

// Collection handles GET (list) and POST (create) on /api/quotes.
func (h *QuoteHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

// Item handles GET/PUT/DELETE on /api/quotes/item?id=N.
func (h *QuoteHandler) Item(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	id, ok := idParam(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		q, err := h.Svc.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, h.view(r.Context(), q))
	case http.MethodPut:
		h.update(w, r, userID, id)
	case http.MethodDelete:
		if err := h.Svc.Delete(r.Context(), userID, id); err != nil {
			writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]bool{"deleted": true})
	default:
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	}
}

func (h *QuoteHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	f := services.QuoteFilter{Status: r.URL.Query().Get("status")}
	if cid, ok := idParam(r, "client_id"); ok {
		f.ClientID = cid
	}
	if chid, ok := idParam(r, "chantier_id"); ok {
		f.ChantierID = chid
	}
	if y := r.URL.Query().Get("year"); y != "" {
		if year, err := strconv.Atoi(y); err == nil {
			f.Year = year
		}
	}
	quotes, err := h.Svc.List(r.Context(), userID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]quoteView, 0, len(quotes))
	for i := range quotes {
		views = append(views, h.view(r.Context(), &quotes[i]))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *QuoteHandler) create(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Svc.Create(r.Context(), userID, req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(r.Context(), q))
}

func (h *QuoteHandler) update(w http.ResponseWriter, r *http.Request, userID, id uint) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Svc.SubmitUpdate(r.Context(), userID, id, req.toInput())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), q))
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// Status handles POST /api/quotes/status?id=N with {"status": "..."}.
func (h *QuoteHandler) Status(w http.ResponseWriter, r *http.Request) {
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
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Svc.SetStatus(r.Context(), userID, id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), q))
}

// PDF handles GET /api/quotes/pdf?id=N[&format=datauri].
func (h *QuoteHandler) PDF(w http.ResponseWriter, r *http.Request) {
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
	q, err := h.Svc.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	number, doc, err := h.render(r.Context(), userID, q, middleware.Lang(r))
	if err != nil {
		writeError(w, err)
		return
	}
	name := pdf.Filename("devis", number, q.ClientNom, q.CreatedAt)
	servePDF(w, r, doc, name)
}

type signRequest struct {
	Image        string      `json:"image" validate:"required"`
	SignerPrenom string      `json:"signer_prenom"`
	SignerNom    string      `json:"signer_nom"`
	Rect         *pdf.RectMM `json:"rect"`
}

// Sign handles POST /api/quotes/sign?id=N: renders the quote, embeds the
// raster signature and locks the quote in the signé state. The signed
// document itself is returned so the client can archive it.
func (h *QuoteHandler) Sign(w http.ResponseWriter, r *http.Request) {
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
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := checkStruct(&req); err != nil {
		writeError(w, err)
		return
	}
	q, err := h.Svc.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if q.EffectiveStatus() == models.QuoteStatusSigne {
		writeError(w, &apperr.ImmutableStateError{Entity: "devis", Status: models.QuoteStatusSigne, Reason: "un devis signé est verrouillé"})
		return
	}

	number, doc, err := h.render(r.Context(), userID, q, middleware.Lang(r))
	if err != nil {
		writeError(w, err)
		return
	}
	signedAt := h.Svc.Now()
	signed := h.Embedder.Embed(doc, pdf.SignatureRequest{
		ImageBase64:  req.Image,
		SignerPrenom: req.SignerPrenom,
		SignerNom:    req.SignerNom,
		SignedAt:     signedAt,
		Rect:         req.Rect,
	})
	if _, err := h.Svc.MarkSigned(r.Context(), userID, id, req.SignerPrenom, req.SignerNom, signedAt); err != nil {
		writeError(w, err)
		return
	}
	name := pdf.Filename("devis-signe", number, q.ClientNom, signedAt)
	servePDF(w, r, signed, name)
}

// render builds the quote document from the stored snapshot and the issuer's
// company settings.
func (h *QuoteHandler) render(ctx context.Context, userID uint, q *models.Quote, lang string) (string, []byte, error) {
	number, err := h.Svc.DisplayNumber(ctx, q)
	if err != nil {
		return "", nil, err
	}
	company, err := loadCompany(ctx, h.DB, userID)
	if err != nil {
		return "", nil, err
	}
	doc, err := pdf.QuotePDF(pdf.QuoteData{
		Number:     number,
		Date:       q.CreatedAt,
		ValidUntil: pdf.QuoteValidUntil(q.CreatedAt, q.ValidityDays),
		Company:    company,
		Client: pdf.Party{
			Name:    q.ClientNom,
			Address: q.ClientAdresse,
			Email:   q.ClientEmail,
			Phone:   q.ClientTelephone,
		},
		Items:  q.Items,
		Totals: pdf.Totals{HT: q.TotalHT, TVA: q.TotalTTC - q.TotalHT, TTC: q.TotalTTC},
		Notes:  q.Notes,
		Lang:   lang,
	})
	if err != nil {
		return "", nil, err
	}
	return number, doc, nil
}

// loadCompany maps the issuer's settings row onto the renderer's view model.
// A missing row renders an unbranded document rather than failing.
func loadCompany(ctx context.Context, db *gorm.DB, userID uint) (pdf.Company, error) {
	var cs models.CompanySettings
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pdf.Company{}, nil
	}
	if err != nil {
		return pdf.Company{}, apperr.External("load company settings", err)
	}
	address := cs.Adresse
	if cs.CodePostal != "" || cs.Ville != "" {
		address = strings.TrimSpace(address + ", " + strings.TrimSpace(cs.CodePostal+" "+cs.Ville))
	}
	return pdf.Company{
		Name:            cs.RaisonSociale,
		Address:         strings.Trim(address, ", "),
		SIRET:           cs.SIRET,
		TVAIntra:        cs.TVAIntra,
		Phone:           cs.Telephone,
		Email:           cs.Email,
		IBAN:            cs.IBAN,
		LogoPath:        cs.LogoPath,
		ThemeColor:      cs.CouleurTheme,
		MentionsLegales: cs.MentionsLegales,
	}, nil
}

// servePDF writes the document either as a download or, with format=datauri,
// as a JSON envelope carrying the base64 data URI.
func servePDF(w http.ResponseWriter, r *http.Request, doc []byte, filename string) {
	if r.URL.Query().Get("format") == "datauri" {
		httpx.JSON(w, http.StatusOK, map[string]string{
			"filename": filename,
			"data":     pdf.DataURI(doc),
		})
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}
