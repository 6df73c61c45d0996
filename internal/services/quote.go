package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/batisoft/batifact/internal/apperr"
	"github.com/batisoft/batifact/internal/models"
)

// terminal acceptance states stamp accepted_at on transition.
var acceptedStamping = map[string]bool{
	models.QuoteStatusAccepte: true,
	models.QuoteStatusValide:  true,
	models.QuoteStatusSigne:   true,
}

// QuoteService owns the quote lifecycle: the status state machine,
// validity/expiration computation and display numbering.
type QuoteService struct {
	DB  *gorm.DB
	Log *zap.Logger
	Now func() time.Time
}

func NewQuoteService(db *gorm.DB, log *zap.Logger) *QuoteService {
	return &QuoteService{DB: db, Log: log, Now: time.Now}
}

// QuoteInput is the full-resubmission payload used by Create and SubmitUpdate.
type QuoteInput struct {
	ClientID        uint
	ChantierID      *uint
	ClientNom       string
	ClientEmail     string
	ClientTelephone string
	ClientAdresse   string
	Items           models.LineItems
	ValidityDays    int
	Notes           string
	Status          string // optional; empty means "leave unchanged"
}

// Create opens a new quote in the brouillon-equivalent state. Client
// identity is snapshotted from the payload, not referenced live.
func (s *QuoteService) Create(ctx context.Context, userID uint, in QuoteInput) (*models.Quote, error) {
	if in.ClientNom == "" {
		return nil, apperr.NewValidation("client_name", "required")
	}
	if in.Status != "" && !models.ValidQuoteStatus(in.Status) {
		return nil, apperr.NewValidation("status", "unknown_status")
	}
	in.Items.Normalize()
	validity := in.ValidityDays
	if validity <= 0 {
		validity = 30
	}
	q := models.Quote{
		UserID:          userID,
		ClientID:        in.ClientID,
		ChantierID:      in.ChantierID,
		ClientNom:       in.ClientNom,
		ClientEmail:     in.ClientEmail,
		ClientTelephone: in.ClientTelephone,
		ClientAdresse:   in.ClientAdresse,
		Items:           in.Items,
		ValidityDays:    validity,
		Status:          in.Status,
		Notes:           in.Notes,
	}
	q.TotalHT, q.TotalTTC = Totals(in.Items)
	if err := s.DB.WithContext(ctx).Create(&q).Error; err != nil {
		return nil, apperr.External("create quote", err)
	}
	return &q, nil
}

// SubmitUpdate replaces the quote's mutable fields with the resubmitted
// payload. A signé quote is rejected before any field is written; a validé
// quote accepts field updates but its terminal status may not be reverted.
func (s *QuoteService) SubmitUpdate(ctx context.Context, userID, id uint, in QuoteInput) (*models.Quote, error) {
	var q models.Quote
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&q, id).Error; err != nil {
		return nil, wrapLookup("load quote", err)
	}
	if q.EffectiveStatus() == models.QuoteStatusSigne {
		return nil, &apperr.ImmutableStateError{Entity: "devis", Status: models.QuoteStatusSigne, Reason: "un devis signé est verrouillé"}
	}
	if in.Status != "" && !models.ValidQuoteStatus(in.Status) {
		return nil, apperr.NewValidation("status", "unknown_status")
	}
	if q.EffectiveStatus() == models.QuoteStatusValide && in.Status != "" &&
		in.Status != models.QuoteStatusValide && in.Status != models.QuoteStatusSigne {
		return nil, &apperr.ImmutableStateError{Entity: "devis", Status: models.QuoteStatusValide, Reason: "le statut validé ne peut pas être rétrogradé"}
	}
	if in.ClientNom == "" {
		return nil, apperr.NewValidation("client_name", "required")
	}

	in.Items.Normalize()
	totalHT, totalTTC := Totals(in.Items)
	updates := map[string]any{
		"client_id":        in.ClientID,
		"chantier_id":      in.ChantierID,
		"client_nom":       in.ClientNom,
		"client_email":     in.ClientEmail,
		"client_telephone": in.ClientTelephone,
		"client_adresse":   in.ClientAdresse,
		"items":            in.Items,
		"total_ht":         totalHT,
		"total_ttc":        totalTTC,
		"notes":            in.Notes,
	}
	if in.ValidityDays > 0 {
		updates["validity_days"] = in.ValidityDays
	}
	if err := s.DB.WithContext(ctx).Model(&q).Updates(updates).Error; err != nil {
		return nil, apperr.External("update quote", err)
	}
	if in.Status != "" && in.Status != q.EffectiveStatus() {
		return s.SetStatus(ctx, userID, id, in.Status)
	}
	if err := s.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, apperr.External("reload quote", err)
	}
	return &q, nil
}

// SetStatus transitions the quote. Any status may move to any other, except
// out of signé. accepté/validé/signé stamp accepted_at; if the store lacks
// that column the write is retried without the timestamp rather than failed.
func (s *QuoteService) SetStatus(ctx context.Context, userID, id uint, newStatus string) (*models.Quote, error) {
	if !models.ValidQuoteStatus(newStatus) {
		return nil, apperr.NewValidation("status", "unknown_status")
	}
	var q models.Quote
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&q, id).Error; err != nil {
		return nil, wrapLookup("load quote", err)
	}
	if q.EffectiveStatus() == models.QuoteStatusSigne && newStatus != models.QuoteStatusSigne {
		return nil, &apperr.ImmutableStateError{Entity: "devis", Status: models.QuoteStatusSigne, Reason: "un devis signé ne change plus de statut"}
	}

	updates := map[string]any{"status": newStatus}
	if acceptedStamping[newStatus] {
		updates["accepted_at"] = s.Now()
	}
	err := s.DB.WithContext(ctx).Model(&q).Updates(updates).Error
	if err != nil && apperr.IsMissingColumn(err) && acceptedStamping[newStatus] {
		// Schema-tolerant degrade: retry without the timestamp column.
		s.Log.Warn("accepted_at column missing, retrying status write without timestamp",
			zap.Uint("quote_id", id), zap.String("status", newStatus))
		err = s.DB.WithContext(ctx).Model(&q).Update("status", newStatus).Error
	}
	if err != nil {
		return nil, apperr.External("set quote status", err)
	}
	if err := s.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, apperr.External("reload quote", err)
	}
	return &q, nil
}

// IsExpired is pure: now strictly past created_at + validity_days. It is
// display-time information, never persisted as a status change unless the
// caller explicitly transitions to expiré.
func IsExpired(q *models.Quote, now time.Time) bool {
	days := q.ValidityDays
	if days <= 0 {
		days = 30
	}
	return now.After(q.CreatedAt.Add(time.Duration(days) * 24 * time.Hour))
}

// DisplayNumber derives the human-facing number "{year}-{rank:03d}" where
// rank is the quote's 1-based position among the currently existing quotes
// of the same calendar year, ordered by created_at. Recomputed on every
// call: deleting an earlier quote shifts later ranks, by design.
func (s *QuoteService) DisplayNumber(ctx context.Context, q *models.Quote) (string, error) {
	year := q.CreatedAt.Year()
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, q.CreatedAt.Location())
	end := start.AddDate(1, 0, 0)
	var rank int64
	err := s.DB.WithContext(ctx).Model(&models.Quote{}).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", q.UserID, start, end).
		Where("created_at < ? OR (created_at = ? AND id <= ?)", q.CreatedAt, q.CreatedAt, q.ID).
		Count(&rank).Error
	if err != nil {
		return "", apperr.External("rank quote", err)
	}
	if rank == 0 {
		rank = 1
	}
	return fmt.Sprintf("%d-%03d", year, rank), nil
}

// Get loads one quote scoped to its owner.
func (s *QuoteService) Get(ctx context.Context, userID, id uint) (*models.Quote, error) {
	var q models.Quote
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&q, id).Error; err != nil {
		return nil, wrapLookup("load quote", err)
	}
	return &q, nil
}

// QuoteFilter narrows List.
type QuoteFilter struct {
	ClientID   uint
	ChantierID uint
	Status     string
	Year       int
}

// List returns the owner's quotes, newest first.
func (s *QuoteService) List(ctx context.Context, userID uint, f QuoteFilter) ([]models.Quote, error) {
	dbq := s.DB.WithContext(ctx).Where("user_id = ?", userID)
	if f.ClientID != 0 {
		dbq = dbq.Where("client_id = ?", f.ClientID)
	}
	if f.ChantierID != 0 {
		dbq = dbq.Where("chantier_id = ?", f.ChantierID)
	}
	if f.Status != "" {
		dbq = dbq.Where("status = ?", f.Status)
	}
	if f.Year != 0 {
		start := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		dbq = dbq.Where("created_at >= ? AND created_at < ?", start, start.AddDate(1, 0, 0))
	}
	var quotes []models.Quote
	if err := dbq.Order("created_at desc, id desc").Find(&quotes).Error; err != nil {
		return nil, apperr.External("list quotes", err)
	}
	return quotes, nil
}

// Delete removes a quote permanently. Signed quotes are locked. Later
// quotes of the same year take over the freed display rank.
func (s *QuoteService) Delete(ctx context.Context, userID, id uint) error {
	var q models.Quote
	if err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&q, id).Error; err != nil {
		return wrapLookup("load quote", err)
	}
	if q.EffectiveStatus() == models.QuoteStatusSigne {
		return &apperr.ImmutableStateError{Entity: "devis", Status: models.QuoteStatusSigne, Reason: "un devis signé ne peut pas être supprimé"}
	}
	if err := s.DB.WithContext(ctx).Delete(&q).Error; err != nil {
		return apperr.External("delete quote", err)
	}
	return nil
}

// MarkSigned stamps the signer identity after a successful signature
// embedding and locks the quote in the signé state.
func (s *QuoteService) MarkSigned(ctx context.Context, userID, id uint, signerPrenom, signerNom string, signedAt time.Time) (*models.Quote, error) {
	q, err := s.SetStatus(ctx, userID, id, models.QuoteStatusSigne)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"signed_at":     signedAt,
		"signer_prenom": signerPrenom,
		"signer_nom":    signerNom,
	}
	if err := s.DB.WithContext(ctx).Model(q).Updates(updates).Error; err != nil {
		if apperr.IsMissingColumn(err) {
			s.Log.Warn("signer columns missing, keeping signé status without identity", zap.Uint("quote_id", id))
			return q, nil
		}
		return nil, apperr.External("stamp signer", err)
	}
	if err := s.DB.WithContext(ctx).First(q, id).Error; err != nil {
		return nil, apperr.External("reload quote", err)
	}
	return q, nil
}

// Totals computes total_ht from normalized items and total_ttc at the fixed
// 20 % French VAT rate.
func Totals(items models.LineItems) (totalHT, totalTTC float64) {
	totalHT = items.TotalHT()
	totalTTC = round2(totalHT * 1.20)
	return
}

func wrapLookup(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return apperr.External(op, err)
}
