package models

import "time"

// Quote statuses. validé and signé are locked terminal states for mutation;
// signé additionally freezes every field (hard lock).
const (
	QuoteStatusBrouillon = "brouillon"
	QuoteStatusEnvoye    = "envoyé"
	QuoteStatusAccepte   = "accepté"
	QuoteStatusRefuse    = "refusé"
	QuoteStatusExpire    = "expiré"
	QuoteStatusValide    = "validé"
	QuoteStatusSigne     = "signé"
)

// QuoteStatuses lists every accepted status value.
var QuoteStatuses = []string{
	QuoteStatusBrouillon, QuoteStatusEnvoye, QuoteStatusAccepte,
	QuoteStatusRefuse, QuoteStatusExpire, QuoteStatusValide, QuoteStatusSigne,
}

// Quote / devis. Client identity is a snapshot copied at creation time, not
// a live reference; the optional ClientID only serves list filters.
type Quote struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	UserID     uint  `gorm:"not null;index" json:"-"`
	ClientID   uint  `gorm:"index" json:"client_id,omitempty"`
	ChantierID *uint `gorm:"index" json:"chantier_id,omitempty"`

	ClientNom       string `gorm:"not null" json:"client_name"`
	ClientEmail     string `json:"client_email"`
	ClientTelephone string `json:"client_phone"`
	ClientAdresse   string `json:"client_address"`

	Items        LineItems `gorm:"type:text" json:"items"`
	TotalHT      float64   `json:"total_ht"`
	TotalTTC     float64   `json:"total_ttc"`
	ValidityDays int       `gorm:"default:30" json:"validity_days"`

	// Status may stay empty until the first explicit transition; an unset
	// status reads as brouillon.
	Status     string     `gorm:"index" json:"status"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`

	SignedAt     *time.Time `json:"signed_at,omitempty"`
	SignerNom    string     `json:"signer_nom,omitempty"`
	SignerPrenom string     `json:"signer_prenom,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// EffectiveStatus maps the never-transitioned empty status to brouillon.
func (q *Quote) EffectiveStatus() string {
	if q.Status == "" {
		return QuoteStatusBrouillon
	}
	return q.Status
}

// ValidQuoteStatus reports whether s is a known quote status.
func ValidQuoteStatus(s string) bool {
	for _, v := range QuoteStatuses {
		if v == s {
			return true
		}
	}
	return false
}
