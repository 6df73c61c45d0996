package models

import "time"

// CompanySettings holds the issuer identity printed on documents.
type CompanySettings struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"not null;index" json:"-"`
	RaisonSociale string `gorm:"not null" json:"raison_sociale"`
	Adresse       string `json:"adresse"`
	CodePostal    string `json:"code_postal"`
	Ville         string `json:"ville"`
	SIRET         string `gorm:"size:14;index" json:"siret"`
	TVAIntra      string `json:"tva_intra"`
	Telephone     string `json:"telephone"`
	Email         string `json:"email"`
	IBAN          string `json:"iban"`
	LogoPath      string `json:"logo_path"`
	// CouleurTheme is the header accent color, "#RRGGBB". Header text color
	// is derived from its relative luminance at render time.
	CouleurTheme    string    `gorm:"default:'#1d4ed8'" json:"couleur_theme"`
	MentionsLegales string    `json:"mentions_legales"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"-"`
}
