package models

import "time"

// Invoice statuses. annulée is terminal and overrides the ledger; payée and
// partiellement_payée are always derived from payments, never trusted from
// the stored column.
const (
	InvoiceStatusBrouillon = "brouillon"
	InvoiceStatusEnvoyee   = "envoyée"
	InvoiceStatusPartielle = "partiellement_payée"
	InvoiceStatusPayee     = "payée"
	InvoiceStatusAnnulee   = "annulée"
)

// Invoice / facture, created from a validated quote. Carries its own copy of
// client and line-item data; it does not track the quote live.
type Invoice struct {
	ID         uint  `gorm:"primaryKey" json:"id"`
	UserID     uint  `gorm:"not null;index" json:"-"`
	QuoteID    *uint `gorm:"index" json:"quote_id,omitempty"`
	ClientID   uint  `gorm:"index" json:"client_id,omitempty"`
	ChantierID *uint `gorm:"index" json:"chantier_id,omitempty"`

	ClientNom       string `gorm:"not null" json:"client_name"`
	ClientEmail     string `json:"client_email"`
	ClientTelephone string `json:"client_phone"`
	ClientAdresse   string `json:"client_address"`

	Items      LineItems `gorm:"type:text" json:"items"`
	SubtotalHT float64   `json:"subtotal_ht"`
	TVAAmount  float64   `json:"tva_amount"`
	TotalTTC   float64   `json:"total_ttc"`

	InvoiceDate  time.Time `json:"invoice_date"`
	DueDate      time.Time `json:"due_date"`
	PaymentTerms string    `json:"payment_terms"`

	Status string `gorm:"index;default:'brouillon'" json:"status"`

	// Soft-cancel marker. Deliberately not gorm.DeletedAt: cancelled
	// invoices must stay visible to list and be skipped by stats
	// explicitly, not hidden from every query.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	Payments []Payment `gorm:"foreignKey:InvoiceID" json:"payments,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}
