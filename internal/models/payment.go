package models

import "time"

// Payment methods accepted on the wire.
const (
	PaymentVirement = "virement"
	PaymentCheque   = "cheque"
	PaymentEspeces  = "especes"
	PaymentCarte    = "carte"
	PaymentAutre    = "autre"
)

// PaymentMethods lists the enumerated payment_method values.
var PaymentMethods = []string{PaymentVirement, PaymentCheque, PaymentEspeces, PaymentCarte, PaymentAutre}

// Payment belongs to exactly one invoice. Rows are append/delete only; the
// paid amount of an invoice is never stored, always recomputed as
// sum(payments.amount).
type Payment struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	InvoiceID     uint      `gorm:"not null;index" json:"invoice_id"`
	Amount        float64   `gorm:"not null" json:"amount"`
	PaymentDate   time.Time `gorm:"not null" json:"payment_date"`
	PaymentMethod string    `gorm:"not null" json:"payment_method"`
	Reference     string    `json:"reference,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidPaymentMethod reports whether m is one of the enumerated methods.
func ValidPaymentMethod(m string) bool {
	for _, v := range PaymentMethods {
		if v == m {
			return true
		}
	}
	return false
}
