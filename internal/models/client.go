package models

import "time"

// Client entity. CRUD lives outside this core; the row only feeds identity
// snapshots at quote creation and the clientId list filter.
type Client struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"-"`
	Nom       string    `gorm:"not null;index" json:"nom"`
	Email     string    `json:"email"`
	Telephone string    `json:"telephone"`
	Adresse   string    `json:"adresse"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// Chantier is the owning worksite of a quote or invoice. Foreign to this
// core, kept only for referential integrity and the chantierId filter.
type Chantier struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"-"`
	ClientID  uint      `gorm:"index" json:"client_id"`
	Nom       string    `gorm:"not null" json:"nom"`
	Adresse   string    `json:"adresse"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}
