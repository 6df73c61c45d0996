package models

import "time"

// User is the owning account. Authentication itself is handled outside this
// core; only the identity referenced by sessions is modeled here.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Prenom    string    `json:"prenom"`
	Nom       string    `json:"nom"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}
