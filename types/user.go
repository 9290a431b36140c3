package types

import "time"

// User represents a registered account.
// It carries the identity used to sign session tokens and to own rentals.
type User struct {
	// ID is the unique identifier of the user. It is the subject of
	// every session token issued for this account.
	ID int `json:"id" db:"id"`

	// Email is the user's login identifier. It is stored lowercased, so
	// uniqueness and lookups are case-insensitive.
	Email string `json:"email" db:"email"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// PasswordHash stores the salted bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
