package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rental represents a listing offered by its owner.
type Rental struct {
	// ID is the unique identifier of the rental, assigned by the store.
	ID int `json:"id" db:"id"`

	// Name is the human-readable title of the listing.
	Name string `json:"name" db:"name"`

	// Surface is the living area in square meters. Fixed-point, always positive.
	Surface decimal.Decimal `json:"surface" db:"surface"`

	// Price is the rent per month. Fixed-point, always positive.
	Price decimal.Decimal `json:"price" db:"price"`

	// Picture is the public URL of the listing's image. It is set once at
	// creation and never changed by updates.
	Picture string `json:"picture" db:"picture"`

	// Description is the free-form text shown with the listing.
	Description string `json:"description" db:"description"`

	// OwnerID references the user who created the rental. Immutable.
	OwnerID int `json:"owner_id" db:"owner_id"`

	// CreatedAt is the timestamp at which the rental was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the rental.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Version is incremented by every write and guards against lost updates.
	Version int `json:"-" db:"version"`
}

// Asset identifies a binary object held by the blob store.
type Asset struct {
	// Namespace groups assets of the same kind, e.g. "images".
	Namespace string `json:"namespace"`

	// Filename is generated at upload time and never reused.
	Filename string `json:"filename"`

	// ContentType is the media type declared by the uploader.
	ContentType string `json:"content_type"`
}

// Key returns the object key of the asset within the bucket.
func (a Asset) Key() string {
	return a.Namespace + "/" + a.Filename
}

// RentalEventType names a mutation published on the events channel.
type RentalEventType string

const (
	RentalCreated RentalEventType = "rental.created"
	RentalUpdated RentalEventType = "rental.updated"
)

// RentalEvent is the payload published after a rental is created or updated.
type RentalEvent struct {
	Type     RentalEventType `json:"type"`
	RentalID int             `json:"rental_id"`
	OwnerID  int             `json:"owner_id"`
	At       time.Time       `json:"at"`
}
