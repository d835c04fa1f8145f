package store

import (
	"time"

	"github.com/google/uuid"
)

// BaseModel holds the fields shared by every top-level row in this package:
// a UUIDv7 primary key and creation/update timestamps.
type BaseModel struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
