package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-only view of an account.
type User struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Username    string    `db:"username" json:"username"`
	DisplayName *string   `db:"display_name" json:"display_name,omitempty"`
	IsActive    bool      `db:"is_active" json:"is_active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type DeviceType string

const (
	DeviceWeb     DeviceType = "web"
	DeviceAndroid DeviceType = "android"
	DeviceIOS     DeviceType = "ios"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceWeb, DeviceAndroid, DeviceIOS:
		return true
	}
	return false
}

// DeviceToken is a push registration for one device of a user.
type DeviceToken struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	UserID     uuid.UUID  `db:"user_id" json:"user_id"`
	Token      string     `db:"token" json:"token"`
	DeviceType DeviceType `db:"device_type" json:"device_type"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}
