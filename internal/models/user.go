package models

import (
	"time"
)

const (
	RoleEditor = "editor"
	RoleAdmin  = "admin"

	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// User is a CMS account able to sign in to the admin dashboard
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
