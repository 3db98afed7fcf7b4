package users

import "time"

// User represents an account able to sign in.
type User struct {
	ID           int64
	Username     string
	FullName     string
	Pseudo       string
	PasswordHash string
	IsActive     bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateInput describes a new user.
type CreateInput struct {
	Username string
	FullName string
	Pseudo   string
	Password string
}

// UpdateInput carries optional profile changes.
type UpdateInput struct {
	FullName *string
	Pseudo   *string
	IsActive *bool
}
