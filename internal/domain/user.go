package domain

import "context"

// Identity is the authenticated caller as asserted by a verified session token.
type Identity struct {
	UserID string
	Email  string
}

type User struct {
	ID    string
	Email string
	Name  string
}

// UserDirectory is a read-only view of the account store. Registration and
// credential management live outside this service.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}
