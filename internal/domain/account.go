package domain

import "time"

// Account is a local user record that an asserted identity maps onto.
type Account struct {
	ID           int64
	Login        string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	// RoleAdministrator may manage site options.
	RoleAdministrator = "administrator"
	// StatusActive marks an account that may sign in.
	StatusActive = "ACTIVE"
)

// IsAdministrator reports whether the account may manage site options.
func (a Account) IsAdministrator() bool {
	return a.Role == RoleAdministrator
}
