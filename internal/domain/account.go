package domain

import "time"

// Role identifies the coarse authorization level of an account.
type Role string

const (
	RoleApplicant Role = "APPLICANT"
	RoleReviewer  Role = "REVIEWER"
	RoleAdmin     Role = "ADMIN"
)

// Account is the domain model for an admissions account. The four status
// flags mirror the persisted columns; all must be true for the account to
// be usable.
type Account struct {
	ID                    string
	Name                  string
	Email                 string
	PasswordHash          string
	Role                  Role
	Permissions           []string
	Enabled               bool
	AccountNonLocked      bool
	AccountNonExpired     bool
	CredentialsNonExpired bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// IsActive reports whether the account may authenticate: it must be enabled,
// not locked, not expired, and its credentials must still be valid.
func (a *Account) IsActive() bool {
	return a.Enabled && a.AccountNonLocked && a.AccountNonExpired && a.CredentialsNonExpired
}

// Status summarizes the account state for token claims.
func (a *Account) Status() string {
	if a.IsActive() {
		return "ACTIVE"
	}
	return "INACTIVE"
}
