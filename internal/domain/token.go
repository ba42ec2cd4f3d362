package domain

import "time"

// TokenType discriminates access from refresh tokens. The value embedded in
// the signed token must match the value stored on the shadow record.
type TokenType string

const (
	TokenTypeAccess  TokenType = "ACCESS"
	TokenTypeRefresh TokenType = "REFRESH"
)

// TokenRecord is the store-side shadow of an issued token. It tracks the
// revocation and expiry state independently of the token's own embedded
// expiry. Every field except Blacklisted is immutable after creation;
// Blacklisted only ever flips false -> true.
type TokenRecord struct {
	Token       string    `json:"token"`
	FamilyID    string    `json:"family_id"`
	Type        TokenType `json:"type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Blacklisted bool      `json:"blacklisted"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsExpired reports whether the record's own TTL has elapsed.
func (r *TokenRecord) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}

// IsValid reports whether the record is neither blacklisted nor expired.
func (r *TokenRecord) IsValid() bool {
	return !r.Blacklisted && !r.IsExpired()
}
