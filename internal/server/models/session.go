package models

import "time"

// SessionCredential is a signed, expiring proof of authentication bound to
// the key epoch active when it was issued.
type SessionCredential struct {
	Token           string
	PrincipalID     string
	EpochAtIssuance int64
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// SessionInfo is the result of a successful session verification.
type SessionInfo struct {
	PrincipalID     string
	EpochAtIssuance int64
	// Stale is set when the principal has rotated past EpochAtIssuance.
	Stale bool
}
