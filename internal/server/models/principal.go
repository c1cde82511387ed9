package models

import "time"

// Principal is an authenticated actor. Principals are never deleted;
// deactivation flips IsActive.
type Principal struct {
	ID          string
	DisplayName string
	// Identity is the normalized (trimmed, lower-case) e-mail address.
	Identity string
	// SecretHash is an encoded argon2id hash; the raw secret is never kept.
	SecretHash          string
	IsActive            bool
	LastAuthenticatedAt *time.Time
	CreatedAt           time.Time

	// KeyAlgorithm names the generator used for new key epochs.
	KeyAlgorithm string
	// RotationDays is the scheduled rotation period; 0 disables it.
	RotationDays int
}

func (p *Principal) Clone() *Principal {
	c := *p
	if p.LastAuthenticatedAt != nil {
		t := *p.LastAuthenticatedAt
		c.LastAuthenticatedAt = &t
	}
	return &c
}
