package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carries the session subject and the key epoch it was issued under.
type Claims struct {
	jwt.RegisteredClaims
	PrincipalID string `json:"pid"`
	Epoch       int64  `json:"epoch"`
}

// IssueSession signs a credential for principalID valid from issuedAt for
// ttl. A JWT NumericDate carries whole seconds, so issuedAt is rounded down
// and the expiry up: the token never expires before issuedAt+ttl.
func IssueSession(s Signer, principalID string, epoch int64, issuedAt time.Time, ttl time.Duration) (*models.SessionCredential, error) {
	issuedAt = issuedAt.UTC()
	expiresAt := ceilSecond(issuedAt.Add(ttl))
	issuedAt = issuedAt.Truncate(time.Second)

	token, err := s.Sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		PrincipalID: principalID,
		Epoch:       epoch,
	})
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	return &models.SessionCredential{
		Token:           token,
		PrincipalID:     principalID,
		EpochAtIssuance: epoch,
		IssuedAt:        issuedAt,
		ExpiresAt:       expiresAt,
	}, nil
}

func ceilSecond(t time.Time) time.Time {
	down := t.Truncate(time.Second)
	if down.Equal(t) {
		return t
	}
	return down.Add(time.Second)
}

// ParseSession checks the token signature and returns its claims. Expiry is
// not checked here.
func ParseSession(s Signer, token string) (*Claims, error) {
	claims := &Claims{}
	tok, err := s.Verify(token, claims)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, common.ErrMalformedSession
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, common.ErrSessionSignatureInvalid
		default:
			return nil, fmt.Errorf("%w: %v", common.ErrMalformedSession, err)
		}
	}
	if !tok.Valid {
		return nil, common.ErrSessionSignatureInvalid
	}
	if claims.PrincipalID == "" || claims.ExpiresAt == nil || claims.Epoch < 0 {
		return nil, common.ErrMalformedSession
	}
	return claims, nil
}
