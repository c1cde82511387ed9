package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
)

// DefaultSessionTTL applies when no session TTL is configured.
const DefaultSessionTTL = 24 * time.Hour

// TrustService combines credentials and key epochs into the signup and login
// flows.
type TrustService struct {
	repos      repomanager.RepositoryManager
	creds      *CredentialStore
	keys       *KeyLifecycleManager
	sessionTTL time.Duration
}

func NewTrustService(repos repomanager.RepositoryManager, creds *CredentialStore, keys *KeyLifecycleManager, sessionTTL time.Duration) *TrustService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &TrustService{repos: repos, creds: creds, keys: keys, sessionTTL: sessionTTL}
}

// Signup registers a principal and creates its epoch 0 in one transaction,
// so a principal never exists without key material.
func (s *TrustService) Signup(ctx context.Context, in RegisterInput) (*models.Principal, *models.KeyEpoch, error) {
	p, err := s.creds.newPrincipal(in)
	if err != nil {
		return nil, nil, err
	}
	epoch, err := s.keys.newEpoch(p, 0)
	if err != nil {
		return nil, nil, err
	}

	err = s.repos.WithTx(ctx, func(ctx context.Context, r repomanager.Repositories) error {
		if err := r.Principals().Create(ctx, p); err != nil {
			if errors.Is(err, common.ErrDuplicateIdentity) {
				return common.ErrDuplicateIdentity
			}
			return fmt.Errorf("create principal: %w", err)
		}
		return insertInitial(ctx, r, epoch)
	})
	if err != nil {
		return nil, nil, err
	}

	s.creds.log.Info(ctx, "principal signed up", "principal_id", p.ID, "algorithm", epoch.Algorithm)
	return p, epoch, nil
}

// Login authenticates and issues a session bound to the active epoch.
func (s *TrustService) Login(ctx context.Context, identity string, secret cryptox.Secret) (*models.SessionCredential, error) {
	p, err := s.creds.Authenticate(ctx, identity, secret)
	if err != nil {
		return nil, err
	}
	epoch, err := s.keys.CurrentEpoch(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return s.creds.IssueSession(ctx, p, epoch.Epoch, s.sessionTTL)
}
