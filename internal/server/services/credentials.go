package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/trustvault/internal/common"
	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/auth"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trustvault/internal/timex"
	"github.com/google/uuid"
)

// DefaultMinSecretLength is the shortest secret Register accepts.
const DefaultMinSecretLength = 6

var identityPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// EpochSource reports a principal's active key epoch. KeyLifecycleManager
// satisfies it.
type EpochSource interface {
	CurrentEpoch(ctx context.Context, principalID string) (*models.KeyEpoch, error)
}

type RegisterInput struct {
	DisplayName string
	Identity    string
	Secret      cryptox.Secret
}

type CredentialOptions struct {
	MinSecretLength int
	// StoreTimeout bounds the principal lookup during session verification.
	StoreTimeout time.Duration
	// Epochs, when set, lets VerifySession flag sessions issued under a
	// retired epoch.
	Epochs              EpochSource
	RejectStaleSessions bool
	DefaultAlgorithm    string
	DefaultRotationDays int
	Clock               timex.Clock
	Logger              logging.Logger
	Metrics             *metrics.Metrics
}

// CredentialStore registers and authenticates principals and issues and
// verifies their session credentials.
type CredentialStore struct {
	repos  repomanager.RepositoryManager
	hasher *cryptox.PasswordHasher
	signer auth.Signer
	opts   CredentialOptions
	log    logging.Logger
}

func NewCredentialStore(repos repomanager.RepositoryManager, hasher *cryptox.PasswordHasher, signer auth.Signer, opts CredentialOptions) *CredentialStore {
	if opts.MinSecretLength <= 0 {
		opts.MinSecretLength = DefaultMinSecretLength
	}
	if opts.DefaultAlgorithm == "" {
		opts.DefaultAlgorithm = cryptox.DefaultKeyAlgorithm
	}
	if opts.Clock == nil {
		opts.Clock = timex.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop{}
	}
	return &CredentialStore{
		repos:  repos,
		hasher: hasher,
		signer: signer,
		opts:   opts,
		log:    opts.Logger.With("module", "credentials"),
	}
}

// newPrincipal validates in and hashes the secret. Nothing is stored.
func (s *CredentialStore) newPrincipal(in RegisterInput) (*models.Principal, error) {
	name := strings.TrimSpace(in.DisplayName)
	if name == "" {
		return nil, common.ErrInvalidDisplayName
	}
	identity := normalizeIdentity(in.Identity)
	if !identityPattern.MatchString(identity) {
		return nil, common.ErrInvalidIdentityFormat
	}
	if utf8.RuneCount(in.Secret.Bytes()) < s.opts.MinSecretLength {
		return nil, common.ErrWeakSecret
	}

	hash, err := s.hasher.Hash(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	return &models.Principal{
		ID:           uuid.NewString(),
		DisplayName:  name,
		Identity:     identity,
		SecretHash:   hash,
		IsActive:     true,
		CreatedAt:    s.opts.Clock.Now().UTC().Truncate(storePrecision),
		KeyAlgorithm: s.opts.DefaultAlgorithm,
		RotationDays: s.opts.DefaultRotationDays,
	}, nil
}

// Register creates a principal. It does not create key material; see
// TrustService.Signup for the combined flow.
func (s *CredentialStore) Register(ctx context.Context, in RegisterInput) (*models.Principal, error) {
	p, err := s.newPrincipal(in)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Principals().Create(ctx, p); err != nil {
		if errors.Is(err, common.ErrDuplicateIdentity) {
			return nil, common.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("create principal: %w", err)
	}

	s.log.Info(ctx, "principal registered", "principal_id", p.ID)
	return p, nil
}

// Authenticate checks identity and secret. Unknown identities and wrong
// secrets are indistinguishable to the caller; the log keeps the reason.
func (s *CredentialStore) Authenticate(ctx context.Context, identity string, secret cryptox.Secret) (p *models.Principal, err error) {
	defer func() { s.opts.Metrics.AuthAttempt(outcome(err)) }()

	lookupCtx, cancel := boundedContext(ctx, s.opts.StoreTimeout)
	defer cancel()

	p, err = s.repos.Principals().GetByIdentity(lookupCtx, normalizeIdentity(identity))
	if err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			s.hasher.Burn(secret)
			s.log.Info(ctx, "authentication failed", "reason", "unknown identity")
			return nil, common.ErrInvalidCredentials
		}
		return nil, storeError("lookup principal", err)
	}

	ok, err := s.hasher.Verify(secret, p.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verify secret: %w", err)
	}
	if !ok {
		s.log.Info(ctx, "authentication failed", "reason", "secret mismatch", "principal_id", p.ID)
		return nil, common.ErrInvalidCredentials
	}
	if !p.IsActive {
		s.log.Info(ctx, "authentication failed", "reason", "deactivated", "principal_id", p.ID)
		return nil, common.ErrPrincipalDeactivated
	}

	now := s.opts.Clock.Now().UTC().Truncate(storePrecision)
	if err := s.repos.Principals().TouchLastAuthenticated(ctx, p.ID, now); err != nil {
		return nil, fmt.Errorf("touch principal: %w", err)
	}
	p.LastAuthenticatedAt = &now
	return p, nil
}

// IssueSession signs a session for principal bound to activeEpoch. A ttl of
// zero yields a credential that is already expired.
func (s *CredentialStore) IssueSession(ctx context.Context, principal *models.Principal, activeEpoch int64, ttl time.Duration) (*models.SessionCredential, error) {
	if ttl < 0 {
		return nil, fmt.Errorf("%w: negative session ttl", common.ErrValidation)
	}
	if !principal.IsActive {
		return nil, common.ErrPrincipalDeactivated
	}
	cred, err := auth.IssueSession(s.signer, principal.ID, activeEpoch, s.opts.Clock.Now(), ttl)
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "session issued", "principal_id", principal.ID, "epoch", activeEpoch, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// VerifySession checks, in order, the signature, the expiry and the
// principal. A session is valid while now < ExpiresAt.
func (s *CredentialStore) VerifySession(ctx context.Context, token string) (info *models.SessionInfo, err error) {
	defer func() { s.opts.Metrics.SessionVerified(outcome(err)) }()

	claims, err := auth.ParseSession(s.signer, token)
	if err != nil {
		return nil, err
	}
	if !s.opts.Clock.Now().Before(claims.ExpiresAt.Time) {
		return nil, common.ErrSessionExpired
	}

	lookupCtx, cancel := boundedContext(ctx, s.opts.StoreTimeout)
	defer cancel()

	p, err := s.repos.Principals().GetByID(lookupCtx, claims.PrincipalID)
	if err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return nil, common.ErrSessionPrincipalUnknown
		}
		return nil, storeError("lookup principal", err)
	}
	if !p.IsActive {
		return nil, common.ErrPrincipalDeactivated
	}

	info = &models.SessionInfo{PrincipalID: p.ID, EpochAtIssuance: claims.Epoch}
	if s.opts.Epochs == nil {
		return info, nil
	}

	active, err := s.opts.Epochs.CurrentEpoch(lookupCtx, p.ID)
	if err != nil {
		return nil, err
	}
	if active.Epoch > claims.Epoch {
		info.Stale = true
		if s.opts.RejectStaleSessions {
			return nil, common.ErrSessionStale
		}
	}
	return info, nil
}

// Deactivate disables a principal. Deactivating twice is not an error.
func (s *CredentialStore) Deactivate(ctx context.Context, principalID string) error {
	if err := s.repos.Principals().SetActive(ctx, principalID, false); err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return common.ErrPrincipalNotFound
		}
		return fmt.Errorf("deactivate principal: %w", err)
	}
	s.log.Info(ctx, "principal deactivated", "principal_id", principalID)
	return nil
}

func (s *CredentialStore) Principal(ctx context.Context, principalID string) (*models.Principal, error) {
	p, err := s.repos.Principals().GetByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, common.ErrPrincipalNotFound) {
			return nil, common.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return p, nil
}
