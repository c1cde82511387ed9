// Package grpc exposes the trust services over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/logging"
	"github.com/dmitrijs2005/trustvault/internal/server/metrics"
	"github.com/dmitrijs2005/trustvault/internal/server/models"
	"github.com/dmitrijs2005/trustvault/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type accountService interface {
	Signup(ctx context.Context, in services.RegisterInput) (*models.Principal, *models.KeyEpoch, error)
	Login(ctx context.Context, identity string, secret cryptox.Secret) (*models.SessionCredential, error)
}

type sessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*models.SessionInfo, error)
}

type keyService interface {
	Rotate(ctx context.Context, principalID string) (*models.KeyEpoch, error)
	Epochs(ctx context.Context, principalID string) ([]*models.KeyEpoch, error)
	ExportPublicKey(ctx context.Context, principalID string) (string, error)
	UpdateSecuritySettings(ctx context.Context, principalID string, in services.SecuritySettings) error
}

type ledgerService interface {
	VerifyChain(ctx context.Context, from, to int64) error
	Head(ctx context.Context) (*models.LedgerEntry, error)
}

type vaultService interface {
	Submit(ctx context.Context, in services.SubmitInput) (*models.Receipt, error)
	Verify(ctx context.Context, recordID string) error
	Tombstone(ctx context.Context, recordID, principalID string) (*models.LedgerEntry, error)
	List(ctx context.Context, principalID string) ([]*models.VaultRecord, error)
	Fetch(ctx context.Context, recordID, principalID string) (*models.VaultRecord, []byte, error)
	DownloadURL(ctx context.Context, recordID, principalID string) (string, error)
}

// Services bundles what the server dispatches to.
type Services struct {
	Accounts accountService
	Sessions sessionVerifier
	Keys     keyService
	Ledger   ledgerService
	Vault    vaultService
}

type Server struct {
	address  string
	svc      Services
	logger   logging.Logger
	metrics  *metrics.Metrics
	health   *health.Server
	stopWait time.Duration
}

func NewServer(address string, l logging.Logger, m *metrics.Metrics, svc Services) *Server {
	return &Server{
		address:  address,
		svc:      svc,
		logger:   l.With("module", "grpc_server"),
		metrics:  m,
		health:   health.NewServer(),
		stopWait: 10 * time.Second,
	}
}

func (s *Server) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.observeInterceptor, s.accessTokenInterceptor))
	srv.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv
}

// Run serves until ctx is canceled, then drains in-flight calls.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newGRPCServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()

		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.stopWait):
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	return srv.Serve(listen)
}
