package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AuthAttempt("success")
	m.AuthAttempt("success")
	m.AuthAttempt("invalid_credentials")
	m.LedgerAppended("submission", 12, time.Millisecond)
	m.ChainVerified("tampered")
	m.Rotation("contended")
	m.SessionVerified("expired")
	m.ContentReleaseRetry()
	m.RPC("/grpc.health.v1.Health/Check", "OK", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("invalid_credentials")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.ledgerHead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerAppends.WithLabelValues("submission")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.chainVerifications.WithLabelValues("tampered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rotations.WithLabelValues("contended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionChecks.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.releaseRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcHandled.WithLabelValues("/grpc.health.v1.Health/Check", "OK")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.AuthAttempt("x")
	m.LedgerAppended("submission", 1, time.Second)
	m.ChainVerified("ok")
	m.Rotation("rotated")
	m.SessionVerified("ok")
	m.ContentReleaseRetry()
	m.RPC("m", "OK", 0)
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg).Rotation("rotated")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `trustvault_key_rotations_total{outcome="rotated"} 1`)
}
