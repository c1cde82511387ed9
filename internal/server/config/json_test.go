package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestParseJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_grpc":      "www.example:9000",
		"database_dsn":            "postgres://vault",
		"digest":                  "sha3-256",
		"signing_key":             "c2lnbmluZw==",
		"session_ttl":             "1m",
		"store_timeout":           int64(3 * time.Second),
		"reject_stale_sessions":   true,
		"min_secret_length":       12,
		"rotation_check_interval": "15m",
		"s3_bucket":               "bucket",
		"s3_base_endpoint":        "http://minio:9000",
	})

	t.Run("loads from json", func(t *testing.T) {
		var cfg Config
		cfg.LoadDefaults()
		require.NoError(t, parseJSON(&cfg, []string{"-config", path}))

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, "postgres://vault", cfg.DatabaseDSN)
		assert.Equal(t, "sha3-256", cfg.Digest)
		assert.Equal(t, "c2lnbmluZw==", cfg.SigningKey)
		assert.Equal(t, time.Minute, cfg.SessionTTL)
		assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
		assert.True(t, cfg.RejectStaleSessions)
		assert.Equal(t, 12, cfg.MinSecretLength)
		assert.Equal(t, 15*time.Minute, cfg.RotationCheckInterval)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "http://minio:9000", cfg.S3BaseEndpoint)

		assert.Equal(t, "hs256", cfg.Signer, "absent fields keep their value")
		assert.Equal(t, "us-east-1", cfg.S3Region)
	})

	t.Run("no config flag leaves config untouched", func(t *testing.T) {
		cfg := Config{EndpointAddrGRPC: "defaults:1234", SessionTTL: 2 * time.Minute}
		require.NoError(t, parseJSON(&cfg, []string{"-a", "ignored"}))

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrGRPC)
		assert.Equal(t, 2*time.Minute, cfg.SessionTTL)
	})

	t.Run("invalid json", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		var cfg Config
		assert.Error(t, parseJSON(&cfg, []string{"-c", bad}))
	})

	t.Run("invalid duration", func(t *testing.T) {
		bad := writeTempJSON(t, dir, "dur.json", map[string]any{"session_ttl": "a while"})

		var cfg Config
		assert.Error(t, parseJSON(&cfg, []string{"-c", bad}))
	})
}
