package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected *Config
		name     string
		args     []string
		wantErr  bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-m", "", "-d", "db", "-l", "debug",
				"-digest", "blake2b-256", "-signer", "eddsa", "-k", "a2V5", "-w", "a2Vr",
				"-t", "30m", "-o", "2s", "-x", "-n", "10", "-i", "0s",
				"-f", "/var/content", "-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
			},
			expected: &Config{
				EndpointAddrGRPC:      "127.0.0.1:9090",
				MetricsAddr:           "",
				DatabaseDSN:           "db",
				LogLevel:              "debug",
				Digest:                "blake2b-256",
				Signer:                "eddsa",
				SigningKey:            "a2V5",
				KEK:                   "a2Vr",
				SessionTTL:            30 * time.Minute,
				StoreTimeout:          2 * time.Second,
				RejectStaleSessions:   true,
				MinSecretLength:       10,
				RotationCheckInterval: 0,
				ContentDir:            "/var/content",
				S3RootUser:            "user",
				S3RootPassword:        "password",
				S3Bucket:              "bucket",
				S3Region:              "us-west-1",
				S3BaseEndpoint:        "http://endpoint",
			},
		},
		{
			name:     "foreign flags ignored",
			args:     []string{"-c", "cfg.json", "-verbose", "-a", ":1"},
			expected: &Config{EndpointAddrGRPC: ":1"},
		},
		{
			name:    "bad duration",
			args:    []string{"-o", "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
