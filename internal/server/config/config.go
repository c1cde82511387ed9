// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/trustvault/internal/cryptox"
	"github.com/dmitrijs2005/trustvault/internal/server/auth"
)

// Config holds runtime settings for the trustvault server.
//
// An empty DatabaseDSN selects the in-memory store. An empty S3Bucket selects
// the Badger content store under ContentDir. Empty SigningKey or KEK make the
// server generate throwaway keys at startup, so sessions and wrapped keys do
// not survive a restart.
type Config struct {
	EndpointAddrGRPC string
	MetricsAddr      string
	DatabaseDSN      string
	LogLevel         string

	Digest     string
	Signer     string
	SigningKey string // base64
	KEK        string // base64, 32 bytes

	SessionTTL            time.Duration
	StoreTimeout          time.Duration
	RejectStaleSessions   bool
	MinSecretLength       int
	RotationCheckInterval time.Duration

	ContentDir     string
	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.MetricsAddr = ":9090"
	c.LogLevel = "info"
	c.Digest = cryptox.DefaultDigest
	c.Signer = auth.SignerHS256
	c.SessionTTL = 24 * time.Hour
	c.StoreTimeout = 5 * time.Second
	c.MinSecretLength = 6
	c.RotationCheckInterval = time.Hour
	c.ContentDir = "data/content"
	c.S3Region = "us-east-1"
}

// Load builds a Config by applying defaults, then overlaying values from an
// optional JSON file and finally from command-line flags in args.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJSON(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over the process arguments.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}
