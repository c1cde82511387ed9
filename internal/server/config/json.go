package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/trustvault/internal/flagx"
	"github.com/dmitrijs2005/trustvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations are
// timex.Duration so "24h" and integer nanoseconds both parse. Absent fields
// leave the current value in place.
type JsonConfig struct {
	EndpointAddrGRPC string `json:"endpoint_addr_grpc"`
	MetricsAddr      string `json:"metrics_addr"`
	DatabaseDSN      string `json:"database_dsn"`
	LogLevel         string `json:"log_level"`

	Digest     string `json:"digest"`
	Signer     string `json:"signer"`
	SigningKey string `json:"signing_key"`
	KEK        string `json:"kek"`

	SessionTTL            *timex.Duration `json:"session_ttl"`
	StoreTimeout          *timex.Duration `json:"store_timeout"`
	RejectStaleSessions   *bool           `json:"reject_stale_sessions"`
	MinSecretLength       *int            `json:"min_secret_length"`
	RotationCheckInterval *timex.Duration `json:"rotation_check_interval"`

	ContentDir     string `json:"content_dir"`
	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJSON overlays the file named by -c or -config, if any.
func parseJSON(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.Digest, c.Digest)
	setString(&config.Signer, c.Signer)
	setString(&config.SigningKey, c.SigningKey)
	setString(&config.KEK, c.KEK)
	setString(&config.ContentDir, c.ContentDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.SessionTTL != nil {
		config.SessionTTL = c.SessionTTL.Duration
	}
	if c.StoreTimeout != nil {
		config.StoreTimeout = c.StoreTimeout.Duration
	}
	if c.RejectStaleSessions != nil {
		config.RejectStaleSessions = *c.RejectStaleSessions
	}
	if c.MinSecretLength != nil {
		config.MinSecretLength = *c.MinSecretLength
	}
	if c.RotationCheckInterval != nil {
		config.RotationCheckInterval = c.RotationCheckInterval.Duration
	}
	return nil
}
