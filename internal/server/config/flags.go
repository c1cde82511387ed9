package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/trustvault/internal/flagx"
)

var knownFlags = []string{
	"-a", "-m", "-d", "-l",
	"-digest", "-signer", "-k", "-w",
	"-t", "-o", "-x", "-n", "-i",
	"-f", "-u", "-p", "-b", "-g", "-e",
}

// parseFlags overlays command-line flags onto config.
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-m string     metrics bind address, empty disables it
//	-d string     PostgreSQL DSN, empty uses the in-memory store
//	-l string     log level
//	-digest       ledger digest (sha256, sha3-256, blake2b-256)
//	-signer       session signer (hs256, eddsa)
//	-k string     base64 session signing key
//	-w string     base64 key-encryption key
//	-t duration   session lifetime
//	-o duration   store call timeout
//	-x            reject sessions issued under a retired epoch
//	-n int        minimum secret length
//	-i duration   scheduled rotation check interval, 0 disables it
//	-f string     Badger content directory
//	-u, -p, -b, -g, -e   S3 user, password, bucket, region and endpoint
//
// Arguments not in knownFlags are ignored so -c/-config can share argv.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("trustvault", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.Digest, "digest", config.Digest, "ledger digest algorithm")
	fs.StringVar(&config.Signer, "signer", config.Signer, "session signer")
	fs.StringVar(&config.SigningKey, "k", config.SigningKey, "session signing key (base64)")
	fs.StringVar(&config.KEK, "w", config.KEK, "key-encryption key (base64)")

	fs.DurationVar(&config.SessionTTL, "t", config.SessionTTL, "session lifetime")
	fs.DurationVar(&config.StoreTimeout, "o", config.StoreTimeout, "store call timeout")
	fs.BoolVar(&config.RejectStaleSessions, "x", config.RejectStaleSessions, "reject stale sessions")
	fs.IntVar(&config.MinSecretLength, "n", config.MinSecretLength, "minimum secret length")
	fs.DurationVar(&config.RotationCheckInterval, "i", config.RotationCheckInterval, "rotation check interval")

	fs.StringVar(&config.ContentDir, "f", config.ContentDir, "content directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	return fs.Parse(args)
}
