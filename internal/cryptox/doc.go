// Package cryptox collects the cryptographic building blocks of the vault:
// content digests, argon2id secret hashing, asymmetric key generation,
// AES-GCM key wrapping and memguard-backed sealed keys.
package cryptox
