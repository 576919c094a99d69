package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDefinition = "replacer/definition/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DefinitionHash computes the content hash of a raw definition file.
// Identical bytes always produce the same hash regardless of path.
func DefinitionHash(data []byte) string {
	return hashWithDomain(DomainDefinition, data)
}
