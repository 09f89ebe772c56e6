package oidcflow

import (
	"crypto/sha256"
	"crypto/subtle"
)

// The correlation cookie is stored hashed so a leaked state record does not
// hand out a usable cookie value.
func hashCorrelation(correlationID string) []byte {
	sum := sha256.Sum256([]byte(correlationID))
	return sum[:]
}

func correlationMatches(expectedHash []byte, correlationID string) bool {
	if correlationID == "" || len(expectedHash) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(expectedHash, hashCorrelation(correlationID)) == 1
}

func nonceMatches(got, expected string) bool {
	if got == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}
