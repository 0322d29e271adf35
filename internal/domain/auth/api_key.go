// Package auth verifies the API keys that authorize use of the unprotected
// direct path. Only argon2id hashes of keys are ever configured or stored.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a configured hash is not argon2id PHC.
var ErrUnknownHashType = errors.New("unknown hash type")

// argon2idParams are the OWASP minimum parameters: 46 MiB, 1 pass, 1 lane.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKey returns the argon2id PHC hash of rawKey, with a random salt.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
func HashKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// IsArgon2idHash reports whether s looks like an argon2id PHC string.
func IsArgon2idHash(s string) bool {
	return strings.HasPrefix(s, "$argon2id$")
}

// VerifyKey reports whether rawKey matches storedHash.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	if !IsArgon2idHash(storedHash) {
		return false, ErrUnknownHashType
	}
	return safeArgon2idCompare(rawKey, storedHash)
}

// safeArgon2idCompare converts the panics the argon2 package raises on
// hashes with zero rounds or lanes into errors.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// KeySet is an immutable set of accepted key hashes.
type KeySet struct {
	hashes []string
}

// NewKeySet validates every hash up front so a typo fails at startup.
func NewKeySet(hashes []string) (*KeySet, error) {
	for i, h := range hashes {
		if !IsArgon2idHash(h) {
			return nil, fmt.Errorf("key hash %d: %w", i, ErrUnknownHashType)
		}
	}
	return &KeySet{hashes: append([]string(nil), hashes...)}, nil
}

// Len returns the number of configured hashes.
func (k *KeySet) Len() int { return len(k.hashes) }

// Verify reports whether rawKey matches any hash. Malformed hashes never match.
func (k *KeySet) Verify(rawKey string) bool {
	if rawKey == "" {
		return false
	}
	for _, h := range k.hashes {
		if ok, err := VerifyKey(rawKey, h); err == nil && ok {
			return true
		}
	}
	return false
}
