package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/ruikei/internal/model"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashAPIKey hashes an API key using Argon2id.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// DummyVerify performs an Argon2id hash with the same cost parameters as real
// verification. Call this on auth failure paths where no real hash was checked,
// so that response timing does not reveal whether a subject exists.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyAPIKey checks an API key against an Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("auth: invalid hash format")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}

	expectedHash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	computedHash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1, nil
}

type keyEntry struct {
	role model.Role
	hash string
}

// Keyring maps subjects to a role and the Argon2id hash of their API key.
// It backs the token exchange endpoint.
type Keyring struct {
	entries map[string]keyEntry
}

// ParseKeyring reads entries of the form subject:role:hash separated by
// commas. Hashes are those produced by HashAPIKey. An empty spec yields an
// empty keyring.
func ParseKeyring(spec string) (*Keyring, error) {
	k := &Keyring{entries: make(map[string]keyEntry)}
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("auth: keyring entry %q: want subject:role:hash", raw)
		}
		subject, role, hash := parts[0], model.Role(parts[1]), parts[2]
		if err := model.ValidateSubject(subject); err != nil {
			return nil, fmt.Errorf("auth: keyring entry %q: %w", subject, err)
		}
		if model.RoleRank(role) == 0 {
			return nil, fmt.Errorf("auth: keyring entry %q: unknown role %q", subject, role)
		}
		if !strings.Contains(hash, "$") {
			return nil, fmt.Errorf("auth: keyring entry %q: invalid hash format", subject)
		}
		if _, dup := k.entries[subject]; dup {
			return nil, fmt.Errorf("auth: keyring entry %q: duplicate subject", subject)
		}
		k.entries[subject] = keyEntry{role: role, hash: hash}
	}
	return k, nil
}

// Len returns the number of subjects in the keyring.
func (k *Keyring) Len() int { return len(k.entries) }

// Authenticate checks apiKey for subject and returns the subject's role.
func (k *Keyring) Authenticate(subject, apiKey string) (model.Role, bool) {
	e, ok := k.entries[subject]
	if !ok {
		DummyVerify()
		return "", false
	}
	valid, err := VerifyAPIKey(apiKey, e.hash)
	if err != nil || !valid {
		return "", false
	}
	return e.role, true
}
