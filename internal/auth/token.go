// Package auth implements the bearer-token credential store.
//
// Exactly one credential exists: a hex-encoded SHA-256 digest of the token,
// persisted under auth.tokenHash in the JSON config file. Verification is
// constant-time over the hex digests so both the header and query-parameter
// admission paths behave identically.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xicheng412/CliCast/internal/config"
)

// MinTokenLength is the minimum accepted token length.
const MinTokenLength = 8

// legacyTokenFile is the pre-JSON credential file: a bare hex digest.
const legacyTokenFile = ".clicast-token"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrWeakToken     = fmt.Errorf("token must be at least %d characters", MinTokenLength)
	ErrAlreadyExists = errors.New("token already initialized")
)

// TokenStore verifies and manages the bearer token backed by the config file.
type TokenStore struct {
	cfg *config.Store

	// migrateOnce guards the one-shot legacy file migration.
	migrateOnce sync.Once
}

func NewTokenStore(cfg *config.Store) *TokenStore {
	return &TokenStore{cfg: cfg}
}

// HashToken returns the hex-encoded SHA-256 digest of plain.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// hash returns the stored digest, running the legacy migration first if the
// JSON config has no auth block. The JSON config is authoritative: the legacy
// file is only consulted when the config carries no credential.
func (ts *TokenStore) hash() string {
	ts.migrateOnce.Do(ts.migrateLegacy)
	return ts.cfg.TokenHash()
}

func (ts *TokenStore) migrateLegacy() {
	if ts.cfg.TokenHash() != "" {
		return
	}
	path := filepath.Join(filepath.Dir(ts.cfg.Path()), legacyTokenFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	digest := strings.TrimSpace(string(data))
	if len(digest) != sha256.Size*2 {
		log.Printf("[auth] ignoring malformed legacy token file %s", path)
		return
	}
	if _, err := hex.DecodeString(digest); err != nil {
		log.Printf("[auth] ignoring malformed legacy token file %s", path)
		return
	}
	err = ts.cfg.Update(func(c *config.Config) error {
		c.Auth = &config.Auth{TokenHash: strings.ToLower(digest)}
		return nil
	})
	if err != nil {
		log.Printf("[auth] legacy token migration failed: %v", err)
		return
	}
	log.Printf("[auth] migrated legacy token file %s into config", path)
}

// Status reports whether a credential is present.
func (ts *TokenStore) Status() bool {
	return ts.hash() != ""
}

// Init stores the first token. Fails with ErrAlreadyExists when a credential
// is already present and ErrWeakToken for short tokens.
func (ts *TokenStore) Init(plain string) error {
	if ts.hash() != "" {
		return ErrAlreadyExists
	}
	if len(plain) < MinTokenLength {
		return ErrWeakToken
	}
	return ts.cfg.Update(func(c *config.Config) error {
		c.Auth = &config.Auth{TokenHash: HashToken(plain)}
		return nil
	})
}

// Verify compares plain against the stored credential in constant time.
// A missing credential never verifies.
func (ts *TokenStore) Verify(plain string) bool {
	stored := ts.hash()
	if stored == "" {
		return false
	}
	candidate := HashToken(plain)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(stored)) == 1
}

// Rotate replaces the credential after proving possession of the current one.
func (ts *TokenStore) Rotate(current, next string) error {
	if !ts.Verify(current) {
		return ErrUnauthorized
	}
	if len(next) < MinTokenLength {
		return ErrWeakToken
	}
	return ts.cfg.Update(func(c *config.Config) error {
		c.Auth = &config.Auth{TokenHash: HashToken(next)}
		return nil
	})
}

// Clear removes the credential.
func (ts *TokenStore) Clear() error {
	return ts.cfg.Update(func(c *config.Config) error {
		c.Auth = nil
		return nil
	})
}

// FromRequest extracts the submitted token from an HTTP request: the
// Authorization bearer header first, then the token query parameter. Both
// paths feed the same Verify.
func FromRequest(authorization, queryToken string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authorization, prefix) {
		return authorization[len(prefix):]
	}
	return queryToken
}
