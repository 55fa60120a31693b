// Package auth persists the bearer/refresh credential pair and validates
// token material defensively: the remote service has been observed to return
// object-shaped values where a token string belongs, and a bad value written
// to disk would wedge every later request.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned when neither an access nor a refresh token
// is available.
var ErrNoCredentials = errors.New("not logged in")

// ErrMalformedToken is returned when a token field is not a usable string.
var ErrMalformedToken = errors.New("malformed token payload")

// minTokenLen guards against junk like "[object Object]" truncations and
// empty strings; no real token issued by the service is this short.
const minTokenLen = 10

// TokenFilePath returns the stored token file inside the data dir.
func TokenFilePath(base string) string {
	return filepath.Join(base, "auth", "tokens.json")
}

// Store reads and writes the persisted token pair.
type Store struct {
	path string
}

// NewStore returns a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the saved token pair, or nil when none is stored. A corrupt
// file is reported but treated as absent so the user can re-login.
func (s *Store) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file (delete %s to re-login): %w", s.path, err)
	}
	return &tok, nil
}

// Save persists a token pair atomically.
func (s *Store) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}

// Clear removes the stored credentials, forcing a future re-login.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing token file: %w", err)
	}
	return nil
}

// Bearer picks the credential to put in the Authorization header: the
// access token when present, otherwise the refresh token as a fallback for
// the save call itself.
func Bearer(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", ErrNoCredentials
	}
	if tok.AccessToken != "" {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken != "" {
		return tok.RefreshToken, nil
	}
	return "", ErrNoCredentials
}

// Valid reports whether the access token can still be used. When the stored
// expiry is zero the JWT exp claim is consulted instead; the client holds no
// signing key, so the claim is read without signature verification. A
// 10-second safety margin is applied.
func Valid(tok *oauth2.Token, now time.Time) bool {
	if tok == nil || tok.AccessToken == "" {
		return false
	}
	expiry := tok.Expiry
	if expiry.IsZero() {
		exp, err := jwtExpiry(tok.AccessToken)
		if err != nil {
			// Opaque token with no stored expiry: assume usable and let
			// the 401 path sort it out.
			return true
		}
		expiry = exp
	}
	return now.Add(10 * time.Second).Before(expiry)
}

// jwtExpiry extracts the exp claim from a JWT without verifying it.
func jwtExpiry(raw string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("no exp claim")
	}
	return exp.Time, nil
}

// SanitizeToken validates a raw JSON token field and returns the token
// string. Non-string values (objects, numbers), empty strings, and
// implausibly short values are rejected. When required is false, a missing
// or empty value yields ("", nil).
func SanitizeToken(raw json.RawMessage, name string, required bool) (string, error) {
	missing := func() (string, error) {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrMalformedToken, name)
		}
		return "", nil
	}
	if len(raw) == 0 || string(raw) == "null" {
		return missing()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Object-shaped token: try the wrapped forms the service has
		// been seen to emit ({"token": "..."} / {"value": "..."}).
		var wrapped struct {
			Token string `json:"token"`
			Value string `json:"value"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 == nil {
			if len(wrapped.Token) >= minTokenLen {
				return wrapped.Token, nil
			}
			if len(wrapped.Value) >= minTokenLen {
				return wrapped.Value, nil
			}
		}
		if required {
			return "", fmt.Errorf("%w: %s is not a string", ErrMalformedToken, name)
		}
		return "", nil
	}
	if s == "" {
		return missing()
	}
	if len(s) < minTokenLen || s == "[object Object]" {
		if required {
			return "", fmt.Errorf("%w: %s looks truncated or object-shaped", ErrMalformedToken, name)
		}
		return "", nil
	}
	return s, nil
}
