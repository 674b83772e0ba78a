// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package localauth issues and verifies the short-lived HS256 session
// token that guards the IPC surface when it is exposed over a loopback
// socket rather than called in-process: a compromised renderer process
// cannot replay a captured token against a different profile or after it
// expires.
package localauth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	weftErrors "github.com/coretommy/weft/pkg/errors"
)

// Issuer is the fixed issuer claim every Weft session token carries.
const Issuer = "weftd"

// DefaultTTL is how long an issued session token remains valid.
const DefaultTTL = 12 * time.Hour

// Claims is the session token's payload: the profile it is scoped to, so a
// token minted for one profile cannot be replayed against another.
type Claims struct {
	jwt.RegisteredClaims
	Profile string `json:"profile,omitempty"`
}

// Signer mints and verifies session tokens for a single HS256 secret,
// which LoadOrCreateSecretFile keeps in a file only the invoking user can
// read.
type Signer struct {
	secret []byte
}

// NewSigner wraps an existing secret. Use NewSecret to generate one.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// NewSecret generates a fresh 32-byte random signing secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate local auth secret: %w", err)
	}
	return secret, nil
}

// LoadOrCreateSecretFile reads the hex-encoded secret at path, generating
// and persisting a new one (mode 0600) if the file does not exist yet.
// Every weftd restart reuses the same secret so a session token issued
// before a restart is not silently invalidated.
func LoadOrCreateSecretFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		secret, decodeErr := hex.DecodeString(string(data))
		if decodeErr != nil {
			return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to decode local auth secret", Cause: decodeErr}
		}
		return secret, nil
	}
	if !os.IsNotExist(err) {
		return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to read local auth secret", Cause: err}
	}

	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to create local auth secret directory", Cause: err}
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(secret)), 0600); err != nil {
		return nil, &weftErrors.ConfigError{Key: path, Reason: "failed to write local auth secret", Cause: err}
	}
	return secret, nil
}

// Issue mints a session token scoped to profile, valid for ttl (DefaultTTL
// when ttl is zero; a negative ttl yields an already-expired token).
func (s *Signer) Issue(profile string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Profile: profile,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign local auth token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning its claims. A token
// whose profile does not match wantProfile (when non-empty) is rejected.
func (s *Signer) Verify(tokenString, wantProfile string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("local auth token is required")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid local auth token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid local auth token claims")
	}
	if claims.Issuer != Issuer {
		return nil, fmt.Errorf("invalid local auth token issuer")
	}
	if wantProfile != "" && claims.Profile != wantProfile {
		return nil, fmt.Errorf("local auth token scoped to a different profile")
	}
	return claims, nil
}
