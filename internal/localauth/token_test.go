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

package localauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	signer := NewSigner(secret)

	token, err := signer.Issue("work", time.Hour)
	require.NoError(t, err)

	claims, err := signer.Verify(token, "work")
	require.NoError(t, err)
	assert.Equal(t, "work", claims.Profile)
}

func TestVerify_Rejections(t *testing.T) {
	secret, err := NewSecret()
	require.NoError(t, err)
	otherSecret, err := NewSecret()
	require.NoError(t, err)

	tests := []struct {
		name        string
		issueSigner *Signer
		ttl         time.Duration
		wantProfile string
	}{
		{
			name:        "mismatched profile",
			issueSigner: NewSigner(secret),
			ttl:         time.Hour,
			wantProfile: "personal",
		},
		{
			name:        "expired token",
			issueSigner: NewSigner(secret),
			ttl:         -time.Minute,
			wantProfile: "work",
		},
		{
			name:        "mismatched secret",
			issueSigner: NewSigner(otherSecret),
			ttl:         time.Hour,
			wantProfile: "work",
		},
	}

	verifier := NewSigner(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tt.issueSigner.Issue("work", tt.ttl)
			require.NoError(t, err)

			_, err = verifier.Verify(token, tt.wantProfile)
			assert.Error(t, err)
		})
	}
}

func TestLoadOrCreateSecretFile_PersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local-auth.secret")

	first, err := LoadOrCreateSecretFile(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := LoadOrCreateSecretFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
