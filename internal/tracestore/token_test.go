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

package tracestore

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
)

func TestToken(t *testing.T) {
	for _, n := range []int{0, 1, 10, 12345} {
		got, err := DecodeToken(EncodeToken(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}

	n, err := DecodeToken("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDecodeToken_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"not base64", "%%%"},
		{"not a number", base64.RawURLEncoding.EncodeToString([]byte("abc"))},
		{"negative", base64.RawURLEncoding.EncodeToString([]byte("-3"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.token)
			var ve *tracehuberrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "continuationToken", ve.Field)
		})
	}
}
