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

package otlp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
)

func TestDecodeJSON_NumberEncodings(t *testing.T) {
	body := `{"resourceSpans":[{"scopeSpans":[{"spans":[{
	  "traceId":"t","spanId":"s","kind":"SPAN_KIND_CLIENT",
	  "startTimeUnixNano":"1700000000123456789","endTimeUnixNano":1700000000223456789,
	  "status":{"code":"STATUS_CODE_OK"},
	  "attributes":[{"key":"n","value":{"intValue":"-7"}},{"key":"m","value":{"intValue":8}}]
	}]}]}]}`

	req, err := DecodeJSON([]byte(body))
	require.NoError(t, err)
	s := req.ResourceSpans[0].ScopeSpans[0].Spans[0]

	assert.Equal(t, KindClient, s.Kind)
	require.NotNil(t, s.StartTimeUnixNano)
	assert.Equal(t, Uint64(1700000000123456789), *s.StartTimeUnixNano)
	assert.Equal(t, Uint64(1700000000223456789), *s.EndTimeUnixNano)
	assert.Equal(t, StatusCode(1), s.Status.Code)
	assert.Equal(t, Int64(-7), *s.Attributes[0].Value.IntValue)
	assert.Equal(t, Int64(8), *s.Attributes[1].Value.IntValue)
}

func TestDecodeJSON_LegacyScopeName(t *testing.T) {
	body := `{"resourceSpans":[{"instrumentationLibrarySpans":[{
	  "instrumentationLibrary":{"name":"old-sdk"},
	  "spans":[{"traceId":"t","spanId":"s","startTimeUnixNano":"1000000"}]
	}]}]}`

	frags, err := Translate(decode(t, body), Parent{}, Options{})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "old-sdk", frags[0].Spans["s"].InstrumentationLibrary.Name)
}

func TestDecodeJSON_Errors(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"resourceSpans":[{"scopeSpans":[{"spans":[{"startTimeUnixNano":"abc"}]}]}]}`,
		`{"resourceSpans":[{"scopeSpans":[{"spans":[{"kind":"SPAN_KIND_BOGUS"}]}]}]}`,
	} {
		_, err := DecodeJSON([]byte(body))
		assert.True(t, tracehuberrors.IsValidation(err), body)
	}
}

func TestUint64_MarshalAsString(t *testing.T) {
	data, err := json.Marshal(Uint64(1544712660000000000))
	require.NoError(t, err)
	assert.Equal(t, `"1544712660000000000"`, string(data))

	var n Uint64
	require.NoError(t, json.Unmarshal(data, &n))
	assert.Equal(t, Uint64(1544712660000000000), n)
}
