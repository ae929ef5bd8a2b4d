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

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tombee/tracehub/internal/server/httputil"
	"github.com/tombee/tracehub/pkg/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Body       httputil.ErrorBody

	// cause is the typed error rebuilt from Body.Type.
	cause error
}

func newAPIError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &e.Body); err != nil || e.Body.Error == "" {
		e.Body.Error = http.StatusText(resp.StatusCode)
		if len(raw) > 0 {
			e.Body.Error = string(raw)
		}
	}

	switch {
	case e.Body.Type == "validation" || (e.Body.Type == "" && resp.StatusCode == http.StatusBadRequest):
		e.cause = &errors.ValidationError{Field: e.Body.Field, Message: e.Body.Error, Suggestion: e.Body.Suggestion}
	case e.Body.Type == "not_found" || resp.StatusCode == http.StatusNotFound:
		nf := &errors.NotFoundError{Resource: "trace"}
		if resp.Request != nil {
			nf.ID = resp.Request.URL.Path
		}
		e.cause = nf
	}
	return e
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body.Error)
}

// Unwrap exposes the typed cause so errors.IsNotFound and friends work.
func (e *APIError) Unwrap() error {
	return e.cause
}

// ErrorType implements errors.ErrorClassifier.
func (e *APIError) ErrorType() string {
	if e.Body.Type != "" {
		return e.Body.Type
	}
	return "internal"
}

// IsRetryable implements errors.ErrorClassifier.
func (e *APIError) IsRetryable() bool {
	return retryableStatus(e.StatusCode)
}

var _ errors.ErrorClassifier = (*APIError)(nil)
