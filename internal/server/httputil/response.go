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

// Package httputil holds the JSON response helpers shared by the API
// handlers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tombee/tracehub/pkg/errors"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error      string `json:"error"`
	Type       string `json:"type,omitempty"`
	Field      string `json:"field,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// WriteErr writes err with its classified type. Validation details are
// included so clients can fix the request.
func WriteErr(w http.ResponseWriter, status int, err error) {
	body := ErrorBody{Error: err.Error(), Type: errors.TypeOf(err)}
	var ve *errors.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Suggestion = ve.Suggestion
	}
	WriteJSON(w, status, body)
}
