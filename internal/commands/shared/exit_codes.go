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

package shared

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/tombee/tracehub/internal/client"
	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
)

// Exit codes for tracehub commands
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitNotFound     = 3
	ExitUnavailable  = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidInputError creates an error for bad flags, files or filters
func NewInvalidInputError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidInput, Message: msg, Cause: cause}
}

// NewFailure creates an error for a failed operation
func NewFailure(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: msg, Cause: cause}
}

// ExitCode maps err to a process exit code. Server responses take
// precedence over the local wrapper's code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case tracehuberrors.IsNotFound(err):
			return ExitNotFound
		case tracehuberrors.IsValidation(err):
			return ExitInvalidInput
		case apiErr.StatusCode == http.StatusServiceUnavailable,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout:
			return ExitUnavailable
		}
		return ExitFailure
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ExitUnavailable
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if tracehuberrors.IsNotFound(err) {
		return ExitNotFound
	}
	if tracehuberrors.IsValidation(err) {
		return ExitInvalidInput
	}
	return ExitFailure
}

// PrintError writes err and any validation suggestion to w and returns
// the exit code to use.
func PrintError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintln(w, "Error:", err.Error())

	var ve *tracehuberrors.ValidationError
	if errors.As(err, &ve) && ve.Suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", ve.Suggestion)
	}
	return ExitCode(err)
}
