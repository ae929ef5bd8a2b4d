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

package errors_test

import (
	"errors"
	"testing"

	tracehuberrors "github.com/tombee/tracehub/pkg/errors"
)

func TestError_Messages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "validation with field",
			err:     &tracehuberrors.ValidationError{Field: "traceId", Message: "required"},
			wantMsg: "validation failed on traceId: required",
		},
		{
			name:    "validation without field",
			err:     &tracehuberrors.ValidationError{Message: "bad json"},
			wantMsg: "validation failed: bad json",
		},
		{
			name:    "not found",
			err:     &tracehuberrors.NotFoundError{Resource: "trace", ID: "1234"},
			wantMsg: "trace not found: 1234",
		},
		{
			name:    "storage with id",
			err:     &tracehuberrors.StorageError{Op: "write", ID: "1234", Cause: errors.New("disk full")},
			wantMsg: "storage write failed for 1234: disk full",
		},
		{
			name:    "storage without id",
			err:     &tracehuberrors.StorageError{Op: "index"},
			wantMsg: "storage index failed",
		},
		{
			name:    "integrity",
			err:     &tracehuberrors.IntegrityError{ID: "1234", Cause: errors.New("unexpected end of JSON input")},
			wantMsg: "corrupt record for 1234: unexpected end of JSON input",
		},
		{
			name:    "config",
			err:     &tracehuberrors.ConfigError{Key: "store.dir", Reason: "must be set"},
			wantMsg: "config error at store.dir: must be set",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestClassifier(t *testing.T) {
	tests := []struct {
		err       tracehuberrors.ErrorClassifier
		wantType  string
		retryable bool
	}{
		{&tracehuberrors.ValidationError{}, "validation", false},
		{&tracehuberrors.NotFoundError{}, "not_found", false},
		{&tracehuberrors.StorageError{}, "storage", true},
		{&tracehuberrors.IntegrityError{}, "integrity", false},
		{&tracehuberrors.ConfigError{}, "config", false},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			if got := tt.err.ErrorType(); got != tt.wantType {
				t.Errorf("ErrorType() = %q, want %q", got, tt.wantType)
			}
			if got := tt.err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
		})
	}
}
