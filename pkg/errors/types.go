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

package errors

import (
	"fmt"
)

// ValidationError represents a malformed write, ingest or query payload.
// Requests failing validation are rejected before any side effect occurs.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "trace", "span")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable implements ErrorClassifier.
func (e *NotFoundError) IsRetryable() bool { return false }

// StorageError represents a persistence I/O failure such as a full disk,
// a permission problem or a failed index update.
type StorageError struct {
	// Op is the storage operation that failed (e.g., "write", "read", "index")
	Op string

	// ID is the trace identifier involved, if any
	ID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s failed", e.Op)
	if e.ID != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.ID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *StorageError) ErrorType() string { return "storage" }

// IsRetryable implements ErrorClassifier.
func (e *StorageError) IsRetryable() bool { return true }

// IntegrityError represents a persisted record that cannot be decoded.
// It is fatal for the affected trace only.
type IntegrityError struct {
	// ID is the trace identifier whose record is corrupt
	ID string

	// Cause is the decode or decryption failure
	Cause error
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	return fmt.Sprintf("corrupt record for %s: %v", e.ID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *IntegrityError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *IntegrityError) ErrorType() string { return "integrity" }

// IsRetryable implements ErrorClassifier.
func (e *IntegrityError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "store.dir", "server.http_addr")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }
