// Copyright 2019 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package gdelt

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// InvalidRangeError is returned when a date range is empty or inverted. It is
// never retried and never filtered by a FailurePolicy.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	if e.Start.IsZero() {
		return "invalid date range: missing start"
	}
	return fmt.Sprintf("invalid date range: start %s is after end %s", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// UnsupportedSchemaError means the first line of an artifact had a field count
// which matches none of the known schema versions for its kind. The whole
// artifact is unusable.
type UnsupportedSchemaError struct {
	Kind   Kind
	Fields int
	Target string
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported %s schema with %d fields in %s", e.Kind, e.Fields, e.Target)
}

// CorruptArtifactError is an artifact level failure which is not a schema
// problem: bad text encoding, a broken archive, an empty zip.
type CorruptArtifactError struct {
	Target string
	Err    error
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("corrupt artifact %s: %v", e.Target, e.Err)
}

// Cause implements the causer interface from github.com/pkg/errors.
func (e *CorruptArtifactError) Cause() error { return e.Err }

// Unwrap supports errors.As and errors.Is.
func (e *CorruptArtifactError) Unwrap() error { return e.Err }

// MalformedRecordError describes a single bad line or row. Expected and Actual
// are field counts when the problem is a count mismatch, and are both zero
// otherwise.
type MalformedRecordError struct {
	Kind     Kind
	Target   string
	Line     int
	Expected int
	Actual   int
	Err      error
}

func (e *MalformedRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s record at %s:%d: %v", e.Kind, e.Target, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed %s record at %s:%d: expected %d fields, got %d", e.Kind, e.Target, e.Line, e.Expected, e.Actual)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// RateLimitedError is a recoverable, source level error. RetryAfter is the
// hint given by the backend, or zero.
type RateLimitedError struct {
	Backend    string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by %s, retry after %s", e.Backend, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited by %s", e.Backend)
}

// BackendUnavailableError is a recoverable, source level error.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Cause() error  { return e.Err }
func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ConfigurationError reports a missing or unusable setting. It surfaces at the
// first operation that needs the setting, never at construction.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing configuration: %s", e.Setting)
	}
	return fmt.Sprintf("bad configuration %s: %s", e.Setting, e.Reason)
}

// DisallowedURLError is returned for URLs which fail the Allowlist.
type DisallowedURLError struct {
	URL    string
	Reason string
}

func (e *DisallowedURLError) Error() string {
	return fmt.Sprintf("url %q not allowed: %s", e.URL, e.Reason)
}

// IsRecoverable reports whether err is a source level error which may be
// answered by switching to a secondary backend.
func IsRecoverable(err error) bool {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var bu *BackendUnavailableError
	return errors.As(err, &bu)
}

// IsMalformed reports whether err concerns a single record rather than a whole
// artifact or source.
func IsMalformed(err error) bool {
	var mr *MalformedRecordError
	return errors.As(err, &mr)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsInvalidRange reports whether err is an InvalidRangeError.
func IsInvalidRange(err error) bool {
	var ir *InvalidRangeError
	return errors.As(err, &ir)
}

// StatusError maps an HTTP status code from backend to an error. 2xx returns
// nil, 429 a RateLimitedError, 5xx a BackendUnavailableError, anything else a
// plain error.
func StatusError(backend string, code int, retryAfter string) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return &RateLimitedError{Backend: backend, RetryAfter: parseRetryAfter(retryAfter)}
	case code >= 500:
		return &BackendUnavailableError{Backend: backend, Err: errors.Errorf("status %d", code)}
	default:
		return errors.Errorf("unexpected status %d from %s", code, backend)
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
