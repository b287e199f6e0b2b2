// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package genai

import "fmt"

// UpstreamErrorKind classifies a failed generation for callers that never
// see raw transport errors.
type UpstreamErrorKind string

const (
	// KindUnavailable covers transport failures, 5xx responses, throttling
	// by the provider, and an open circuit.
	KindUnavailable UpstreamErrorKind = "unavailable"

	// KindInvalidResponse covers syntactically or structurally malformed
	// provider payloads.
	KindInvalidResponse UpstreamErrorKind = "invalid_response"

	// KindTimeout covers per-attempt deadline expiry.
	KindTimeout UpstreamErrorKind = "timeout"
)

// UpstreamError is the only error shape, besides *resilience.RateLimitError,
// that Generate returns. The underlying cause stays reachable through
// errors.Is/As for callers that branch on resilience.ErrCircuitOpen.
type UpstreamError struct {
	Kind      UpstreamErrorKind
	Operation string
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream %s: %s", e.Operation, e.Kind)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Operation, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
