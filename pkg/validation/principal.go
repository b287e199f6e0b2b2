// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided identifiers that end
// up in rate-limiter keys, cache keys, and log output. Using these
// validators keeps control characters and delimiter bytes out of
// internal key spaces.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// principalPattern matches valid principal identifiers.
// Allows: lowercase letters, digits, dots, hyphens, underscores, and a
// single @ for email-shaped identifiers.
// Max length: 128 characters.
var principalPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,127}(@[a-z0-9.\-]{1,60})?$`)

// ValidatePrincipal validates a client principal identifier.
//
// Principals end up as rate-limiter and cache key components, so they
// must be printable and free of delimiter bytes.
//
// Valid principals:
//   - 1-128 characters before an optional @domain suffix
//   - Lowercase letters a-z and digits 0-9
//   - Dots, hyphens, underscores after the first character
//
// Returns an error if the principal is invalid.
//
// Example:
//
//	if err := validation.ValidatePrincipal(principal); err != nil {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	    return
//	}
func ValidatePrincipal(principal string) error {
	if principal == "" {
		return fmt.Errorf("principal cannot be empty")
	}

	if !principalPattern.MatchString(principal) {
		return fmt.Errorf("invalid principal format: %q (must be 1-128 lowercase alphanumeric chars, dots, hyphens, or underscores)", principal)
	}

	return nil
}

// SanitizePrincipal normalizes and validates a principal identifier.
// Returns the lowercase principal if valid, or an error if invalid.
//
// Use this when accepting identifiers from the HTTP surface:
//
//	safePrincipal, err := validation.SanitizePrincipal(req.Principal)
//	if err != nil {
//	    return err
//	}
//	// safePrincipal is lowercase and validated
func SanitizePrincipal(principal string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(principal))
	if err := ValidatePrincipal(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
