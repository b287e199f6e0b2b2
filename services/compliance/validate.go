// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compliance

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata internally and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConstraintSet checks a set before it enters an analysis pass.
//
// # Description
//
// Two classes of problems are rejected:
//
//   - Malformed: empty set, missing names, categories outside the known
//     enum, severities outside 1-5 (struct tag validation).
//   - Contradictory: the same (category, name) pair appearing more than
//     once. Duplicates with different severities have no well-defined
//     winner, and duplicates with equal severities indicate a caller bug.
//
// # Outputs
//
//   - error: *ValidationError describing the first problem found, or nil.
//
// Thread Safety: safe for concurrent use.
func ValidateConstraintSet(set ConstraintSet) error {
	if len(set.Constraints) == 0 {
		return &ValidationError{Reason: "constraint set is empty"}
	}

	if err := validate.Struct(set); err != nil {
		return &ValidationError{Reason: validationReason(err)}
	}

	seen := make(map[string]int, len(set.Constraints))
	for _, c := range set.Constraints {
		key := string(c.Category) + "/" + NormalizeToken(c.Name)
		if sev, dup := seen[key]; dup {
			return &ValidationError{Reason: fmt.Sprintf(
				"contradictory constraints: %q appears twice (severity %d and %d)",
				key, sev, c.Severity)}
		}
		seen[key] = c.Severity
	}

	return nil
}

// validationReason flattens a validator error into a single readable line.
func validationReason(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// NormalizeToken lower-cases and trims a free-text token so matching and
// deduplication are insensitive to formatting.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
