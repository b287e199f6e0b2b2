// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"strings"
	"testing"
)

func TestValidatePrincipal(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		wantErr   bool
	}{
		// Valid principals
		{"simple", "vendor-42", false},
		{"single char", "a", false},
		{"with dots", "acct.planner.7", false},
		{"with underscore", "vendor_eu_west", false},
		{"email shaped", "planner@wedsync.io", false},
		{"all digits", "1234567890", false},

		// Invalid principals - injection attempts
		{"empty", "", true},
		{"uppercase", "Vendor-42", true},
		{"nul byte", "vendor\x0042", true},
		{"newline", "vendor\n42", true},
		{"spaces", "vendor 42", true},
		{"special chars", "vendor#42", true},
		{"starts with dot", ".vendor", true},
		{"starts with hyphen", "-vendor", true},
		{"too long", strings.Repeat("a", 129), true},
		{"double at", "a@b@c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrincipal(tt.principal)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrincipal(%q) error = %v, wantErr %v", tt.principal, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizePrincipal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"trims and lowers", "  Vendor-42 ", "vendor-42", false},
		{"already clean", "planner@wedsync.io", "planner@wedsync.io", false},
		{"rejects garbage", "vendor\x0042", "", true},
		{"rejects empty", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePrincipal(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizePrincipal(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizePrincipal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
