// Copyright (C) 2026 WedSync Ltd (platform@wedsync.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package rules embeds the default knowledge-base rules into the binary.

The canonical rule store lives in the vendor platform's database; this file
is the shipped baseline used when no snapshot path is configured. Baking the
YAML in with the Go embed package guarantees the engine can always produce a
safe fallback candidate, even on a host with no readable rule file.
*/
package rules

import (
	_ "embed"
)

// DefaultKnowledge holds the raw byte content of 'default_knowledge.yaml'.
//
// Pass these bytes directly to yaml.Unmarshal via
// compliance.ParseKnowledgeBase.
//
//go:embed default_knowledge.yaml
var DefaultKnowledge []byte
