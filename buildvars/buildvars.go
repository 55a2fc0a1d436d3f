// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time, e.g.
//
//	go build -ldflags "-X github.com/toeirei/ghostshift/buildvars.Version=1.2.3 -X github.com/toeirei/ghostshift/buildvars.Commit=abc123"
package buildvars

import "strings"

// Version, Commit and Date are empty for local builds.
var (
	Version string
	Commit  string
	Date    string
)

// VersionOrDefault returns Version if set, otherwise def.
func VersionOrDefault(def string) string {
	if Version != "" {
		return Version
	}
	return def
}

// String renders the version with commit and build date when known.
func String() string {
	var extra []string
	if Commit != "" {
		extra = append(extra, Commit)
	}
	if Date != "" {
		extra = append(extra, Date)
	}
	v := VersionOrDefault("dev")
	if len(extra) == 0 {
		return v
	}
	return v + " (" + strings.Join(extra, ", ") + ")"
}
