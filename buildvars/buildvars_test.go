// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package buildvars

import "testing"

func TestString(t *testing.T) {
	defer func() { Version, Commit, Date = "", "", "" }()

	if got := String(); got != "dev" {
		t.Fatalf("unset build vars: got %q", got)
	}
	Version, Commit = "1.2.3", "abc123"
	if got := String(); got != "1.2.3 (abc123)" {
		t.Fatalf("got %q", got)
	}
	Date = "2026-01-02"
	if got := String(); got != "1.2.3 (abc123, 2026-01-02)" {
		t.Fatalf("got %q", got)
	}
}
