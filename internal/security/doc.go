// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package security provides a redacting holder for key material (user and
// ghost private keys, plain project keys, the process master key) so that
// accidental formatting, JSON marshaling or logging never reveals it.
package security
