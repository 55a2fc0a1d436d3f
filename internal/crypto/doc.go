// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package crypto holds the primitives used to move a project between key
// hierarchies:
//
//   - symmetric AES-256-GCM with separate base64 ciphertext, IV and tag
//   - asymmetric NaCl box (Curve25519, XSalsa20, Poly1305) with a 24 byte nonce
//   - the process master key that seals automation credentials
//   - project key helpers that mint, open and re-wrap a project key
//
// Every function is pure apart from reading crypto/rand. Authentication
// failures are always reported as ErrDecryption.
package crypto
