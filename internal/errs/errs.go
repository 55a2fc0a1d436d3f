// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package errs defines the error taxonomy shared by the migration engine and
// its callers. Errors are wrapped with fmt.Errorf("...: %w") and classified
// with errors.Is. Decryption failures live in the crypto package
// (crypto.ErrDecryption) so that package stays a leaf.
package errs

import (
	"errors"

	"github.com/toeirei/ghostshift/internal/crypto"
)

var (
	// ErrNotFound: a project, project key, recipient key or membership is missing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState: the project version or upgrade status forbids the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden: the authorization collaborator denied the request.
	ErrForbidden = errors.New("forbidden")

	// ErrSchemaValidation: a rewritten record no longer matches its schema.
	ErrSchemaValidation = errors.New("schema validation failed")

	// ErrPartialUpdate: the persistence layer affected fewer rows than asked.
	ErrPartialUpdate = errors.New("partial update")
)

// Retryable reports whether an automatic retry could help. Every error of
// the taxonomy is fatal for the attempt; only unclassified errors (network,
// driver) are considered transient. The job runner still honours its own
// attempt budget, which is 1 for migrations.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	for _, fatal := range []error{ErrNotFound, ErrInvalidState, ErrForbidden, ErrSchemaValidation, ErrPartialUpdate, crypto.ErrDecryption, crypto.ErrInvalidKey} {
		if errors.Is(err, fatal) {
			return false
		}
	}
	return true
}
