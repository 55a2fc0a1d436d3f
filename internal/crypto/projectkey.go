// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/toeirei/ghostshift/internal/security"
)

const projectKeyBytes = 16

// WrappedKey is a project key boxed for one receiver.
type WrappedKey struct {
	EncryptedKey string
	Nonce        string
}

// NewProjectKey mints a random project key and wraps it for publicKey using
// privateKey as the sender. For a ghost identity both halves belong to the
// ghost, so the ghost is sender and receiver of its own copy.
func NewProjectKey(publicKey string, privateKey security.Secret) (security.Secret, WrappedKey, error) {
	raw := make([]byte, projectKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, WrappedKey{}, fmt.Errorf("generate project key: %w", err)
	}
	plain := security.FromString(hex.EncodeToString(raw))
	wrapped, err := WrapProjectKey(plain, publicKey, privateKey)
	if err != nil {
		return nil, WrappedKey{}, err
	}
	return plain, wrapped, nil
}

// WrapProjectKey boxes a plain project key for a recipient.
func WrapProjectKey(plain security.Secret, recipientPublicKey string, senderPrivateKey security.Secret) (WrappedKey, error) {
	ct, nonce, err := AsymmetricEncrypt(plain, recipientPublicKey, senderPrivateKey)
	if err != nil {
		return WrappedKey{}, fmt.Errorf("wrap project key: %w", err)
	}
	return WrappedKey{EncryptedKey: ct, Nonce: nonce}, nil
}

// OpenProjectKey unwraps a project key with the recipient's private key.
func OpenProjectKey(w WrappedKey, senderPublicKey string, recipientPrivateKey security.Secret) (security.Secret, error) {
	plain, err := AsymmetricDecrypt(w.EncryptedKey, w.Nonce, senderPublicKey, recipientPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("open project key: %w", err)
	}
	if len(plain) != hex.EncodedLen(projectKeyBytes) {
		return nil, fmt.Errorf("open project key: %w: unexpected length %d", ErrInvalidKey, len(plain))
	}
	return security.Secret(plain), nil
}
