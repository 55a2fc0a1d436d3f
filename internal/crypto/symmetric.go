// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
)

const (
	symmetricKeySize = 32
	ivSize           = 12
	tagSize          = 16
)

var (
	// ErrDecryption is returned when a ciphertext fails authentication or is
	// malformed. Callers must treat it as corrupted data.
	ErrDecryption = errors.New("decryption failed")

	// ErrInvalidKey is returned for keys of the wrong size or encoding.
	ErrInvalidKey = errors.New("invalid key")
)

// SymmetricEncrypt seals plaintext with AES-256-GCM under key.
func SymmetricEncrypt(plaintext, key []byte) (model.EncryptedField, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return model.EncryptedField{}, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return model.EncryptedField{}, fmt.Errorf("generate iv: %w", err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	body, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	return model.EncryptedField{
		Ciphertext: base64.StdEncoding.EncodeToString(body),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// SymmetricDecrypt opens a field sealed by SymmetricEncrypt.
func SymmetricDecrypt(field model.EncryptedField, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	body, err := base64.StdEncoding.DecodeString(field.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not base64", ErrDecryption)
	}
	iv, err := base64.StdEncoding.DecodeString(field.IV)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("%w: malformed iv", ErrDecryption)
	}
	tag, err := base64.StdEncoding.DecodeString(field.Tag)
	if err != nil || len(tag) != tagSize {
		return nil, fmt.Errorf("%w: malformed tag", ErrDecryption)
	}
	sealed := make([]byte, 0, len(body)+len(tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication tag mismatch", ErrDecryption)
	}
	return plaintext, nil
}

// EncryptWithProjectKey seals a UTF-8 string with a project key. Project keys
// are 32 hex characters whose UTF-8 bytes form the AES-256 key.
func EncryptWithProjectKey(plaintext string, projectKey security.Secret) (model.EncryptedField, error) {
	return SymmetricEncrypt([]byte(plaintext), projectKey)
}

// DecryptWithProjectKey is the inverse of EncryptWithProjectKey.
func DecryptWithProjectKey(field model.EncryptedField, projectKey security.Secret) (string, error) {
	out, err := SymmetricDecrypt(field, projectKey)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != symmetricKeySize {
		return nil, fmt.Errorf("%w: symmetric key must be %d bytes, got %d", ErrInvalidKey, symmetricKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return cipher.NewGCM(block)
}
