// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
)

var (
	// ErrNoMasterKey is returned when neither a root key nor a legacy key is configured.
	ErrNoMasterKey = errors.New("no master encryption key configured")

	// ErrEncodingMismatch is returned when a sealed payload names a key
	// encoding different from the master key that is asked to open it.
	ErrEncodingMismatch = errors.New("key encoding mismatch")
)

// Sealed is a payload sealed by the master key.
type Sealed struct {
	model.EncryptedField
	Algorithm string
	Encoding  model.KeyEncoding
}

// MasterKey is the process-held root key. It is loaded once at start-up and
// never mutated; pass it explicitly to whatever needs it.
type MasterKey struct {
	key      security.Secret
	encoding model.KeyEncoding
}

// LoadMasterKey builds the master key from configuration. A base64 root key
// takes precedence over a 32 character UTF-8 key.
func LoadMasterKey(rootKey, key string) (*MasterKey, error) {
	if rootKey != "" {
		raw, err := base64.StdEncoding.DecodeString(rootKey)
		if err != nil {
			return nil, fmt.Errorf("%w: root key is not base64", ErrInvalidKey)
		}
		if len(raw) != symmetricKeySize {
			return nil, fmt.Errorf("%w: root key must decode to %d bytes, got %d", ErrInvalidKey, symmetricKeySize, len(raw))
		}
		return &MasterKey{key: security.FromBytes(raw), encoding: model.EncodingBase64}, nil
	}
	if key != "" {
		if len(key) != symmetricKeySize {
			return nil, fmt.Errorf("%w: key must be %d characters, got %d", ErrInvalidKey, symmetricKeySize, len(key))
		}
		return &MasterKey{key: security.FromString(key), encoding: model.EncodingUTF8}, nil
	}
	return nil, ErrNoMasterKey
}

// Encoding reports which configuration form the key came from.
func (m *MasterKey) Encoding() model.KeyEncoding { return m.encoding }

// String redacts the key.
func (m *MasterKey) String() string { return "MasterKey(" + string(m.encoding) + ")" }

// Encrypt seals plaintext under the master key.
func (m *MasterKey) Encrypt(plaintext []byte) (Sealed, error) {
	field, err := SymmetricEncrypt(plaintext, m.key)
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{EncryptedField: field, Algorithm: model.AlgorithmAES256GCM, Encoding: m.encoding}, nil
}

// Decrypt opens a payload sealed by Encrypt.
func (m *MasterKey) Decrypt(s Sealed) ([]byte, error) {
	if s.Encoding != m.encoding {
		return nil, fmt.Errorf("%w: payload uses %q, master key is %q", ErrEncodingMismatch, s.Encoding, m.encoding)
	}
	return SymmetricDecrypt(s.EncryptedField, m.key)
}
