// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package upgrade

import (
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/model"
)

// Queue and job names of the migration.
const (
	QueueName = "upgrade-project-to-ghost"
	JobName   = "upgrade-project-to-ghost-job"
)

// EncryptedPrivateKey is the starting user's private key sealed under the
// master key for the trip through the queue.
type EncryptedPrivateKey struct {
	EncryptedKey    string            `json:"encryptedKey"`
	EncryptedKeyIV  string            `json:"encryptedKeyIv"`
	EncryptedKeyTag string            `json:"encryptedKeyTag"`
	KeyEncoding     model.KeyEncoding `json:"keyEncoding"`
}

// Payload is the job data of one migration.
type Payload struct {
	ProjectID           string              `json:"projectId"`
	StartedByUserID     string              `json:"startedByUserId"`
	EncryptedPrivateKey EncryptedPrivateKey `json:"encryptedPrivateKey"`
}

// SealPrivateKey builds the payload form of a user private key.
func SealPrivateKey(master *crypto.MasterKey, privateKey []byte) (EncryptedPrivateKey, error) {
	if master == nil {
		return EncryptedPrivateKey{}, crypto.ErrNoMasterKey
	}
	s, err := master.Encrypt(privateKey)
	if err != nil {
		return EncryptedPrivateKey{}, err
	}
	return EncryptedPrivateKey{
		EncryptedKey:    s.Ciphertext,
		EncryptedKeyIV:  s.IV,
		EncryptedKeyTag: s.Tag,
		KeyEncoding:     s.Encoding,
	}, nil
}

func (k EncryptedPrivateKey) sealed() crypto.Sealed {
	return crypto.Sealed{
		EncryptedField: model.EncryptedField{Ciphertext: k.EncryptedKey, IV: k.EncryptedKeyIV, Tag: k.EncryptedKeyTag},
		Algorithm:      model.AlgorithmAES256GCM,
		Encoding:       k.KeyEncoding,
	}
}
