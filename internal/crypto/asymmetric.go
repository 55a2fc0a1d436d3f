// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/toeirei/ghostshift/internal/security"
	"golang.org/x/crypto/nacl/box"
)

const (
	boxKeySize   = 32
	boxNonceSize = 24
)

// GenerateKeyPair creates a box keypair. Both halves are base64 encoded; the
// private half is returned as a Secret holding the base64 text.
func GenerateKeyPair() (publicKey string, privateKey security.Secret, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generate box keypair: %w", err)
	}
	publicKey = base64.StdEncoding.EncodeToString(pub[:])
	privateKey = security.FromString(base64.StdEncoding.EncodeToString(priv[:]))
	for i := range priv {
		priv[i] = 0
	}
	return publicKey, privateKey, nil
}

// AsymmetricEncrypt seals plaintext for recipientPublicKey, authenticated by
// senderPrivateKey. It returns base64 ciphertext and nonce.
func AsymmetricEncrypt(plaintext []byte, recipientPublicKey string, senderPrivateKey security.Secret) (ciphertext, nonce string, err error) {
	pub, err := decodeBoxKey(recipientPublicKey)
	if err != nil {
		return "", "", fmt.Errorf("recipient public key: %w", err)
	}
	priv, err := decodeBoxKey(senderPrivateKey.Reveal())
	if err != nil {
		return "", "", fmt.Errorf("sender private key: %w", err)
	}
	defer zero(priv)

	var n [boxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := box.Seal(nil, plaintext, &n, pub, priv)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(n[:]), nil
}

// AsymmetricDecrypt opens a box sealed by AsymmetricEncrypt.
func AsymmetricDecrypt(ciphertext, nonce, senderPublicKey string, recipientPrivateKey security.Secret) ([]byte, error) {
	pub, err := decodeBoxKey(senderPublicKey)
	if err != nil {
		return nil, fmt.Errorf("sender public key: %w", err)
	}
	priv, err := decodeBoxKey(recipientPrivateKey.Reveal())
	if err != nil {
		return nil, fmt.Errorf("recipient private key: %w", err)
	}
	defer zero(priv)

	body, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext is not base64", ErrDecryption)
	}
	rawNonce, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(rawNonce) != boxNonceSize {
		return nil, fmt.Errorf("%w: malformed nonce", ErrDecryption)
	}
	var n [boxNonceSize]byte
	copy(n[:], rawNonce)

	plaintext, ok := box.Open(nil, body, &n, pub, priv)
	if !ok {
		return nil, fmt.Errorf("%w: box authentication failed", ErrDecryption)
	}
	return plaintext, nil
}

func decodeBoxKey(encoded string) (*[boxKeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidKey)
	}
	if len(raw) != boxKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, boxKeySize, len(raw))
	}
	var k [boxKeySize]byte
	copy(k[:], raw)
	return &k, nil
}

func zero(k *[boxKeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
