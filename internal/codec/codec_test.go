// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package codec

import (
	"errors"
	"testing"
	"time"

	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
)

var (
	oldKey = security.FromString("0123456789abcdef0123456789abcdef")
	newKey = security.FromString("fedcba9876543210fedcba9876543210")
)

func seal(t *testing.T, s string, key security.Secret) model.EncryptedField {
	t.Helper()
	f, err := crypto.EncryptWithProjectKey(s, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return f
}

func TestSecretsRoundTripUnderNewKey(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := model.Secret{
		ID:          "s1",
		FolderID:    "f1",
		Version:     3,
		Type:        model.SecretShared,
		SecretKey:   seal(t, "DB_URL", oldKey),
		SecretValue: seal(t, "postgres://x", oldKey),
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingBase64,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	dec, err := Secrets.Decrypt([]model.Secret{in}, oldKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if len(dec) != 1 {
		t.Fatalf("expected 1 decrypted record, got %d", len(dec))
	}
	if v, _ := Secrets.Value(dec[0], "key"); v != "DB_URL" {
		t.Fatalf("unexpected key %q", v)
	}
	if v, _ := Secrets.Value(dec[0], "comment"); v != "" {
		t.Fatalf("empty optional comment should decrypt to empty string, got %q", v)
	}

	out, err := Secrets.Encrypt(dec, newKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got := out[0]
	if got.ID != in.ID || got.FolderID != in.FolderID || got.Version != in.Version || !got.CreatedAt.Equal(created) {
		t.Fatalf("non-encrypted fields changed: %+v", got)
	}
	if got.KeyEncoding != model.EncodingUTF8 {
		t.Fatalf("expected utf8 encoding, got %q", got.KeyEncoding)
	}
	if got.SecretComment.IsZero() {
		t.Fatalf("empty comment must be sealed as empty string")
	}
	back, err := Secrets.DecryptOne(got, newKey)
	if err != nil {
		t.Fatalf("decrypt under new key: %v", err)
	}
	for i, want := range []string{"DB_URL", "postgres://x", ""} {
		if back.Values[i] != want {
			t.Fatalf("field %d: want %q got %q", i, want, back.Values[i])
		}
	}
	if _, err := Secrets.DecryptOne(got, oldKey); !errors.Is(err, crypto.ErrDecryption) {
		t.Fatalf("old key must no longer open the record, got %v", err)
	}
}

func TestDecryptRequiredFieldMissing(t *testing.T) {
	in := model.SecretVersion{ID: "v1", SecretValue: seal(t, "x", oldKey)}
	if _, err := SecretVersions.DecryptOne(in, oldKey); !errors.Is(err, crypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption for missing key field, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	in := model.ApprovalSecret{ID: "a1", SecretKey: seal(t, "K", oldKey)}
	if _, err := ApprovalSecrets.Decrypt([]model.ApprovalSecret{in}, newKey); !errors.Is(err, crypto.ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestEncryptSchemaFailure(t *testing.T) {
	in := model.Secret{
		ID:          "s-bad",
		FolderID:    "f1",
		Version:     1,
		Type:        "bogus",
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingBase64,
	}
	_, err := Secrets.Encrypt([]Decrypted[model.Secret]{{Original: in, Values: []string{"K", "V", ""}}}, newKey)
	if !errors.Is(err, errs.ErrSchemaValidation) {
		t.Fatalf("expected ErrSchemaValidation, got %v", err)
	}
}

func TestEncryptValueCountMismatch(t *testing.T) {
	in := model.IntegrationAuth{ID: "i1", ProjectID: "p1", Integration: "github", Algorithm: model.AlgorithmAES256GCM}
	if _, err := IntegrationAuths.EncryptOne(Decrypted[model.IntegrationAuth]{Original: in, Values: []string{"a"}}, newKey); err == nil {
		t.Fatalf("expected error for value count mismatch")
	}
}

func TestIntegrationAuthAllOptional(t *testing.T) {
	in := model.IntegrationAuth{
		ID:          "i1",
		ProjectID:   "p1",
		Integration: "github",
		Access:      seal(t, "tok", oldKey),
		Algorithm:   model.AlgorithmAES256GCM,
		KeyEncoding: model.EncodingUTF8,
	}
	dec, err := IntegrationAuths.DecryptOne(in, oldKey)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	out, err := IntegrationAuths.EncryptOne(dec, newKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if out.Refresh.IV == "" || out.AccessID.Tag == "" {
		t.Fatalf("every field should be sealed: %+v", out)
	}
	if v, ok := IntegrationAuths.Value(dec, "access"); !ok || v != "tok" {
		t.Fatalf("unexpected access value %q ok=%v", v, ok)
	}
}

func TestFieldsOrder(t *testing.T) {
	got := IntegrationAuths.Fields()
	want := []string{"access", "accessId", "refresh"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fields: want %v got %v", want, got)
		}
	}
	if Secrets.Name() != "secret" {
		t.Fatalf("unexpected name %q", Secrets.Name())
	}
}
