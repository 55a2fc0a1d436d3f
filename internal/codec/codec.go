// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package codec decrypts and re-encrypts the encrypted record kinds of a
// project. One generic Kind describes a record type: the ordered list of its
// encrypted fields, where its key encoding lives, and the JSON schema every
// rewritten record must satisfy.
package codec

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/toeirei/ghostshift/internal/crypto"
	"github.com/toeirei/ghostshift/internal/errs"
	"github.com/toeirei/ghostshift/internal/model"
	"github.com/toeirei/ghostshift/internal/security"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://ghostshift.dev/schemas/"

// Field describes one encrypted field of a record.
type Field[R any] struct {
	Name string
	// Optional fields may be stored as an empty triple; they decrypt to "".
	Optional bool
	Ref      func(*R) *model.EncryptedField
}

// Decrypted pairs a record with the plaintext of its encrypted fields, in
// the order of the kind's field list.
type Decrypted[R any] struct {
	Original R
	Values   []string
}

// Kind is the descriptor of one encrypted record type.
type Kind[R any] struct {
	name     string
	fields   []Field[R]
	id       func(*R) string
	encoding func(*R) *model.KeyEncoding
	schema   *jsonschema.Schema
}

func newKind[R any](name, schemaFile string, id func(*R) string, encoding func(*R) *model.KeyEncoding, fields ...Field[R]) *Kind[R] {
	return &Kind[R]{
		name:     name,
		fields:   fields,
		id:       id,
		encoding: encoding,
		schema:   mustCompile(schemaFile),
	}
}

// Name is the human readable kind name used in errors and logs.
func (k *Kind[R]) Name() string { return k.name }

// Fields lists the encrypted field names in order.
func (k *Kind[R]) Fields() []string {
	out := make([]string, len(k.fields))
	for i, f := range k.fields {
		out[i] = f.Name
	}
	return out
}

// Value returns the plaintext of the named field, or false when the kind has
// no such field.
func (k *Kind[R]) Value(d Decrypted[R], name string) (string, bool) {
	for i, f := range k.fields {
		if f.Name == name && i < len(d.Values) {
			return d.Values[i], true
		}
	}
	return "", false
}

// DecryptOne opens every encrypted field of r with projectKey.
func (k *Kind[R]) DecryptOne(r R, projectKey security.Secret) (Decrypted[R], error) {
	values := make([]string, len(k.fields))
	for i, f := range k.fields {
		field := *f.Ref(&r)
		if field.IsZero() {
			if f.Optional {
				continue
			}
			return Decrypted[R]{}, fmt.Errorf("%s %s: %s: %w: field is empty", k.name, k.id(&r), f.Name, crypto.ErrDecryption)
		}
		v, err := crypto.DecryptWithProjectKey(field, projectKey)
		if err != nil {
			return Decrypted[R]{}, fmt.Errorf("%s %s: %s: %w", k.name, k.id(&r), f.Name, err)
		}
		values[i] = v
	}
	return Decrypted[R]{Original: r, Values: values}, nil
}

// Decrypt opens a batch of records. The first failure aborts the batch.
func (k *Kind[R]) Decrypt(records []R, projectKey security.Secret) ([]Decrypted[R], error) {
	out := make([]Decrypted[R], 0, len(records))
	for _, r := range records {
		d, err := k.DecryptOne(r, projectKey)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// EncryptOne returns a copy of d.Original with every encrypted field sealed
// under newKey and the key encoding set to utf8. All other fields are kept.
// The result is validated against the kind's schema.
func (k *Kind[R]) EncryptOne(d Decrypted[R], newKey security.Secret) (R, error) {
	out := d.Original
	if len(d.Values) != len(k.fields) {
		var zero R
		return zero, fmt.Errorf("%s %s: expected %d values, got %d", k.name, k.id(&out), len(k.fields), len(d.Values))
	}
	for i, f := range k.fields {
		field, err := crypto.EncryptWithProjectKey(d.Values[i], newKey)
		if err != nil {
			var zero R
			return zero, fmt.Errorf("%s %s: %s: %w", k.name, k.id(&out), f.Name, err)
		}
		*f.Ref(&out) = field
	}
	*k.encoding(&out) = model.EncodingUTF8
	if err := k.Validate(out); err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}

// Encrypt seals a batch. The first failure aborts the batch.
func (k *Kind[R]) Encrypt(items []Decrypted[R], newKey security.Secret) ([]R, error) {
	out := make([]R, 0, len(items))
	for _, d := range items {
		r, err := k.EncryptOne(d, newKey)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Validate checks r against the kind's JSON schema.
func (k *Kind[R]) Validate(r R) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("%s %s: marshal: %w", k.name, k.id(&r), err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s %s: unmarshal: %w", k.name, k.id(&r), err)
	}
	if err := k.schema.Validate(inst); err != nil {
		return fmt.Errorf("%s %s: %w: %v", k.name, k.id(&r), errs.ErrSchemaValidation, err)
	}
	return nil
}

func mustCompile(file string) *jsonschema.Schema {
	raw, err := schemaFS.ReadFile("schemas/" + file)
	if err != nil {
		panic(fmt.Sprintf("codec: read schema %s: %v", file, err))
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("codec: parse schema %s: %v", file, err))
	}
	url := schemaBaseURL + file
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("codec: add schema %s: %v", file, err))
	}
	s, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("codec: compile schema %s: %v", file, err))
	}
	return s
}
