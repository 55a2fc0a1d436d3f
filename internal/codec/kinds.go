// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

package codec

import "github.com/toeirei/ghostshift/internal/model"

var (
	// Secrets codes the key, value and comment of a folder's current secrets.
	Secrets = newKind("secret", "secret.json",
		func(r *model.Secret) string { return r.ID },
		func(r *model.Secret) *model.KeyEncoding { return &r.KeyEncoding },
		Field[model.Secret]{Name: "key", Ref: func(r *model.Secret) *model.EncryptedField { return &r.SecretKey }},
		Field[model.Secret]{Name: "value", Optional: true, Ref: func(r *model.Secret) *model.EncryptedField { return &r.SecretValue }},
		Field[model.Secret]{Name: "comment", Optional: true, Ref: func(r *model.Secret) *model.EncryptedField { return &r.SecretComment }},
	)

	// SecretVersions codes the retained history of secrets.
	SecretVersions = newKind("secret version", "secret_version.json",
		func(r *model.SecretVersion) string { return r.ID },
		func(r *model.SecretVersion) *model.KeyEncoding { return &r.KeyEncoding },
		Field[model.SecretVersion]{Name: "key", Ref: func(r *model.SecretVersion) *model.EncryptedField { return &r.SecretKey }},
		Field[model.SecretVersion]{Name: "value", Optional: true, Ref: func(r *model.SecretVersion) *model.EncryptedField { return &r.SecretValue }},
		Field[model.SecretVersion]{Name: "comment", Optional: true, Ref: func(r *model.SecretVersion) *model.EncryptedField { return &r.SecretComment }},
	)

	// ApprovalSecrets codes the secret snapshots held by open approval requests.
	ApprovalSecrets = newKind("approval secret", "approval_secret.json",
		func(r *model.ApprovalSecret) string { return r.ID },
		func(r *model.ApprovalSecret) *model.KeyEncoding { return &r.KeyEncoding },
		Field[model.ApprovalSecret]{Name: "key", Ref: func(r *model.ApprovalSecret) *model.EncryptedField { return &r.SecretKey }},
		Field[model.ApprovalSecret]{Name: "value", Optional: true, Ref: func(r *model.ApprovalSecret) *model.EncryptedField { return &r.SecretValue }},
		Field[model.ApprovalSecret]{Name: "comment", Optional: true, Ref: func(r *model.ApprovalSecret) *model.EncryptedField { return &r.SecretComment }},
	)

	// IntegrationAuths codes the credentials of a project's integrations.
	IntegrationAuths = newKind("integration auth", "integration_auth.json",
		func(r *model.IntegrationAuth) string { return r.ID },
		func(r *model.IntegrationAuth) *model.KeyEncoding { return &r.KeyEncoding },
		Field[model.IntegrationAuth]{Name: "access", Optional: true, Ref: func(r *model.IntegrationAuth) *model.EncryptedField { return &r.Access }},
		Field[model.IntegrationAuth]{Name: "accessId", Optional: true, Ref: func(r *model.IntegrationAuth) *model.EncryptedField { return &r.AccessID }},
		Field[model.IntegrationAuth]{Name: "refresh", Optional: true, Ref: func(r *model.IntegrationAuth) *model.EncryptedField { return &r.Refresh }},
	)
)
