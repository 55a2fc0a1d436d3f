// Copyright (c) 2026 Keymaster Team
// Ghostshift - project key migration engine
// This source code is licensed under the MIT license found in the LICENSE file.

// Package permission answers whether an actor may start a project upgrade.
package permission

import (
	"context"
	"fmt"

	"github.com/toeirei/ghostshift/internal/model"
)

// Decision is the yes/no answer of an Authorizer.
type Decision struct {
	Granted bool
	Reason  string
}

// Authorizer decides whether actorID may upgrade projectID.
type Authorizer interface {
	Authorize(ctx context.Context, actorID, projectID string) (Decision, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actorID, projectID string) (Decision, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, actorID, projectID string) (Decision, error) {
	return f(ctx, actorID, projectID)
}

// MembershipFinder is the slice of the store the default authorizer reads.
type MembershipFinder interface {
	FindProjectMembership(ctx context.Context, userID, projectID string) (*model.ProjectMembership, error)
}

// MembershipAuthorizer grants the upgrade to project admins.
type MembershipAuthorizer struct {
	Memberships MembershipFinder
}

// NewMembershipAuthorizer returns the default authorizer.
func NewMembershipAuthorizer(m MembershipFinder) *MembershipAuthorizer {
	return &MembershipAuthorizer{Memberships: m}
}

func (a *MembershipAuthorizer) Authorize(ctx context.Context, actorID, projectID string) (Decision, error) {
	m, err := a.Memberships.FindProjectMembership(ctx, actorID, projectID)
	if err != nil {
		return Decision{}, fmt.Errorf("lookup membership of %s in project %s: %w", actorID, projectID, err)
	}
	if m == nil {
		return Decision{Reason: "not a project member"}, nil
	}
	if m.Role != model.RoleAdmin {
		return Decision{Reason: fmt.Sprintf("role %q cannot upgrade the project", m.Role)}, nil
	}
	return Decision{Granted: true}, nil
}
