package api

import (
	"context"
	"net/http"

	"github.com/reviewlane/reviewer/internal/auth"
)

// Authorizer checks whether a caller can perform an action on a resource.
// NoopAuthorizer allows everything (single-pod/dev mode); the default
// production authorizer is role-scoping performed inline by each route
// handler via auth.IdentityFromContext + teamdir.Directory, since the
// review pipeline's access rules (own-sessions-only for trainers, own-pod
// for reviewers, pod-set for admins) are resource-shape-specific rather
// than a single generic CanAccess check.
type Authorizer interface {
	CanAccess(ctx context.Context, email, resourceType, resourceID, action string) (bool, error)
}

// NoopAuthorizer allows all access.
type NoopAuthorizer struct{}

func (NoopAuthorizer) CanAccess(_ context.Context, _, _, _, _ string) (bool, error) {
	return true, nil
}

// requireAccess checks authorization and writes 403 if denied.
// Returns true if access is allowed, false if denied (response already written).
func (s *Server) requireAccess(w http.ResponseWriter, r *http.Request, resourceType, resourceID, action string) bool {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return true // no identity middleware installed on this route = allow all
	}

	authorizer := s.Authorizer
	if authorizer == nil {
		return true // no authorizer configured = allow all
	}

	allowed, err := authorizer.CanAccess(r.Context(), identity.Email, resourceType, resourceID, action)
	if err != nil {
		errorJSON(w, "authorization check failed", "INTERNAL", http.StatusInternalServerError)
		return false
	}
	if !allowed {
		errorJSON(w, "forbidden", "FORBIDDEN", http.StatusForbidden)
		return false
	}
	return true
}
