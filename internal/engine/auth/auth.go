package auth

import (
	"errors"
	"fmt"

	"castline/internal/config"
)

var ErrActorRequired = errors.New("actor_id required")

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service resolves permissions from the rbac section of the config.
type Service struct {
	Config *config.Config
}

// Permissions returns the union of direct grants and grants carried by roles.
func (s Service) Permissions(roles, direct []string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range direct {
		add(p)
	}
	if s.Config != nil {
		for _, p := range s.Config.Permissions(roles) {
			add(p)
		}
	}
	return out
}

// Require fails with ForbiddenError unless the actor holds perm.
func (s Service) Require(actorID string, roles, direct []string, perm string) error {
	if actorID == "" {
		return ErrActorRequired
	}
	for _, p := range s.Permissions(roles, direct) {
		if p == perm {
			return nil
		}
	}
	return ForbiddenError{Permission: perm}
}
