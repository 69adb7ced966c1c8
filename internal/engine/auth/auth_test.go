package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"castline/internal/config"
)

func TestRequire(t *testing.T) {
	svc := Service{Config: config.Default()}

	assert.NoError(t, svc.Require("alice", []string{"owner"}, nil, "integrity.repair"))
	assert.NoError(t, svc.Require("bob", nil, []string{"integrity.repair"}, "integrity.repair"))

	err := svc.Require("carol", []string{"viewer"}, nil, "project.archive")
	var fe ForbiddenError
	assert.True(t, errors.As(err, &fe))
	assert.Equal(t, "project.archive", fe.Permission)

	assert.ErrorIs(t, svc.Require("", []string{"owner"}, nil, "project.read"), ErrActorRequired)
}

func TestPermissionsUnion(t *testing.T) {
	svc := Service{Config: config.Default()}
	perms := svc.Permissions([]string{"viewer", "viewer"}, []string{"events.read", "custom.perm"})
	assert.ElementsMatch(t, []string{"project.read", "role.read", "events.read", "custom.perm"}, perms)
}
