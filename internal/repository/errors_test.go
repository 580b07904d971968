package repository

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapWriteErrorDetectsUniqueViolation(t *testing.T) {
	err := mapWriteError("create user", &pq.Error{Code: "23505", Constraint: "users_contact_key"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "users_contact_key", DuplicateConstraint(err))
	assert.Contains(t, err.Error(), "create user")
}

func TestMapWriteErrorWrapsOthers(t *testing.T) {
	cause := errors.New("connection reset")
	err := mapWriteError("create user", cause)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Empty(t, DuplicateConstraint(err))
	assert.NoError(t, mapWriteError("noop", nil))
}
