package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"hsync/entity"
)

type users struct {
	byToken map[string]*entity.User
	calls   int
}

func (u *users) GetUser(token string) (*entity.User, error) {
	u.calls++
	user, ok := u.byToken[token]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return user, nil
}

func TestUserByToken_Caches(t *testing.T) {
	db := &users{byToken: map[string]*entity.User{
		"op-token": {Username: "op", Role: entity.RoleOperator},
	}}
	a := New(db)
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	user, err := a.UserByToken("op-token")
	require.NoError(t, err)
	assert.Equal(t, "op", user.Username)

	_, err = a.UserByToken("op-token")
	require.NoError(t, err)
	assert.Equal(t, 1, db.calls)

	now = now.Add(2 * time.Minute)
	_, err = a.UserByToken("op-token")
	require.NoError(t, err)
	assert.Equal(t, 2, db.calls)
}

func TestUserByToken_Rejects(t *testing.T) {
	db := &users{byToken: map[string]*entity.User{
		"orphan": {Username: "rs", Role: entity.RoleReseller},
	}}
	a := New(db)

	_, err := a.UserByToken("missing")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = a.UserByToken("")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	_, err = a.UserByToken("orphan")
	assert.Error(t, err, "reseller role without a reseller account")

	_, err = New(nil).UserByToken("x")
	assert.Error(t, err)
}
