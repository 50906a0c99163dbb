package auth_test

import (
	"context"
	"testing"

	"github.com/haakonsb/carcounter/internal/auth"
	"github.com/haakonsb/carcounter/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAuthorize_Owner(t *testing.T) {
	id := auth.Identity{ID: "alice"}
	assert.NoError(t, auth.Authorize(id, "alice"))
}

func TestAuthorize_Admin(t *testing.T) {
	id := auth.Identity{ID: "root", Admin: true}
	assert.NoError(t, auth.Authorize(id, "alice"))
}

func TestAuthorize_Stranger(t *testing.T) {
	id := auth.Identity{ID: "mallory"}
	assert.ErrorIs(t, auth.Authorize(id, "alice"), auth.ErrForbidden)
}

func hashOf(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestStaticVerifier(t *testing.T) {
	v := auth.NewStaticVerifier([]config.KeyEntry{
		{Name: "alice", Hash: hashOf(t, "alice-token")},
		{Name: "root", Hash: hashOf(t, "root-token"), Admin: true},
	})
	ctx := context.Background()

	id, err := v.VerifyToken(ctx, "alice-token")
	require.NoError(t, err)
	assert.Equal(t, "alice", id.ID)
	assert.False(t, id.Admin)

	id, err = v.VerifyToken(ctx, "root-token")
	require.NoError(t, err)
	assert.Equal(t, "root", id.ID)
	assert.True(t, id.Admin)
	assert.Contains(t, id.Groups, "admin")

	_, err = v.VerifyToken(ctx, "wrong-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
