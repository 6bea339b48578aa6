package account

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"commerce-service/internal/apperr"
	"commerce-service/internal/store/badgerstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := badgerstore.Open(badgerstore.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, "admin", zap.NewNop())
	svc.hashCost = bcrypt.MinCost
	return svc
}

func strptr(s string) *string { return &s }

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, err := svc.Register(ctx, "  alice ", "secret1", "555-0100", "alice@example.com")
	require.NoError(t, err)
	assert.NotZero(t, c.ID)
	assert.Equal(t, "alice", c.Username)
	assert.True(t, c.Enabled)
	assert.NotEqual(t, "secret1", c.Password)

	got, err := svc.Login(ctx, "alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "wrong password")

	_, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Contains(t, err.Error(), "register")

	_, err = svc.Register(ctx, "alice", "another1", "", "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		email    string
	}{
		{"empty username", "", "secret1", ""},
		{"short username", "ab", "secret1", ""},
		{"long username", strings.Repeat("a", 33), "secret1", ""},
		{"short password", "carol", "12345", ""},
		{"long password", "carol", strings.Repeat("x", 65), ""},
		{"bad email", "carol", "secret1", "not-an-email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.password, "", tt.email)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "secret1", "1", "")
	require.NoError(t, err)

	c, err := svc.UpdateProfile(ctx, "bob", Update{Email: strptr("bob@example.com"), Password: strptr("secret2")})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", c.Email)
	assert.Equal(t, "1", c.Phone)

	_, err = svc.Login(ctx, "bob", "secret1")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	_, err = svc.Login(ctx, "bob", "secret2")
	require.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, "bob", Update{Password: strptr("123")})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = svc.UpdateProfile(ctx, "ghost", Update{Phone: strptr("2")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "123456")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureAdmin(ctx, "123456")
	require.NoError(t, err)
	assert.False(t, created)

	assert.True(t, svc.IsAdmin("admin"))
	assert.False(t, svc.IsAdmin("alice"))
	assert.False(t, svc.IsAdmin(""))

	_, err = svc.Login(ctx, "admin", "123456")
	assert.NoError(t, err)
}
