package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaregh/platform/internal/repository/memory"
	"github.com/awaregh/platform/pkg/models"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewService(store, store, "unit-test-secret"), store
}

func TestRegisterCreatesTenantAndAdmin(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "Acme", "admin@acme.test", "s3cret-pass")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, models.RoleAdmin, user.Role)
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	tenant, err := store.GetTenant(ctx, user.TenantID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)

	identity, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, user.TenantID, identity.TenantID)
	assert.Equal(t, models.RoleAdmin, identity.Role)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "", "a@b.co", "long-enough")
	assert.True(t, models.IsValidationError(err))

	_, _, err = svc.Register(ctx, "Acme", "not-an-email", "long-enough")
	assert.True(t, models.IsValidationError(err))

	_, _, err = svc.Register(ctx, "Acme", "a@b.co", "short")
	assert.True(t, models.IsValidationError(err))
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "Acme", "dup@acme.test", "s3cret-pass")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "Other", "dup@acme.test", "s3cret-pass")
	assert.True(t, models.IsConflict(err))
}

func TestLogin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	registered, _, err := svc.Register(ctx, "Acme", "login@acme.test", "s3cret-pass")
	require.NoError(t, err)

	user, token, err := svc.Login(ctx, "login@acme.test", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEmpty(t, token)

	_, _, err = svc.Login(ctx, "login@acme.test", "wrong-password")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// unknown email is indistinguishable from a bad password
	_, _, err = svc.Login(ctx, "ghost@acme.test", "s3cret-pass")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestVerifyRejectsGarbageAndForeignTokens(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Verify("not-a-token")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	other := NewService(memory.NewStore(), memory.NewStore(), "another-secret")
	ctx := context.Background()
	_, token, err := other.Register(ctx, "Evil", "evil@x.test", "s3cret-pass")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	issued := time.Now().Add(-48 * time.Hour)
	svc.now = func() time.Time { return issued }
	_, token, err := svc.Register(ctx, "Acme", "old@acme.test", "s3cret-pass")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
