package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/storage"
)

func newAuthFixture(t *testing.T) (*AuthService, model.User, model.Device) {
	t.Helper()
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	user, err := st.CreateUser(ctx, "alice", "secret", "basic", 5)
	require.NoError(t, err)

	dev := model.Device{
		DeviceID:    "dev-1",
		UserID:      user.ID,
		DeviceToken: storage.GenerateToken(16),
	}
	require.NoError(t, st.InsertDevice(ctx, dev))

	return NewAuthService(st), user, dev
}

func TestResolveToken(t *testing.T) {
	auth, user, _ := newAuthFixture(t)
	ctx := context.Background()

	got, err := auth.ResolveToken(ctx, user.APIToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// Second resolve is served from the cache.
	got, err = auth.ResolveToken(ctx, user.APIToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestResolveTokenRejectsUnknown(t *testing.T) {
	auth, _, _ := newAuthFixture(t)

	_, err := auth.ResolveToken(context.Background(), "bogus")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidAPIToken, pe.Kind)
}

func TestResolveTokenRequiresToken(t *testing.T) {
	auth, _, _ := newAuthFixture(t)

	_, err := auth.ResolveToken(context.Background(), "")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrAuthRequired, pe.Kind)
}

func TestResolveDevice(t *testing.T) {
	auth, _, dev := newAuthFixture(t)
	ctx := context.Background()

	got, err := auth.ResolveDevice(ctx, dev.DeviceID, dev.DeviceToken)
	require.NoError(t, err)
	assert.Equal(t, dev.DeviceID, got.DeviceID)

	_, err = auth.ResolveDevice(ctx, dev.DeviceID, "wrong-token")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidToken, pe.Kind)

	_, err = auth.ResolveDevice(ctx, "ghost", dev.DeviceToken)
	pe, ok = model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidToken, pe.Kind)

	_, err = auth.ResolveDevice(ctx, dev.DeviceID, "")
	pe, ok = model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrAuthRequired, pe.Kind)
}
