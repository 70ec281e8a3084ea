package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/storage"
)

type deviceFixture struct {
	svc   *DeviceService
	reg   *registry.Registry
	store *storage.SQLite
	user  model.User
}

func newDeviceFixture(t *testing.T) *deviceFixture {
	t.Helper()
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	user, err := st.CreateUser(ctx, "alice", "secret", "basic", 2)
	require.NoError(t, err)

	reg := registry.New()
	return &deviceFixture{
		svc:   NewDeviceService(st, reg, slog.Default()),
		reg:   reg,
		store: st,
		user:  user,
	}
}

func TestRegisterNewDevice(t *testing.T) {
	f := newDeviceFixture(t)

	dev, created, err := f.svc.Register(context.Background(), f.user, "dev-1", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, dev.DeviceToken, 32)
	assert.True(t, dev.Cloud)
	assert.False(t, dev.Added.IsZero())
}

func TestRegisterKeepsSuppliedToken(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	dev, created, err := f.svc.Register(ctx, f.user, "dev-1", "factory-secret")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "factory-secret", dev.DeviceToken)

	stored, err := f.store.DeviceByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "factory-secret", stored.DeviceToken)
}

func TestRegisterRotatesTokenForOwnedDevice(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	first, _, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)

	second, created, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NotEqual(t, first.DeviceToken, second.DeviceToken)

	// The stored token matches the latest registration.
	stored, err := f.store.DeviceByID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, second.DeviceToken, stored.DeviceToken)
}

func TestRegisterHidesForeignDevice(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	other, err := f.store.CreateUser(ctx, "bob", "pw", "basic", 2)
	require.NoError(t, err)
	_, _, err = f.svc.Register(ctx, other, "dev-1", "")
	require.NoError(t, err)

	_, _, err = f.svc.Register(ctx, f.user, "dev-1", "")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrDeviceNotFound, pe.Kind)
}

func TestRegisterEnforcesPlanLimitForNewDevicesOnly(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)
	_, _, err = f.svc.Register(ctx, f.user, "dev-2", "")
	require.NoError(t, err)

	_, _, err = f.svc.Register(ctx, f.user, "dev-3", "")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrLimitExceeded, pe.Kind)

	// Re-registering an existing device is never limited.
	_, created, err := f.svc.Register(ctx, f.user, "dev-2", "")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRegisterRequiresDeviceID(t *testing.T) {
	f := newDeviceFixture(t)

	_, _, err := f.svc.Register(context.Background(), f.user, "", "")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidPacket, pe.Kind)
}

func TestRemoveDeviceEvictsLiveConnection(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)

	s := &fakeStream{}
	f.reg.Register("dev-1", s)

	require.NoError(t, f.svc.Remove(ctx, f.user, "dev-1"))
	assert.True(t, s.closed)
	assert.False(t, f.reg.IsPresent("dev-1"))

	err = f.svc.Remove(ctx, f.user, "dev-1")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrDeviceNotFound, pe.Kind)
}

func TestUpdateToken(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	dev, _, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)

	rotated, err := f.svc.UpdateToken(ctx, f.user, "dev-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, dev.DeviceToken, rotated.DeviceToken)

	pinned, err := f.svc.UpdateToken(ctx, f.user, "dev-1", "pinned-secret")
	require.NoError(t, err)
	assert.Equal(t, "pinned-secret", pinned.DeviceToken)

	_, err = f.svc.UpdateToken(ctx, f.user, "ghost", "")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrDeviceNotFound, pe.Kind)
}

func TestOwnedAndList(t *testing.T) {
	f := newDeviceFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Register(ctx, f.user, "dev-1", "")
	require.NoError(t, err)

	dev, err := f.svc.Owned(ctx, f.user, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "dev-1", dev.DeviceID)

	other, err := f.store.CreateUser(ctx, "bob", "pw", "basic", 2)
	require.NoError(t, err)
	_, err = f.svc.Owned(ctx, other, "dev-1")
	pe, ok := model.AsError(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrDeviceNotFound, pe.Kind)

	devices, err := f.svc.List(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-1", devices[0].DeviceID)
}
