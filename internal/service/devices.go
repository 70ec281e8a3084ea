package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/domain/registry"
	"github.com/telewake/relay-service/internal/storage"
)

// Devicer manages the device inventory of an account.
type Devicer interface {
	// Register provisions deviceID under the account. An empty token
	// mints a fresh one. The created flag is false for re-registrations.
	Register(ctx context.Context, user model.User, deviceID, token string) (model.Device, bool, error)

	// UpdateToken replaces an owned device's token; empty mints one.
	UpdateToken(ctx context.Context, user model.User, deviceID, token string) (model.Device, error)

	// Remove deletes the device with its queued envelopes and every
	// live trace in the connection registry.
	Remove(ctx context.Context, user model.User, deviceID string) error

	// Owned fetches deviceID only when it belongs to the account.
	Owned(ctx context.Context, user model.User, deviceID string) (model.Device, error)

	List(ctx context.Context, user model.User) ([]model.Device, error)
}

type DeviceService struct {
	store  storage.Store
	reg    registry.Registrar
	logger *slog.Logger
}

// Interface guard
var _ Devicer = (*DeviceService)(nil)

func NewDeviceService(store storage.Store, reg registry.Registrar, logger *slog.Logger) *DeviceService {
	return &DeviceService{store: store, reg: reg, logger: logger}
}

// Register rotates the token when the device already belongs to the
// account, so a reinstalled device keeps its identity. The plan limit
// applies to new devices only.
func (s *DeviceService) Register(ctx context.Context, user model.User, deviceID, token string) (model.Device, bool, error) {
	if deviceID == "" {
		return model.Device{}, false, model.NewError(model.ErrInvalidPacket, "Missing device_id")
	}

	now := time.Now()
	if token == "" {
		token = storage.GenerateToken(16)
	}

	existing, err := s.store.DeviceByID(ctx, deviceID)
	switch {
	case err == nil && existing.UserID != user.ID:
		// Never disclose that the id exists under another account.
		return model.Device{}, false, model.NewError(model.ErrDeviceNotFound, "Device not found")

	case err == nil:
		if err := s.store.RefreshDevice(ctx, user.ID, deviceID, token, now); err != nil {
			return model.Device{}, false, fmt.Errorf("refresh device %s: %w", deviceID, err)
		}
		existing.DeviceToken = token
		existing.LastSeen = now
		existing.Cloud = true
		s.logger.Info("device re-registered", "device_id", deviceID, "user_id", user.ID)
		return existing, false, nil

	case !errors.Is(err, storage.ErrNotFound):
		return model.Device{}, false, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}

	count, err := s.store.CountDevicesByUser(ctx, user.ID)
	if err != nil {
		return model.Device{}, false, fmt.Errorf("count devices for user %d: %w", user.ID, err)
	}
	if count >= int64(user.DevicesLimit) {
		return model.Device{}, false, model.NewErrorf(model.ErrLimitExceeded,
			"Device limit: maximum %d", user.DevicesLimit)
	}

	dev := model.Device{
		DeviceID:    deviceID,
		UserID:      user.ID,
		DeviceToken: token,
		Cloud:       true,
		Added:       now,
		LastSeen:    now,
	}
	if err := s.store.InsertDevice(ctx, dev); err != nil {
		return model.Device{}, false, fmt.Errorf("insert device %s: %w", deviceID, err)
	}
	s.logger.Info("device registered", "device_id", deviceID, "user_id", user.ID)
	return dev, true, nil
}

func (s *DeviceService) UpdateToken(ctx context.Context, user model.User, deviceID, token string) (model.Device, error) {
	dev, err := s.Owned(ctx, user, deviceID)
	if err != nil {
		return model.Device{}, err
	}

	if token == "" {
		token = storage.GenerateToken(16)
	}
	if err := s.store.UpdateDeviceToken(ctx, user.ID, deviceID, token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Device{}, model.NewError(model.ErrDeviceNotFound, "Device not found")
		}
		return model.Device{}, fmt.Errorf("update token for %s: %w", deviceID, err)
	}
	dev.DeviceToken = token
	return dev, nil
}

func (s *DeviceService) Remove(ctx context.Context, user model.User, deviceID string) error {
	ok, err := s.store.DeleteDevice(ctx, user.ID, deviceID)
	if err != nil {
		return fmt.Errorf("delete device %s: %w", deviceID, err)
	}
	if !ok {
		return model.NewError(model.ErrDeviceNotFound, "Device not found")
	}

	s.reg.Evict(deviceID)
	s.logger.Info("device deleted", "device_id", deviceID, "user_id", user.ID)
	return nil
}

func (s *DeviceService) Owned(ctx context.Context, user model.User, deviceID string) (model.Device, error) {
	dev, err := s.store.UserDevice(ctx, user.ID, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Device{}, model.NewError(model.ErrDeviceNotFound, "Device not found")
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("lookup device %s: %w", deviceID, err)
	}
	return dev, nil
}

func (s *DeviceService) List(ctx context.Context, user model.User) ([]model.Device, error) {
	devices, err := s.store.DevicesByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list devices for user %d: %w", user.ID, err)
	}
	return devices, nil
}
