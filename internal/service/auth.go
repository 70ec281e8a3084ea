package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/telewake/relay-service/internal/domain/model"
	"github.com/telewake/relay-service/internal/storage"
)

// Auther resolves peer credentials to accounts and devices.
type Auther interface {
	// ResolveToken maps an account API token to its user.
	ResolveToken(ctx context.Context, apiToken string) (model.User, error)
	// ResolveDevice checks a device's own credential pair.
	ResolveDevice(ctx context.Context, deviceID, deviceToken string) (model.Device, error)
}

type AuthService struct {
	store storage.Store
	cache *expirable.LRU[string, model.User]
}

// NewAuthService provides token resolution with a short-lived cache in
// front of the store. API tokens never rotate, so a 30 second window
// only delays revocation, not issuance. Device tokens rotate on
// re-registration and are therefore never cached.
func NewAuthService(store storage.Store) *AuthService {
	return &AuthService{
		store: store,
		cache: expirable.NewLRU[string, model.User](1024, nil, 30*time.Second),
	}
}

func (s *AuthService) ResolveToken(ctx context.Context, apiToken string) (model.User, error) {
	if apiToken == "" {
		return model.User{}, model.NewError(model.ErrAuthRequired, "API token required")
	}

	if user, ok := s.cache.Get(apiToken); ok {
		return user, nil
	}

	user, err := s.store.UserByToken(ctx, apiToken)
	if errors.Is(err, storage.ErrNotFound) {
		return model.User{}, model.NewError(model.ErrInvalidAPIToken, "Invalid API token")
	}
	if err != nil {
		return model.User{}, fmt.Errorf("resolve api token: %w", err)
	}

	s.cache.Add(apiToken, user)
	return user, nil
}

func (s *AuthService) ResolveDevice(ctx context.Context, deviceID, deviceToken string) (model.Device, error) {
	if deviceID == "" || deviceToken == "" {
		return model.Device{}, model.NewError(model.ErrAuthRequired, "Device credentials required")
	}

	dev, err := s.store.DeviceByID(ctx, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Device{}, model.NewError(model.ErrInvalidToken, "Invalid token")
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("resolve device %s: %w", deviceID, err)
	}

	if subtle.ConstantTimeCompare([]byte(dev.DeviceToken), []byte(deviceToken)) != 1 {
		return model.Device{}, model.NewError(model.ErrInvalidToken, "Invalid token")
	}
	return dev, nil
}
