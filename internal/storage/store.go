package storage

import (
	"context"
	"errors"
	"time"

	"github.com/telewake/relay-service/internal/domain/model"
)

// ErrNotFound is returned for lookups that match no row, including
// ownership-scoped lookups where the row belongs to someone else.
var ErrNotFound = errors.New("storage: not found")

// BaseURLKey is the server_config key holding the advertised address.
const BaseURLKey = "base_url"

// Store is the persistence gateway for accounts, devices, the durable
// envelope queue and the server_config table.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, username, password, plan string, devicesLimit int) (model.User, error)
	UserByToken(ctx context.Context, apiToken string) (model.User, error)
	CountUsers(ctx context.Context) (int64, error)

	InsertDevice(ctx context.Context, dev model.Device) error
	RefreshDevice(ctx context.Context, userID int64, deviceID, deviceToken string, seen time.Time) error
	UpdateDeviceToken(ctx context.Context, userID int64, deviceID, deviceToken string) error
	DeleteDevice(ctx context.Context, userID int64, deviceID string) (bool, error)
	DeviceByID(ctx context.Context, deviceID string) (model.Device, error)
	UserDevice(ctx context.Context, userID int64, deviceID string) (model.Device, error)
	DevicesByUser(ctx context.Context, userID int64) ([]model.Device, error)
	TouchDevice(ctx context.Context, deviceID string, seen time.Time, requestCounter *int64) error
	IncrementPollCount(ctx context.Context, deviceID string) error
	CountDevices(ctx context.Context) (int64, error)
	CountDevicesByUser(ctx context.Context, userID int64) (int64, error)
	CountDevicesSeenSince(ctx context.Context, since time.Time) (int64, error)

	AppendEnvelope(ctx context.Context, env model.Envelope) (int64, error)
	PendingEnvelopes(ctx context.Context, deviceID string, dir model.Direction) ([]model.Envelope, error)
	TakeEnvelopes(ctx context.Context, deviceID string, dir model.Direction) ([]model.Envelope, error)
	DeleteEnvelope(ctx context.Context, id int64) error
	CountEnvelopes(ctx context.Context, dir model.Direction) (int64, error)
	DeleteEnvelopesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ConfigValue(ctx context.Context, key string) (string, error)
	EnsureConfig(ctx context.Context, key, value string) error
	SetConfigValue(ctx context.Context, key, value string) error
}
