package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/telewake/relay-service/internal/domain/model"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLite is the sqlx-backed Store implementation on the pure-Go driver.
type SQLite struct {
	db *sqlx.DB
}

// Interface guard
var _ Store = (*SQLite)(nil)

// Open connects to the database file, enabling WAL and foreign keys.
// A single connection is used: sqlite serializes writes anyway and one
// writer sidesteps SQLITE_BUSY between overlapping transactions.
func Open(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// HashPassword derives the stored password form. Accounts authenticate
// against the relay with API tokens; the hash only backs the account
// management tooling.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// GenerateToken mints n random bytes, hex encoded.
func GenerateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("storage: read random: %v", err))
	}
	return hex.EncodeToString(buf)
}

// --- row types ---

type userRow struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	APIToken     string `db:"api_token"`
	Plan         string `db:"plan"`
	DevicesLimit int    `db:"devices_limit"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) toDomain() model.User {
	return model.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		APIToken:     r.APIToken,
		Plan:         r.Plan,
		DevicesLimit: r.DevicesLimit,
		CreatedAt:    time.Unix(0, r.CreatedAt),
	}
}

type deviceRow struct {
	DeviceID           string        `db:"device_id"`
	UserID             int64         `db:"user_id"`
	DeviceToken        string        `db:"device_token"`
	Cloud              bool          `db:"cloud"`
	Added              sql.NullInt64 `db:"added"`
	LastSeen           sql.NullInt64 `db:"last_seen"`
	PollCount          int64         `db:"poll_count"`
	LastRequestCounter int64         `db:"last_request_counter"`
}

func (r deviceRow) toDomain() model.Device {
	return model.Device{
		DeviceID:           r.DeviceID,
		UserID:             r.UserID,
		DeviceToken:        r.DeviceToken,
		Cloud:              r.Cloud,
		Added:              nsToTime(r.Added),
		LastSeen:           nsToTime(r.LastSeen),
		PollCount:          r.PollCount,
		LastRequestCounter: r.LastRequestCounter,
	}
}

type envelopeRow struct {
	ID          int64          `db:"id"`
	DeviceID    string         `db:"device_id"`
	DeviceToken sql.NullString `db:"device_token"`
	MessageType string         `db:"message_type"`
	MessageData string         `db:"message_data"`
	Signature   sql.NullString `db:"signature"`
	Direction   string         `db:"direction"`
	Timestamp   int64          `db:"timestamp"`
}

func (r envelopeRow) toDomain() model.Envelope {
	return model.Envelope{
		ID:          r.ID,
		DeviceID:    r.DeviceID,
		DeviceToken: r.DeviceToken.String,
		Type:        model.MessageType(r.MessageType),
		Payload:     r.MessageData,
		Signature:   r.Signature.String,
		Direction:   model.Direction(r.Direction),
		Timestamp:   time.Unix(0, r.Timestamp),
	}
}

func nsToTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.Unix(0, v.Int64)
}

func timeToNS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// --- users ---

func (s *SQLite) CreateUser(ctx context.Context, username, password, plan string, devicesLimit int) (model.User, error) {
	u := model.User{
		Username:     username,
		PasswordHash: HashPassword(password),
		APIToken:     GenerateToken(32),
		Plan:         plan,
		DevicesLimit: devicesLimit,
		CreatedAt:    time.Now(),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, api_token, plan, devices_limit, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, u.APIToken, u.Plan, u.DevicesLimit, u.CreatedAt.UnixNano())
	if err != nil {
		return model.User{}, fmt.Errorf("insert user %s: %w", username, err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return model.User{}, fmt.Errorf("user id: %w", err)
	}
	return u, nil
}

func (s *SQLite) UserByToken(ctx context.Context, apiToken string) (model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE api_token = ?`, apiToken)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("select user by token: %w", err)
	}
	return row.toDomain(), nil
}

func (s *SQLite) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// --- devices ---

func (s *SQLite) InsertDevice(ctx context.Context, dev model.Device) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (device_id, user_id, device_token, cloud, added, last_seen, poll_count, last_request_counter)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dev.DeviceID, dev.UserID, dev.DeviceToken, dev.Cloud,
		timeToNS(dev.Added), timeToNS(dev.LastSeen), dev.PollCount, dev.LastRequestCounter)
	if err != nil {
		return fmt.Errorf("insert device %s: %w", dev.DeviceID, err)
	}
	return nil
}

func (s *SQLite) RefreshDevice(ctx context.Context, userID int64, deviceID, deviceToken string, seen time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET device_token = ?, cloud = 1, last_seen = ? WHERE device_id = ? AND user_id = ?`,
		deviceToken, seen.UnixNano(), deviceID, userID)
	if err != nil {
		return fmt.Errorf("refresh device %s: %w", deviceID, err)
	}
	return affectedOrNotFound(res)
}

func (s *SQLite) UpdateDeviceToken(ctx context.Context, userID int64, deviceID, deviceToken string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE devices SET device_token = ? WHERE device_id = ? AND user_id = ?`,
		deviceToken, deviceID, userID)
	if err != nil {
		return fmt.Errorf("update device token %s: %w", deviceID, err)
	}
	return affectedOrNotFound(res)
}

// DeleteDevice removes the device and every envelope queued under its
// id in one transaction. Returns false when the device does not exist
// or belongs to another user.
func (s *SQLite) DeleteDevice(ctx context.Context, userID int64, deviceID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete device: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM devices WHERE device_id = ? AND user_id = ?`, deviceID, userID)
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", deviceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", deviceID, err)
	}
	if n == 0 {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE device_id = ?`, deviceID); err != nil {
		return false, fmt.Errorf("delete device envelopes %s: %w", deviceID, err)
	}
	return true, tx.Commit()
}

func (s *SQLite) DeviceByID(ctx context.Context, deviceID string) (model.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM devices WHERE device_id = ?`, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, ErrNotFound
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("select device %s: %w", deviceID, err)
	}
	return row.toDomain(), nil
}

func (s *SQLite) UserDevice(ctx context.Context, userID int64, deviceID string) (model.Device, error) {
	var row deviceRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM devices WHERE device_id = ? AND user_id = ?`, deviceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, ErrNotFound
	}
	if err != nil {
		return model.Device{}, fmt.Errorf("select user device %s: %w", deviceID, err)
	}
	return row.toDomain(), nil
}

func (s *SQLite) DevicesByUser(ctx context.Context, userID int64) ([]model.Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM devices WHERE user_id = ? ORDER BY added, device_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("select devices for user %d: %w", userID, err)
	}
	out := make([]model.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// TouchDevice raises last_seen and, when a counter is supplied, the
// stored request counter. Both are monotonic: lower observed values are
// silently ignored. Unknown devices are a no-op.
func (s *SQLite) TouchDevice(ctx context.Context, deviceID string, seen time.Time, requestCounter *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices
		 SET last_seen = MAX(COALESCE(last_seen, 0), ?),
		     last_request_counter = MAX(last_request_counter, COALESCE(?, last_request_counter))
		 WHERE device_id = ?`,
		seen.UnixNano(), requestCounter, deviceID)
	if err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

func (s *SQLite) IncrementPollCount(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE devices SET poll_count = poll_count + 1 WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("increment poll count %s: %w", deviceID, err)
	}
	return nil
}

func (s *SQLite) CountDevices(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM devices`); err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return n, nil
}

func (s *SQLite) CountDevicesByUser(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM devices WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("count devices for user %d: %w", userID, err)
	}
	return n, nil
}

func (s *SQLite) CountDevicesSeenSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM devices WHERE last_seen >= ?`, since.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("count online devices: %w", err)
	}
	return n, nil
}

// --- envelopes ---

func (s *SQLite) AppendEnvelope(ctx context.Context, env model.Envelope) (int64, error) {
	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (device_id, device_token, message_type, message_data, signature, direction, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		env.DeviceID, env.DeviceToken, string(env.Type), env.Payload, env.Signature, string(env.Direction), ts.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("append envelope for %s: %w", env.DeviceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("envelope id: %w", err)
	}
	return id, nil
}

// PendingEnvelopes lists queued envelopes in FIFO order without
// consuming them. Stream delivery confirms each row individually.
func (s *SQLite) PendingEnvelopes(ctx context.Context, deviceID string, dir model.Direction) ([]model.Envelope, error) {
	var rows []envelopeRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE device_id = ? AND direction = ? ORDER BY timestamp, id`,
		deviceID, string(dir))
	if err != nil {
		return nil, fmt.Errorf("select pending envelopes for %s: %w", deviceID, err)
	}
	out := make([]model.Envelope, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// TakeEnvelopes is the destructive read behind pull: every matching
// envelope is returned in FIFO order and deleted in the same
// transaction.
func (s *SQLite) TakeEnvelopes(ctx context.Context, deviceID string, dir model.Direction) ([]model.Envelope, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin take envelopes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rows []envelopeRow
	err = tx.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE device_id = ? AND direction = ? ORDER BY timestamp, id`,
		deviceID, string(dir))
	if err != nil {
		return nil, fmt.Errorf("select envelopes for %s: %w", deviceID, err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]int64, len(rows))
	out := make([]model.Envelope, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		out[i] = r.toDomain()
	}

	query, args, err := sqlx.In(`DELETE FROM messages WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build envelope delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("delete taken envelopes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit take envelopes: %w", err)
	}
	return out, nil
}

func (s *SQLite) DeleteEnvelope(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete envelope %d: %w", id, err)
	}
	return nil
}

func (s *SQLite) CountEnvelopes(ctx context.Context, dir model.Direction) (int64, error) {
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE direction = ?`, string(dir))
	if err != nil {
		return 0, fmt.Errorf("count envelopes %s: %w", dir, err)
	}
	return n, nil
}

func (s *SQLite) DeleteEnvelopesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE timestamp < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired envelopes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired envelope count: %w", err)
	}
	return n, nil
}

// --- server config ---

func (s *SQLite) ConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM server_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select config %s: %w", key, err)
	}
	return value, nil
}

// EnsureConfig seeds a key only when it is absent.
func (s *SQLite) EnsureConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO server_config (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("ensure config %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO server_config (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
