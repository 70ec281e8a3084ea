package storage

// Timestamps are stored as int64 Unix nanoseconds so FIFO ordering by
// (timestamp, id) never loses ties to clock granularity.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT    NOT NULL UNIQUE,
	password_hash TEXT    NOT NULL,
	api_token     TEXT    NOT NULL UNIQUE,
	plan          TEXT    NOT NULL DEFAULT 'basic',
	devices_limit INTEGER NOT NULL DEFAULT 5,
	created_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_api_token ON users (api_token);

CREATE TABLE IF NOT EXISTS devices (
	device_id            TEXT    PRIMARY KEY,
	user_id              INTEGER NOT NULL REFERENCES users (id) ON DELETE CASCADE,
	device_token         TEXT    NOT NULL UNIQUE,
	cloud                INTEGER NOT NULL DEFAULT 1,
	added                INTEGER,
	last_seen            INTEGER,
	poll_count           INTEGER NOT NULL DEFAULT 0,
	last_request_counter INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_devices_user_id ON devices (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id    TEXT    NOT NULL,
	device_token TEXT,
	message_type TEXT    NOT NULL DEFAULT 'command',
	message_data TEXT    NOT NULL,
	signature    TEXT,
	direction    TEXT    NOT NULL,
	timestamp    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_device_id ON messages (device_id);
CREATE INDEX IF NOT EXISTS idx_messages_device_direction ON messages (device_id, direction);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages (timestamp);

CREATE TABLE IF NOT EXISTS server_config (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	key        TEXT    NOT NULL UNIQUE,
	value      TEXT,
	updated_at INTEGER NOT NULL
);
`
