package model

import "time"

// User is an account record. The relay only reads it: accounts are
// created out of band and identified by their opaque API token.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	APIToken     string
	Plan         string
	DevicesLimit int
	CreatedAt    time.Time
}
