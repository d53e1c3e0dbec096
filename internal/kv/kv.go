// Package kv is the ephemeral keyed store behind monthly counters and the
// short-lived nonces of the CAPTCHA and confirmation round trips. Redis backs
// it in production; Memory serves tests and single-process development.
package kv

import (
	"context"
	"time"
)

// Store is the narrow set of operations the service needs. Get and GetDel
// return ("", nil) for a missing key.
type Store interface {
	// IncrExpireAt increments key and sets its absolute expiry in one step.
	IncrExpireAt(ctx context.Context, key string, at time.Time) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	// Set stores value with a TTL; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// GetDel reads and removes key atomically.
	GetDel(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)
