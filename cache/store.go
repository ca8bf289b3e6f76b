package cache

import (
	"context"
	"time"
)

// collection is the store-facing surface of the engine. Every read applies
// the liveness filter (expires is null or later than now).
type collection interface {
	// Capped reports whether the collection refuses physical deletes.
	Capped() bool
	// Find returns the live documents among keys.
	Find(ctx context.Context, keys []string, now time.Time) ([]document, error)
	// Exists reports whether a live document exists for key.
	Exists(ctx context.Context, key string, now time.Time) (bool, error)
	// Upsert writes val under key, replacing the other representation.
	Upsert(ctx context.Context, key string, val Value, expires *time.Time, now time.Time) error
	// Increment adds delta to a live native value and returns the updated
	// document, or nil when no live native entry matched.
	Increment(ctx context.Context, key string, delta int64, now time.Time) (*document, error)
	// Expire sets the expiry of the live entries among keys and reports how
	// many matched. A nil keys slice matches every document.
	Expire(ctx context.Context, keys []string, expires *time.Time, now time.Time) (int64, error)
	// Remove deletes the documents among keys; nil keys removes everything.
	Remove(ctx context.Context, keys []string) (int64, error)
}

// connector opens the collection on first use and releases it on close.
type connector interface {
	Open(ctx context.Context) (collection, error)
	Close(ctx context.Context) error
}
