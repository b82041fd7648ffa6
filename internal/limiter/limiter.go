// Package limiter throttles login attempts per (name, client address).
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, name string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, name string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, name string, ipHash []byte) (bool, time.Duration, error)
}

// Policy describes the sliding window and lockout.
type Policy struct {
	Window   time.Duration `yaml:"window"`    // failures older than this are forgotten
	MaxFails int           `yaml:"max_fails"` // failures within Window that trigger a block
	BlockFor time.Duration `yaml:"block_for"`
}

// DefaultPolicy is 5 failures in 15 minutes, blocked for 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
