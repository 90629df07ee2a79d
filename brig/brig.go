// Package brig is the intrusion detector: a process-wide set of jailed
// client keys with TTL expiry, plus the honeypot-path predicate that feeds
// it.
package brig

import (
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/logger"
)

// Brig tracks jailed keys (typically `clientAddr + "_" + reason`) until
// their sentences expire. Expired entries are evicted lazily on lookup and
// in bulk by the Sweeper. When disabled, every predicate returns false and
// SendToJail is a no-op.
type Brig struct {
	sync.RWMutex

	logger           logger.Logger
	clock            clock.Clock
	enabled          bool
	suspiciousTokens []string

	inmates map[string]time.Time
}

func NewBrig(logger logger.Logger, clk clock.Clock, enabled bool, suspiciousPaths []string) *Brig {
	tokens := make([]string, len(suspiciousPaths))
	for i, t := range suspiciousPaths {
		tokens[i] = strings.ToLower(t)
	}

	return &Brig{
		logger:           logger,
		clock:            clk,
		enabled:          enabled,
		suspiciousTokens: tokens,
		inmates:          make(map[string]time.Time),
	}
}

func (b *Brig) Enabled() bool {
	return b.enabled
}

// SendToJail inserts or overwrites the key with an expiry of now + duration.
func (b *Brig) SendToJail(key string, duration time.Duration) {
	if !b.enabled {
		return
	}

	b.Lock()
	defer b.Unlock()

	b.inmates[key] = b.clock.Now().Add(duration)
	b.logger.Info("sent-to-jail",
		zap.String("key", key),
		zap.Duration("duration", duration),
	)
}

// IsInJail reports whether the key is present and unexpired. An expired
// entry is evicted on the spot.
func (b *Brig) IsInJail(key string) bool {
	if !b.enabled {
		return false
	}

	b.RLock()
	expiry, ok := b.inmates[key]
	b.RUnlock()

	if !ok {
		return false
	}
	if b.clock.Now().Before(expiry) {
		return true
	}

	b.Lock()
	defer b.Unlock()
	// the sentence may have been extended between the locks
	if expiry, ok := b.inmates[key]; ok && !b.clock.Now().Before(expiry) {
		delete(b.inmates, key)
	}
	return false
}

// IsLookingForSuspiciousPaths reports whether the lowercased path contains
// any configured honeypot token.
func (b *Brig) IsLookingForSuspiciousPaths(path string) bool {
	if !b.enabled {
		return false
	}

	lowered := strings.ToLower(path)
	for _, token := range b.suspiciousTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// Prune evicts every expired entry and returns how many were removed.
func (b *Brig) Prune() int {
	b.Lock()
	defer b.Unlock()

	now := b.clock.Now()
	evicted := 0
	for key, expiry := range b.inmates {
		if !now.Before(expiry) {
			delete(b.inmates, key)
			evicted++
		}
	}
	return evicted
}

func (b *Brig) NumInmates() int {
	b.RLock()
	defer b.RUnlock()

	return len(b.inmates)
}
