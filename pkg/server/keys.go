package server

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"
)

const keySegments = 16

// PendingKey is a minted, not-yet-redeemed session key bound to the
// username that proved its password.
type PendingKey struct {
	Key      string
	Username string
	IssuedAt time.Time
}

// KeyRegistry tracks short-lived one-time session keys. A key is created
// by a successful password auth and destroyed on redemption, or discarded
// by the key-window timer if still unredeemed.
type KeyRegistry struct {
	mu      sync.Mutex
	keys    map[string]PendingKey
	metrics *Metrics
}

// NewKeyRegistry creates an empty key registry.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{keys: make(map[string]PendingKey)}
}

// SetMetrics attaches metrics to the registry.
func (r *KeyRegistry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Mint generates a fresh key for the username and registers it.
func (r *KeyRegistry) Mint(username string) string {
	key := GenerateKey()

	r.mu.Lock()
	r.keys[key] = PendingKey{Key: key, Username: username, IssuedAt: time.Now()}
	count := len(r.keys)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordPendingKeys(count)
	}
	return key
}

// Redeem consumes a key, returning its bound username. Keys are strictly
// single-use: a second redemption of the same key fails.
func (r *KeyRegistry) Redeem(key string) (string, bool) {
	r.mu.Lock()
	pending, ok := r.keys[key]
	if ok {
		delete(r.keys, key)
	}
	count := len(r.keys)
	r.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.RecordPendingKeys(count)
	}
	return pending.Username, ok
}

// Discard drops an unredeemed key, reporting whether it was still there.
func (r *KeyRegistry) Discard(key string) bool {
	r.mu.Lock()
	_, ok := r.keys[key]
	if ok {
		delete(r.keys, key)
	}
	count := len(r.keys)
	r.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.RecordPendingKeys(count)
	}
	return ok
}

// Len returns the number of outstanding keys.
func (r *KeyRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

var keySegmentRange = big.NewInt(0x10000)

// GenerateKey returns a 64-character session key: 16 segments, each a
// value in [0x10000, 0x20000) formatted base 36, which always yields four
// characters. Clients depend on the 64-character length.
func GenerateKey() string {
	var b strings.Builder
	b.Grow(keySegments * 4)
	for i := 0; i < keySegments; i++ {
		n, err := rand.Int(rand.Reader, keySegmentRange)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is
			// broken; nothing sensible to do but stop.
			panic(err)
		}
		b.WriteString(strconv.FormatInt(0x10000+n.Int64(), 36))
	}
	return b.String()
}
