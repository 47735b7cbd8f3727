package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores opaque byte values by key
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Options selects the cache layers to build
type Options struct {
	Enabled bool
	Dir     string // empty keeps the cache in memory only
	TTL     time.Duration
}

// New builds a cache from options. A disabled cache stores nothing.
func New(opts Options) Cache {
	switch {
	case !opts.Enabled:
		return Nop{}
	case opts.Dir == "":
		return NewMemoryCache(opts.TTL, 10*time.Minute)
	default:
		return NewLayeredCache(opts.TTL, opts.Dir, opts.TTL)
	}
}

// Key derives a stable key from a namespace and the bytes that identify a
// value (e.g. a document's contents)
func Key(namespace string, parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return "archeck-" + namespace + "-v1-" + hex.EncodeToString(h.Sum(nil))
}

// Nop never stores anything
type Nop struct{}

func (Nop) Get(string) ([]byte, bool)               { return nil, false }
func (Nop) Set(string, []byte, time.Duration) error { return nil }
func (Nop) Delete(string) error                     { return nil }
func (Nop) Clear() error                            { return nil }
