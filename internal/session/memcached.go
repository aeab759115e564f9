package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-widget/internal/view"
)

const keyPrefix = "widget:session:"

// maxRelativeExp is the largest expiration memcached treats as relative seconds.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedStore implements Store using memcached so sessions survive across replicas.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedStore(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedStore, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, fmt.Errorf("memcached: no server addresses in %q", addrs)
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (m *MemcachedStore) key(id string) string {
	return keyPrefix + id
}

// Get implements Store.Get.
func (m *MemcachedStore) Get(ctx context.Context, id string) (view.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return view.State{}, false, err
	}
	item, err := m.client.Get(m.key(id))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return view.State{}, false, nil
		}
		return view.State{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var state view.State
	if err := json.Unmarshal(item.Value, &state); err != nil {
		return view.State{}, false, fmt.Errorf("decode session: %w", err)
	}
	return state, true, nil
}

// Set implements Store.Set.
func (m *MemcachedStore) Set(ctx context.Context, id string, state view.State, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.client.Set(&memcache.Item{
		Key:        m.key(id),
		Value:      raw,
		Expiration: expiration(ttl),
	}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// expiration converts ttl to memcached seconds; out-of-range values fall back to one day.
func expiration(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 || sec > maxRelativeExp {
		return 24 * 60 * 60
	}
	return int32(sec)
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *MemcachedStore) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedStore) Close() error {
	return m.client.Close()
}
