package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kjstillabower/weather-widget/internal/view"
)

// Store persists widget state per session for the lifetime of the session.
// Get returns ok=false for unknown or expired sessions.
type Store interface {
	Get(ctx context.Context, id string) (view.State, bool, error)
	Set(ctx context.Context, id string, state view.State, ttl time.Duration) error
}

// InMemoryStore keeps sessions in process memory. Safe for concurrent use.
type InMemoryStore struct {
	items *gocache.Cache
}

// NewInMemoryStore creates a store whose janitor sweeps expired sessions every cleanupInterval.
func NewInMemoryStore(cleanupInterval time.Duration) *InMemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	return &InMemoryStore{
		items: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (view.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return view.State{}, false, err
	}
	v, ok := s.items.Get(id)
	if !ok {
		return view.State{}, false, nil
	}
	return v.(view.State), true, nil
}

// Set implements Store.Set. A non-positive ttl keeps the session until the process exits.
func (s *InMemoryStore) Set(ctx context.Context, id string, state view.State, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	s.items.Set(id, state, ttl)
	return nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	return s.items.ItemCount()
}
