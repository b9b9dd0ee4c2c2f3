package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists workspace snapshots between requests.
type Store interface {
	// Load returns the snapshot for customerID, or nil when none exists.
	Load(ctx context.Context, customerID string) (*Workspace, error)
	Save(ctx context.Context, ws *Workspace) error
	Delete(ctx context.Context, customerID string) error
}

// RedisStore keeps snapshots as JSON with a sliding TTL.
type RedisStore struct {
	R      redis.UniversalClient
	TTL    time.Duration
	Prefix string
}

func (s RedisStore) key(customerID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "subscriptions:workspace:"
	}
	return prefix + customerID
}

func (s RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 2 * time.Hour
	}
	return s.TTL
}

// Load implements Store.
func (s RedisStore) Load(ctx context.Context, customerID string) (*Workspace, error) {
	if s.R == nil {
		return nil, errors.New("workspace store: redis client not configured")
	}
	data, err := s.R.Get(ctx, s.key(customerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	return decodeWorkspace(data)
}

// Save implements Store.
func (s RedisStore) Save(ctx context.Context, ws *Workspace) error {
	if s.R == nil {
		return errors.New("workspace store: redis client not configured")
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	if err := s.R.Set(ctx, s.key(ws.CustomerID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("save workspace: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s RedisStore) Delete(ctx context.Context, customerID string) error {
	if s.R == nil {
		return errors.New("workspace store: redis client not configured")
	}
	return s.R.Del(ctx, s.key(customerID)).Err()
}

// MemoryStore keeps encoded snapshots in process. Safe for concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, customerID string) (*Workspace, error) {
	s.mu.Lock()
	data, ok := s.data[customerID]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeWorkspace(data)
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, ws *Workspace) error {
	data, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string][]byte{}
	}
	s.data[ws.CustomerID] = data
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, customerID)
	return nil
}

func decodeWorkspace(data []byte) (*Workspace, error) {
	var ws Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	ws.ensureMaps()
	return &ws, nil
}

// Serializer runs fn exclusively for key. lock.Locker satisfies it.
type Serializer interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// LocalSerializer serializes per key within one process.
type LocalSerializer struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// WithLock implements Serializer. ttl is ignored.
func (l *LocalSerializer) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*sync.Mutex{}
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// state is how a controller reaches its workspace: update runs fn
// exclusively and persists the result when fn succeeds, view reads a snapshot.
type state interface {
	update(ctx context.Context, fn func(*Workspace) error) error
	view(ctx context.Context, fn func(*Workspace)) error
}

// localState keeps the workspace in memory behind a mutex.
type localState struct {
	mu sync.Mutex
	ws *Workspace
}

func (s *localState) update(_ context.Context, fn func(*Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ws)
}

func (s *localState) view(_ context.Context, fn func(*Workspace)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.ws)
	return nil
}

// storedState loads and saves the workspace through a Store, serializing
// writers per customer.
type storedState struct {
	store      Store
	serializer Serializer
	customerID string
	lockTTL    time.Duration
}

func (s *storedState) load(ctx context.Context) (*Workspace, error) {
	ws, err := s.store.Load(ctx, s.customerID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		ws = NewWorkspace(s.customerID)
	}
	return ws, nil
}

func (s *storedState) update(ctx context.Context, fn func(*Workspace) error) error {
	return s.serializer.WithLock(ctx, "workspace:"+s.customerID, s.lockTTL, func(ctx context.Context) error {
		ws, err := s.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(ws); err != nil {
			return err
		}
		return s.store.Save(ctx, ws)
	})
}

func (s *storedState) view(ctx context.Context, fn func(*Workspace)) error {
	ws, err := s.load(ctx)
	if err != nil {
		return err
	}
	fn(ws)
	return nil
}
