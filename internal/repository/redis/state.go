// Package redis keeps the durable client state in a Redis hash.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

const (
	keyPrefix    = "console:state:"
	fieldShop    = "active_shop_id"
	fieldSubject = "subject_id"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// StateStore implements tenant.PointerStore and auth.SubjectStore.
type StateStore struct {
	client *redis.Client
	key    string
}

var (
	_ tenant.PointerStore = (*StateStore)(nil)
	_ auth.SubjectStore   = (*StateStore)(nil)
)

// NewStateStore connects to Redis and verifies the connection.
func NewStateStore(ctx context.Context, cfg Config, clientID string) (*StateStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewStateStoreWithClient(client, clientID), nil
}

// NewStateStoreWithClient creates a store on an existing client.
func NewStateStoreWithClient(client *redis.Client, clientID string) *StateStore {
	return &StateStore{client: client, key: keyPrefix + clientID}
}

func (s *StateStore) ActiveShop(ctx context.Context) (string, error) {
	return s.get(ctx, fieldShop)
}

func (s *StateStore) SaveActiveShop(ctx context.Context, shopID string) error {
	return s.set(ctx, fieldShop, shopID)
}

func (s *StateStore) ClearActiveShop(ctx context.Context) error {
	return s.del(ctx, fieldShop)
}

func (s *StateStore) SaveSubject(ctx context.Context, subjectID string) error {
	return s.set(ctx, fieldSubject, subjectID)
}

func (s *StateStore) ClearSubject(ctx context.Context) error {
	return s.del(ctx, fieldSubject)
}

// Subject returns the persisted subject id, or "".
func (s *StateStore) Subject(ctx context.Context) (string, error) {
	return s.get(ctx, fieldSubject)
}

// Close closes the underlying client.
func (s *StateStore) Close() error {
	return s.client.Close()
}

func (s *StateStore) get(ctx context.Context, field string) (string, error) {
	v, err := s.client.HGet(ctx, s.key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return v, nil
}

func (s *StateStore) set(ctx context.Context, field, value string) error {
	if err := s.client.HSet(ctx, s.key, field, value).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", field, err)
	}
	return nil
}

func (s *StateStore) del(ctx context.Context, field string) error {
	if err := s.client.HDel(ctx, s.key, field).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", field, err)
	}
	return nil
}
