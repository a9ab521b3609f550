package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrInvalidSessKey indicates a missing, expired or foreign session key.
var ErrInvalidSessKey = errors.New("invalid session key")

// SessKeyService issues and checks per-user anti-forgery tokens.
type SessKeyService interface {
	Issue(ctx context.Context, userID uint) (string, time.Duration, error)
	Validate(ctx context.Context, userID uint, key string) error
}

type sessKeyService struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewSessKeyService constructs a Redis-backed session key store.
func NewSessKeyService(client *redis.Client, ttl time.Duration, logger zerolog.Logger) SessKeyService {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	return &sessKeyService{
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "sesskey_service").Logger(),
	}
}

func sessKeyCacheKey(userID uint) string {
	return fmt.Sprintf("aicheck:sesskey:%d", userID)
}

// Issue returns the caller's current key, creating one when none is live.
func (s *sessKeyService) Issue(ctx context.Context, userID uint) (string, time.Duration, error) {
	if userID == 0 {
		return "", 0, ErrNotLoggedIn
	}

	cacheKey := sessKeyCacheKey(userID)
	candidate := strings.ReplaceAll(uuid.NewString(), "-", "")
	created, err := s.redis.SetNX(ctx, cacheKey, candidate, s.ttl).Result()
	if err != nil {
		return "", 0, fmt.Errorf("store session key: %w", err)
	}
	if created {
		return candidate, s.ttl, nil
	}

	existing, err := s.redis.Get(ctx, cacheKey).Result()
	if err != nil {
		return "", 0, fmt.Errorf("load session key: %w", err)
	}
	ttl, err := s.redis.TTL(ctx, cacheKey).Result()
	if err != nil || ttl < 0 {
		ttl = s.ttl
	}
	return existing, ttl, nil
}

func (s *sessKeyService) Validate(ctx context.Context, userID uint, key string) error {
	key = strings.TrimSpace(key)
	if userID == 0 || key == "" {
		return ErrInvalidSessKey
	}

	stored, err := s.redis.Get(ctx, sessKeyCacheKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidSessKey
		}
		return fmt.Errorf("load session key: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(key)) != 1 {
		s.logger.Warn().Uint("user_id", userID).Msg("session key mismatch")
		return ErrInvalidSessKey
	}
	return nil
}
