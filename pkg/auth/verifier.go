package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token is blacklisted")
)

// Blacklist хранит отозванные токены до их истечения
type Blacklist interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type RedisBlacklist struct {
	rdb *redis.Client
}

func NewRedisBlacklist(rdb *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{rdb: rdb}
}

func (b *RedisBlacklist) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.rdb.Set(ctx, "blacklist:"+token, 1, ttl).Err()
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := b.rdb.Exists(ctx, "blacklist:"+token).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Verifier проверяет bearer-токен и возвращает идентификатор пользователя
type Verifier struct {
	jwt       *JWTManager
	blacklist Blacklist
}

func NewVerifier(jwtManager *JWTManager, blacklist Blacklist) *Verifier {
	return &Verifier{jwt: jwtManager, blacklist: blacklist}
}

func (v *Verifier) Verify(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrMissingToken
	}

	if v.blacklist != nil {
		revoked, err := v.blacklist.IsRevoked(ctx, token)
		// Недоступный blacklist трактуем как отказ
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: blacklist unavailable: %v", ErrTokenRevoked, err)
		}
		if revoked {
			return uuid.Nil, ErrTokenRevoked
		}
	}

	claims, err := v.jwt.Verify(token)
	if err != nil {
		return uuid.Nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user id", ErrInvalidToken)
	}
	return userID, nil
}

// Revoke отзывает токен до момента его истечения
func (v *Verifier) Revoke(ctx context.Context, token string) error {
	exp, err := v.jwt.Expiry(token)
	if err != nil {
		return err
	}
	if v.blacklist == nil {
		return nil
	}
	return v.blacklist.Revoke(ctx, token, time.Until(exp))
}
