package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapBlacklist map[string]bool

func (m mapBlacklist) Revoke(_ context.Context, token string, _ time.Duration) error {
	m[token] = true
	return nil
}

func (m mapBlacklist) IsRevoked(_ context.Context, token string) (bool, error) {
	return m[token], nil
}

type brokenBlacklist struct{}

func (brokenBlacklist) Revoke(context.Context, string, time.Duration) error {
	return errors.New("down")
}

func (brokenBlacklist) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("down")
}

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	user := uuid.New()

	token, err := m.Generate(user)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.String(), claims.Subject)
	assert.Equal(t, "voxus", claims.Issuer)
	assert.NotEmpty(t, claims.ID)

	exp, err := m.Expiry(token)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	other, err := NewJWTManager("other", time.Hour).Generate(uuid.New())
	require.NoError(t, err)
	_, err = m.Verify(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewJWTManager("secret", -time.Minute).Generate(uuid.New())
	require.NoError(t, err)
	_, err = m.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	m := NewJWTManager("secret", time.Hour)
	bl := mapBlacklist{}
	v := NewVerifier(m, bl)
	user := uuid.New()

	token, err := m.Generate(user)
	require.NoError(t, err)

	got, err := v.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = v.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = v.Verify(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, v.Revoke(ctx, token))
	_, err = v.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestVerifier_BlacklistUnavailable(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate(uuid.New())
	require.NoError(t, err)

	_, err = NewVerifier(m, brokenBlacklist{}).Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRedisBlacklist_UnreachableFailsClosed(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	m := NewJWTManager("secret", time.Hour)
	token, err := m.Generate(uuid.New())
	require.NoError(t, err)

	_, err = NewVerifier(m, NewRedisBlacklist(rdb)).Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=abc", nil)
	token, err := ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer xyz")
	token, err = ExtractToken(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)

	r = httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Basic xyz")
	_, err = ExtractTokenFromHeader(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}
