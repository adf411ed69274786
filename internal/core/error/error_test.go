package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, StatusOf(WrapUpstream(errors.New("boom"))))
	assert.Equal(t, http.StatusNotFound, StatusOf(fmt.Errorf("load: %w", ErrSessionNotFound)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis(nil))

	notFound := WrapRedis(redis.Nil)
	assert.Equal(t, http.StatusNotFound, StatusOf(notFound))
	assert.True(t, errors.Is(notFound, redis.Nil))

	other := WrapRedis(errors.New("connection refused"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(other))
	assert.Contains(t, other.Error(), RedisErrorMessage)
}

func TestErrSessionNotFoundMatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("get session abc: %w", ErrSessionNotFound)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.False(t, errors.Is(WrapUpstream(errors.New("x")), ErrSessionNotFound))
}
