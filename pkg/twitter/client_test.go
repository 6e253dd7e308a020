package twitter

import (
	"context"
	"net/http"
	"testing"
	"time"

	twitter "github.com/g8rswimmer/go-twitter/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	c, err := New("test-token")
	require.NoError(t, err)
	assert.NotNil(t, c.api)
}

func TestBearerAuthorizer(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.twitter.com/2/users", nil)
	require.NoError(t, err)

	bearerAuthorizer{token: "test-token"}.Add(req)
	assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
}

func TestRateLimitWait_NotRateLimited(t *testing.T) {
	_, ok := rateLimitWait(errors.New("boom"))
	assert.False(t, ok)

	_, ok = rateLimitWait(&twitter.ErrorResponse{StatusCode: http.StatusNotFound})
	assert.False(t, ok)
}

func TestRateLimitWait_RateLimited(t *testing.T) {
	wait, ok := rateLimitWait(&twitter.ErrorResponse{StatusCode: http.StatusTooManyRequests})
	assert.True(t, ok)
	// No reset advertised: full window plus jitter.
	assert.GreaterOrEqual(t, wait, rateLimitWaitDefault)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sleep(ctx, time.Minute)
	assert.Error(t, err)
}
