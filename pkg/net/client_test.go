package net

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetHTTPClient(t *testing.T) {
	client := GetHTTPClient()
	assert.NotNil(t, client)
	assert.NotZero(t, client.Timeout)
}

func TestGetOAuthClient(t *testing.T) {
	client := GetOAuthClient(context.Background(), "test-token")
	assert.NotNil(t, client)
}
