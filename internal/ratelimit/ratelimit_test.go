package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowPermitsWithinLimit(t *testing.T) {
	l := New()
	ctx := context.Background()

	for i := 0; i < int(Limits[Auth].Limit); i++ {
		allowed, err := l.Allow(ctx, Auth, "user-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestAllowRejectsOverLimit(t *testing.T) {
	l := New()
	ctx := context.Background()

	limit := int(Limits[Auth].Limit)
	for i := 0; i < limit; i++ {
		_, err := l.Allow(ctx, Auth, "user-2")
		require.NoError(t, err)
	}

	allowed, err := l.Allow(ctx, Auth, "user-2")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := New()
	ctx := context.Background()

	limit := int(Limits[Auth].Limit)
	for i := 0; i < limit; i++ {
		_, err := l.Allow(ctx, Auth, "user-a")
		require.NoError(t, err)
	}
	allowed, err := l.Allow(ctx, Auth, "user-a")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = l.Allow(ctx, Auth, "user-b")
	require.NoError(t, err)
	assert.True(t, allowed, "a different key must have its own budget")
}

func TestAllowUnknownCategoryFailsOpen(t *testing.T) {
	l := New()
	allowed, err := l.Allow(context.Background(), Category("unknown"), "key")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestErrBuildsRateLimitedError(t *testing.T) {
	err := Err(Message)
	assert.Contains(t, err.Error(), "message")
}
