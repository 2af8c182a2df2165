package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClientBucketsRefillAndIsolateClients(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	limiter := newClientBuckets(2, time.Minute, func() time.Time { return now })

	require.True(t, limiter.Allow("198.51.100.7"))
	require.True(t, limiter.Allow("198.51.100.7"))
	require.False(t, limiter.Allow("198.51.100.7"))
	require.True(t, limiter.Allow("203.0.113.9"))

	now = now.Add(45 * time.Second)
	require.True(t, limiter.Allow("198.51.100.7"))
	require.False(t, limiter.Allow("198.51.100.7"))
}

func TestClientBucketsDisabled(t *testing.T) {
	require.Nil(t, newClientBuckets(0, time.Minute, nil))
	require.Nil(t, newClientBuckets(5, 0, nil))
}
