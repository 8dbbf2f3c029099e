package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/retry"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPayloadRoundTrip(t *testing.T) {
	v := &core.StoredVector{
		Id:       core.ID(12),
		Document: "Tags: noise. Review excerpt: Loud.",
		Metadata: core.Metadata{
			core.MetaArtist:    "Lightning Bolt",
			core.MetaReviewURL: "https://example.com/r",
			core.MetaTags:      `["noise"]`,
		},
	}

	payload := toPayload(v)
	assert.Len(t, payload, 4)
	assert.Equal(t, v.Document, payload[documentKey].GetStringValue())

	meta, document := fromPayload(payload)
	assert.Equal(t, v.Metadata, meta)
	assert.Equal(t, v.Document, document)
}

func TestFromPayloadSkipsNonStrings(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"artist": stringValue("Low"),
		"plays":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: 3}},
	}
	meta, document := fromPayload(payload)
	assert.Equal(t, core.Metadata{"artist": "Low"}, meta)
	assert.Empty(t, document)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want retry.Action
	}{
		{status.Error(codes.Unavailable, "down"), retry.Backoff},
		{status.Error(codes.ResourceExhausted, "busy"), retry.Backoff},
		{status.Error(codes.InvalidArgument, "bad"), retry.Stop},
		{status.Error(codes.NotFound, "missing"), retry.Stop},
		{fmt.Errorf("wrapped: %w", context.Canceled), retry.Stop},
		{errors.New("plain"), retry.Stop},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err), tt.err.Error())
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Collection = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.VectorSize = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}

// closedPort returns a local port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNewIndex_DoesNotDialServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = closedPort(t)

	start := time.Now()
	idx, err := NewIndex(context.Background(), cfg)
	require.NoError(t, err)
	defer idx.Close()
	assert.Less(t, time.Since(start), time.Second)
}

func TestPing_ServerDown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = closedPort(t)
	cfg.Retry.BaseDelay = time.Millisecond

	idx, err := NewIndex(context.Background(), cfg)
	require.NoError(t, err)
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, idx.Ping(ctx))

	_, err = idx.Count(ctx)
	assert.Error(t, err)
	assert.False(t, idx.(*Index).ready)
}
