package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func modelReply(text string) string {
	resp := generateResponse{Candidates: []candidate{{Content: content{Parts: []part{{Text: text}}}}}}
	data, _ := json.Marshal(resp)
	return string(data)
}

// countingSource hands out tokens "token-1", "token-2", ... on each refresh.
func countingSource(calls *atomic.Int32) SourceFactory {
	return func(context.Context) (oauth2.TokenSource, error) {
		n := calls.Add(1)
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: fmt.Sprintf("token-%d", n)}), nil
	}
}

func fastPolicy(delays *[]time.Duration) retry.Policy {
	var mu sync.Mutex
	return retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Constant:    time.Millisecond,
		OnRetry: func(_ int, d time.Duration, _ error) {
			if delays != nil {
				mu.Lock()
				*delays = append(*delays, d)
				mu.Unlock()
			}
		},
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	cfg := ai.NewConfig(ai.WithGeminiBaseURL(url), ai.WithGeminiModel("test-model"))
	var tokens atomic.Int32
	all := append([]Option{WithSource(countingSource(&tokens)), WithRetryPolicy(fastPolicy(nil))}, opts...)
	client, err := NewClient(context.Background(), cfg, all...)
	require.NoError(t, err)
	return client
}

func TestGenerateTags(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "plain array",
			reply: `["dream-pop", "hazy", "shimmering guitars"]`,
			want:  []string{"dream-pop", "hazy", "shimmering guitars"},
		},
		{
			name:  "fenced array",
			reply: "```json\n[\"krautrock\", \"motorik\"]\n```",
			want:  []string{"krautrock", "motorik"},
		},
		{
			name:  "garbage",
			reply: "I could not think of any tags.",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
				assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
				fmt.Fprint(w, modelReply(tt.reply))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			assert.Equal(t, tt.want, client.GenerateTags(context.Background(), "a slow, shimmering record"))
		})
	}
}

func TestGenerateTagsBacksOffOnRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var delays []time.Duration
	client := newTestClient(t, server.URL, WithRetryPolicy(fastPolicy(&delays)))

	tags := client.GenerateTags(context.Background(), "chunk")
	assert.Empty(t, tags)
	assert.NotNil(t, tags)
	assert.Equal(t, int32(5), hits.Load())
	require.Len(t, delays, 4)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestGenerateTagsRecoversAfterServerError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, modelReply(`["lush"]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	assert.Equal(t, []string{"lush"}, client.GenerateTags(context.Background(), "chunk"))
	assert.Equal(t, int32(3), hits.Load())
}

func TestGenerateTagsRefreshesOnUnauthorized(t *testing.T) {
	var hits atomic.Int32
	var seen []string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, modelReply(`["brittle"]`))
	}))
	defer server.Close()

	var tokens atomic.Int32
	var delays []time.Duration
	cfg := ai.NewConfig(ai.WithGeminiBaseURL(server.URL))
	client, err := NewClient(context.Background(), cfg,
		WithSource(countingSource(&tokens)),
		WithRetryPolicy(fastPolicy(&delays)))
	require.NoError(t, err)

	assert.Equal(t, []string{"brittle"}, client.GenerateTags(context.Background(), "chunk"))
	assert.Equal(t, []string{"Bearer token-1", "Bearer token-2"}, seen)
	assert.Equal(t, int32(2), tokens.Load())
	assert.Empty(t, delays, "a refresh retries without waiting")
}

func TestGenerateTagsStopsOnBadRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	assert.Empty(t, client.GenerateTags(context.Background(), "chunk"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerateTagsWithAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, modelReply(`["warm"]`))
	}))
	defer server.Close()

	cfg := ai.NewConfig(ai.WithGeminiBaseURL(server.URL), ai.WithAPIKey("secret"))
	client, err := NewClient(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"warm"}, client.GenerateTags(context.Background(), "chunk"))
}

func TestNewClientFailsWithoutCredentials(t *testing.T) {
	failing := func(context.Context) (oauth2.TokenSource, error) {
		return nil, fmt.Errorf("no default credentials")
	}
	_, err := NewClient(context.Background(), ai.NewConfig(), WithSource(failing))
	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrNoCredentials)
}

func TestStreamResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", modelReply("Try "))
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "data: %s\n\n", modelReply("Loveless."))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	excerpts := []core.Metadata{
		{core.MetaArtist: "My Bloody Valentine", core.MetaAlbumTitle: "Loveless", core.MetaReviewURL: "u1"},
		{core.MetaArtist: "My Bloody Valentine", core.MetaAlbumTitle: "Loveless", core.MetaReviewURL: "u1"},
	}
	events, err := client.StreamResponse(context.Background(), "noisy guitars", excerpts)
	require.NoError(t, err)

	var got []ai.StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, ai.ChunkEvent("Try "), got[0])
	assert.Equal(t, ai.ChunkEvent("Loveless."), got[1])
	assert.Equal(t, ai.EventSources, got[2].Kind)
	assert.Equal(t, []ai.Source{{AlbumTitle: "Loveless", Artist: "My Bloody Valentine", URL: "u1"}}, got[2].Sources)
}

func TestStreamResponseOpenFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.StreamResponse(context.Background(), "q", nil)
	require.Error(t, err)

	var status *ai.StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusForbidden, status.StatusCode)
}

func TestStreamResponseStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "data: %s\n\n", modelReply(strings.Repeat("x", 10)))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	events, err := client.StreamResponse(ctx, "q", nil)
	require.NoError(t, err)

	<-events
	cancel()
	for range events {
	}
}
