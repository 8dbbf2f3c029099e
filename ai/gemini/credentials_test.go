package gemini

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/baler/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCredentialsReuseWithinLifespan(t *testing.T) {
	var calls atomic.Int32
	creds := NewCredentials(countingSource(&calls), 45*time.Minute)
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	creds.now = func() time.Time { return clock }

	tok, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	clock = clock.Add(44 * time.Minute)
	tok, err = creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", tok)

	clock = clock.Add(2 * time.Minute)
	tok, err = creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok)
	assert.Equal(t, clock, creds.Issued())
}

func TestCredentialsForcedRefresh(t *testing.T) {
	var calls atomic.Int32
	creds := NewCredentials(countingSource(&calls), time.Hour)

	first, err := creds.Token(context.Background())
	require.NoError(t, err)
	second, err := creds.Refresh(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	cached, err := creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, cached)
}

func TestCredentialsRefreshCoalesces(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	factory := func(context.Context) (oauth2.TokenSource, error) {
		calls.Add(1)
		once.Do(func() { close(entered) })
		<-release
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "shared"}), nil
	}
	creds := NewCredentials(factory, time.Hour)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := creds.Refresh(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, tok := range results {
		assert.Equal(t, "shared", tok)
	}
}

func TestCredentialsEmptyToken(t *testing.T) {
	creds := NewCredentials(StaticSource(""), time.Hour)
	_, err := creds.Token(context.Background())
	assert.ErrorIs(t, err, ai.ErrNoCredentials)
}

func TestAPIKeyAuthorize(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://example.invalid", nil)
	require.NoError(t, err)

	require.NoError(t, apiKey("k").authorize(context.Background(), req))
	assert.Equal(t, "k", req.Header.Get("x-goog-api-key"))
	assert.NoError(t, apiKey("k").refresh(context.Background()))
	assert.Error(t, apiKey("").authorize(context.Background(), req))
}
