package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/baler"
	"github.com/poiesic/baler/ai/mock"
	"github.com/poiesic/baler/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useMockServices makes every command open the store with mock AI services.
func useMockServices(t *testing.T) {
	t.Helper()
	original := openBaler
	openBaler = func(ctx context.Context, cfg *config.Config) (*baler.Baler, error) {
		return baler.Open(ctx, cfg, baler.WithProvider(mock.NewMockProvider()))
	}
	t.Cleanup(func() { openBaler = original })
	t.Setenv("BALER_INGEST_INTER_BATCH_DELAY", "0s")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"baler", "--log-level", "error"}, args...))
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const reviews = `{"artist":"Low","album_title":"Double Negative","review_url":"u1","review_text":"Hiss and static. Slow and sad."}
{"artist":"N/A","review_url":"u2","review_text":"Unknown."}
{"artist":"Can","album_title":"Tago Mago","review_url":"u3","review_text":"Motorik groove."}
{"artist":"Low","album_title":"Double Negative","review_url":"u1","review_text":"Revised text."}
`

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"error", false},
		{"verbose", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			app := newApp()
			app.Writer = &bytes.Buffer{}
			err := app.Run([]string{"baler", "--log-level", tt.level, "help"})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid log level")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCleanCommand(t *testing.T) {
	input := writeFile(t, "reviews.jsonl", reviews+"{broken\n")
	output := filepath.Join(t.TempDir(), "clean.jsonl")

	out, err := run(t, "clean", "--output", output, input)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 5 records, dropped 1 malformed, 1 invalid and 1 duplicates, wrote 2")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"u3"`)
	assert.Contains(t, lines[1], "Revised text.")
}

func TestCleanCommand_Errors(t *testing.T) {
	_, err := run(t, "clean", "--output", filepath.Join(t.TempDir(), "out.jsonl"))
	assert.Error(t, err)

	_, err = run(t, "clean", "--output", filepath.Join(t.TempDir(), "out.jsonl"), filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)

	_, err = run(t, "clean", writeFile(t, "in.jsonl", reviews))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output")
}

func TestIngestCountExport(t *testing.T) {
	useMockServices(t)
	db := filepath.Join(t.TempDir(), "db")
	input := writeFile(t, "reviews.jsonl", reviews)

	out, err := run(t, "--db", db, "ingest", "--no-progress", input)
	require.NoError(t, err)
	assert.Contains(t, out, "1 invalid, 1 duplicates")
	assert.Contains(t, out, "Store holds 2 vectors")

	out, err = run(t, "--db", db, "ingest", input)
	require.NoError(t, err)
	assert.Contains(t, out, "No new reviews to process")

	out, err = run(t, "--db", db, "count")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, "--db", db, "inspect", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Collection contains 2 items.")
	assert.Contains(t, out, "Review excerpt:")

	exported := filepath.Join(t.TempDir(), "enriched.jsonl")
	_, err = run(t, "--db", db, "export", "--output", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)

	out, err = run(t, "--db", db, "search", "-k", "1", "Tags: motorik, groove. Review excerpt: Motorik groove.")
	require.NoError(t, err)
	assert.Contains(t, out, `"review_url":"u3"`)

	out, err = run(t, "--db", db, "recommend", "motorik")
	require.NoError(t, err)
	assert.Contains(t, out, `{"chunk":"You asked for motorik."}`)
	assert.Contains(t, out, `"sources":[`)
}

func TestIngestCommand_MissingInput(t *testing.T) {
	useMockServices(t)
	_, err := run(t, "--db", filepath.Join(t.TempDir(), "db"), "ingest", filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input file not found")
}

func TestQueryRequired(t *testing.T) {
	useMockServices(t)
	for _, cmd := range []string{"search", "recommend"} {
		_, err := run(t, "--db", filepath.Join(t.TempDir(), "db"), cmd)
		require.Error(t, err, cmd)
		assert.Contains(t, err.Error(), "query is required")
	}
}

func TestInvalidBackendFlag(t *testing.T) {
	useMockServices(t)
	_, err := run(t, "--backend", "sqlite", "count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestReembedCommand(t *testing.T) {
	useMockServices(t)
	db := filepath.Join(t.TempDir(), "db")
	copyDB := filepath.Join(t.TempDir(), "copy")

	_, err := run(t, "--db", db, "ingest", "--no-progress", writeFile(t, "reviews.jsonl", reviews))
	require.NoError(t, err)

	out, err := run(t, "--db", db, "reembed", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Re-embedded 2 of 2 chunks (0 failed sub-batches)")

	out, err = run(t, "--db", db, "reembed", "--no-progress", "--to-db", copyDB)
	require.NoError(t, err)
	assert.Contains(t, out, "Re-embedded 2 of 2 chunks")

	out, err = run(t, "--db", copyDB, "count")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	_, err = run(t, "--db", db, "reembed", "--to-db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same as the source")
}
