package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	repo, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedChannel(t *testing.T, repo *SQLiteRepository, name string, protoName protocol.Protocol, priority int64, baseURL, authRef string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	endpointID := uuid.NewString()
	keyID := uuid.NewString()

	_, err := repo.db.ExecContext(ctx, `INSERT INTO channels (id, name, protocol, priority, enabled, auto_disabled_until_ms, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?, 1, 0, 0, 0)`,
		id, name, string(protoName), priority)
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, `INSERT INTO channel_endpoints (id, channel_id, base_url, priority, enabled, auto_disabled_until_ms, created_at_ms, updated_at_ms) VALUES (?, ?, ?, 0, 1, 0, 0, 0)`,
		endpointID, id, baseURL)
	require.NoError(t, err)

	_, err = repo.db.ExecContext(ctx, `INSERT INTO channel_keys (id, channel_id, auth_ref, priority, enabled, auto_disabled_until_ms, created_at_ms, updated_at_ms) VALUES (?, ?, ?, 0, 1, 0, 0, 0)`,
		keyID, id, authRef)
	require.NoError(t, err)

	return id
}

func TestListAvailableUpstreamAttemptsOrdering(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedChannel(t, repo, "low", protocol.OpenAI, 10, "https://low", "k-low")
	seedChannel(t, repo, "high", protocol.OpenAI, 30, "https://high", "k-high")
	seedChannel(t, repo, "mid", protocol.OpenAI, 20, "https://mid", "k-mid")

	count, attempts, err := repo.ListAvailableUpstreamAttempts(ctx, protocol.OpenAI, 1000, true)
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Len(t, attempts, 3)
	require.Equal(t, "https://high", attempts[0].BaseURL)
	require.Equal(t, "https://mid", attempts[1].BaseURL)
	require.Equal(t, "https://low", attempts[2].BaseURL)
}

func TestRecordChannelFailureAndMaybeDisable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	channelID := seedChannel(t, repo, "c1", protocol.OpenAI, 0, "https://c1", "k1")

	disabledUntil, err := repo.RecordChannelFailureAndMaybeDisable(ctx, channelID, 1000, 3, 3, 5)
	require.NoError(t, err)
	require.Nil(t, disabledUntil)

	disabledUntil, err = repo.RecordChannelFailureAndMaybeDisable(ctx, channelID, 2000, 3, 3, 5)
	require.NoError(t, err)
	require.Nil(t, disabledUntil)

	disabledUntil, err = repo.RecordChannelFailureAndMaybeDisable(ctx, channelID, 3000, 3, 3, 5)
	require.NoError(t, err)
	require.NotNil(t, disabledUntil)
	require.Equal(t, int64(3000+5*60_000), *disabledUntil)

	var remaining int
	err = repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_failures WHERE channel_id = ?`, channelID).Scan(&remaining)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
}

func TestRecordFailureWindowExpiry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	channelID := seedChannel(t, repo, "c1", protocol.OpenAI, 0, "https://c1", "k1")

	// Two failures far enough apart that the window (1 minute) has expired
	// between them; the second insert should see only itself in the window.
	_, err := repo.RecordChannelFailureAndMaybeDisable(ctx, channelID, 0, 1, 2, 5)
	require.NoError(t, err)

	disabledUntil, err := repo.RecordChannelFailureAndMaybeDisable(ctx, channelID, 120_000, 1, 2, 5)
	require.NoError(t, err)
	require.Nil(t, disabledUntil, "stale failure outside window must not count toward quarantine")
}

func TestFindPricingForModelSuffixMatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.db.ExecContext(ctx, `INSERT INTO pricing_models (model_id, prompt_price, completion_price, cache_read_price, cache_write_price, request_price) VALUES (?, '0.125', '0.25', NULL, NULL, '0.5')`,
		"vendor/gemini-1.5-pro")
	require.NoError(t, err)

	row, err := repo.FindPricingForModel(ctx, "gemini-1.5-pro")
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "0.125", row.PromptPrice)
}

func TestGetAutoDisableSettingsDefaults(t *testing.T) {
	repo := newTestRepo(t)
	s, err := repo.GetAutoDisableSettings(context.Background())
	require.NoError(t, err)
	require.False(t, s.Enabled)
	require.Equal(t, int64(3), s.WindowMinutes)
	require.Equal(t, int64(5), s.FailureTimes)
	require.Equal(t, int64(30), s.DisableMinutes)
}
