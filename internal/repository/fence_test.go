package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

func TestRecordFailureMirrorsFenceToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newTestRepo(t)
	repo.SetFenceMirror(client)

	chID := seedChannel(t, repo, "c1", protocol.OpenAI, 10, "https://c1", "k-c1")

	ctx := context.Background()
	until, err := repo.RecordChannelFailureAndMaybeDisable(ctx, chID, 1000, 1, 1, 5)
	require.NoError(t, err)
	require.NotNil(t, until)

	val, err := mr.Get(fenceKey("channel", chID))
	require.NoError(t, err)
	require.Equal(t, "301000", val)
}

func TestClearFailuresRemovesFenceFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newTestRepo(t)
	repo.SetFenceMirror(client)

	chID := seedChannel(t, repo, "c1", protocol.OpenAI, 10, "https://c1", "k-c1")

	ctx := context.Background()
	_, err := repo.RecordChannelFailureAndMaybeDisable(ctx, chID, 1000, 1, 1, 5)
	require.NoError(t, err)
	require.True(t, mr.Exists(fenceKey("channel", chID)))

	require.NoError(t, repo.ClearChannelFailures(ctx, chID))
	require.False(t, mr.Exists(fenceKey("channel", chID)))
}
