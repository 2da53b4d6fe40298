package cache

import (
	"context"
	"testing"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T, ttl time.Duration) (*RedisSnapshots, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)

	snapshots, err := Connect(context.Background(), "redis://"+server.Addr()+"/0", ttl)
	require.NoError(t, err)
	t.Cleanup(func() { snapshots.Close() })
	return snapshots, server
}

func sampleSnapshot() *bracket.Snapshot {
	id := uuid.New()
	finalID := uuid.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &bracket.Snapshot{
		Tournament: bracket.Tournament{
			ID:       id,
			GuildID:  "guild-1",
			Name:     "Weekly Cup",
			Capacity: 8,
			Status:   bracket.TournamentInProgress,
		},
		Participants: []bracket.Participant{
			{TournamentID: id, UserID: "P1", DisplayName: "Player 1", RegisteredAt: now},
		},
		Matches: []bracket.Match{
			{ID: finalID, TournamentID: id, RoundNumber: 3, MatchNumber: 1, Status: bracket.MatchWaiting},
			{
				ID: uuid.New(), TournamentID: id, RoundNumber: 1, MatchNumber: 1,
				Player1ID: utils.Ptr("P1"), Status: bracket.MatchBye,
				NextMatchID: &finalID, NextMatchSlot: utils.Ptr(bracket.SlotPlayer1),
			},
		},
		TakenAt: now,
	}
}

func TestPutGet(t *testing.T) {
	snapshots, server := setupCache(t, time.Hour)
	ctx := context.Background()
	snapshot := sampleSnapshot()

	require.NoError(t, snapshots.Put(ctx, snapshot))
	assert.True(t, server.Exists("bracket:snapshot:"+snapshot.Tournament.ID.String()))

	got, err := snapshots.Get(ctx, snapshot.Tournament.ID)
	require.NoError(t, err)
	assert.Equal(t, snapshot.Tournament.ID, got.Tournament.ID)
	assert.Equal(t, snapshot.Tournament.Status, got.Tournament.Status)
	require.Len(t, got.Matches, 2)
	assert.Equal(t, bracket.SlotPlayer1, *got.Matches[1].NextMatchSlot)
	assert.Equal(t, "P1", *got.Matches[1].Player1ID)
	assert.True(t, snapshot.TakenAt.Equal(got.TakenAt))
}

func TestMissAndExpiry(t *testing.T) {
	snapshots, server := setupCache(t, time.Minute)
	ctx := context.Background()

	_, err := snapshots.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrMiss)

	snapshot := sampleSnapshot()
	require.NoError(t, snapshots.Put(ctx, snapshot))
	assert.Equal(t, time.Minute, server.TTL("bracket:snapshot:"+snapshot.Tournament.ID.String()))

	server.FastForward(2 * time.Minute)
	_, err = snapshots.Get(ctx, snapshot.Tournament.ID)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	_, err := Connect(context.Background(), "redis://"+addr, time.Hour)
	assert.Error(t, err)
}

func TestGetCorruptValue(t *testing.T) {
	snapshots, server := setupCache(t, time.Hour)
	id := uuid.New()
	require.NoError(t, server.Set("bracket:snapshot:"+id.String(), "{not json"))

	_, err := snapshots.Get(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}
