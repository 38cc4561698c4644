package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

func pausedSnapshot() timer.Snapshot {
	settings := timer.Settings{PrepareTime: 10, RoundTime: 180, WarningTime: 10, RestTime: 60, RoundCount: 3}
	return timer.Snapshot{
		Session:          uuid.New(),
		Lifecycle:        timer.LifecyclePaused,
		Phase:            timer.PhaseRound,
		Round:            2,
		TotalRounds:      3,
		RemainingInPhase: 138 * time.Second,
		ElapsedTotal:     292 * time.Second,
		TotalRemaining:   378 * time.Second,
		Settings:         settings,
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	store := NewStore(filepath.Join(t.TempDir(), "state", "session.yaml"), func() time.Time { return now })

	want := pausedSnapshot()
	require.NoError(t, store.Save(want))

	got, err := store.Load(5 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.yaml"), time.Now)
	_, err := store.Load(time.Minute)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_LoadStale(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	store := NewStore(filepath.Join(t.TempDir(), "session.yaml"), func() time.Time { return now })
	require.NoError(t, store.Save(pausedSnapshot()))

	now = now.Add(6 * time.Minute)
	_, err := store.Load(5 * time.Minute)
	assert.ErrorIs(t, err, ErrSnapshotStale)

	_, err = store.Load(0)
	assert.NoError(t, err, "zero max age accepts any snapshot")
}

func TestStore_LoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshot: [unterminated"), 0o600))

	_, err := NewStore(path, time.Now).Load(time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_Clear(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.yaml"), time.Now)
	require.NoError(t, store.Clear(), "clearing a missing file is fine")

	require.NoError(t, store.Save(pausedSnapshot()))
	require.NoError(t, store.Clear())
	_, err := store.Load(0)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStore_SaveReplaces(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "session.yaml"), time.Now)
	first := pausedSnapshot()
	second := pausedSnapshot()
	second.RemainingInPhase = 12 * time.Second

	require.NoError(t, store.Save(first))
	require.NoError(t, store.Save(second))

	got, err := store.Load(0)
	require.NoError(t, err)
	assert.Equal(t, second.Session, got.Session)
	assert.Equal(t, 12*time.Second, got.RemainingInPhase)
}
