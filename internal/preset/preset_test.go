package preset_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// steppingClock returns a now func that advances one second per call so
// creation order is observable.
func steppingClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func userPreset(name string) preset.Preset {
	return preset.Preset{
		Name:        name,
		Settings:    timer.Settings{PrepareTime: 5, RoundTime: 90, WarningTime: 10, RestTime: 30, RoundCount: 4},
		SoundScheme: cue.SchemeWhistle,
	}
}

func TestDefaults_AreValid(t *testing.T) {
	defaults := preset.Defaults()
	require.Len(t, defaults, 4)
	for _, p := range defaults {
		assert.NoError(t, p.Validate(), p.Name)
		assert.True(t, p.IsDefault)
		assert.Equal(t, 10, p.Settings.WarningTime)
	}
	assert.Equal(t, timer.Settings{PrepareTime: 10, RoundTime: 180, WarningTime: 10, RestTime: 60, RoundCount: 3}, defaults[0].Settings)
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	err := preset.Preset{Name: "  ", Settings: timer.Settings{RoundTime: 0, RoundCount: 1}, SoundScheme: "gong"}.Validate()
	require.ErrorIs(t, err, preset.ErrInvalidPreset)
	assert.Contains(t, err.Error(), "name must not be empty")
	assert.Contains(t, err.Error(), "round_time must be >= 1")
	assert.Contains(t, err.Error(), "unknown sound scheme")

	err = userPreset(strings.Repeat("x", preset.MaxNameLength+1)).Validate()
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)
}

func TestSeed_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())

	n, err := preset.Seed(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = preset.Seed(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := store.GetPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestCreate_ForcesUserPreset(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())

	in := userPreset("  Sparring  ")
	in.IsDefault = true
	in.ID = 42
	got, err := preset.Create(ctx, store, in)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.NotEqual(t, int64(42), got.ID)
	assert.False(t, got.IsDefault)
	assert.Equal(t, "Sparring", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = preset.Create(ctx, store, preset.Preset{Name: "bad"})
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)
}

func TestGetPresets_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())
	for _, name := range []string{"one", "two", "three"} {
		_, err := preset.Create(ctx, store, userPreset(name))
		require.NoError(t, err)
	}
	all, err := store.GetPresets(ctx)
	require.NoError(t, err)
	names := make([]string, len(all))
	for i, p := range all {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"three", "two", "one"}, names)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())
	_, err := preset.Seed(ctx, store)
	require.NoError(t, err)
	all, err := store.GetPresets(ctx)
	require.NoError(t, err)
	def := all[0]

	def.Settings.RoundCount = 12
	got, err := preset.Update(ctx, store, def)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Settings.RoundCount)
	assert.True(t, got.IsDefault, "update keeps the default flag")
	assert.Equal(t, def.CreatedAt, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	missing := userPreset("ghost")
	missing.ID = 999
	_, err = preset.Update(ctx, store, missing)
	assert.ErrorIs(t, err, preset.ErrPresetNotFound)

	_, err = preset.Update(ctx, store, userPreset("no id"))
	assert.ErrorIs(t, err, preset.ErrPresetNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())
	_, err := preset.Seed(ctx, store)
	require.NoError(t, err)
	all, err := store.GetPresets(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, preset.Delete(ctx, store, all[0].ID), preset.ErrDefaultPreset)

	mine, err := preset.Create(ctx, store, userPreset("mine"))
	require.NoError(t, err)
	require.NoError(t, preset.Delete(ctx, store, mine.ID))
	_, err = store.GetPreset(ctx, mine.ID)
	assert.ErrorIs(t, err, preset.ErrPresetNotFound)

	assert.ErrorIs(t, preset.Delete(ctx, store, mine.ID), preset.ErrPresetNotFound)
}

func TestDuplicate(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())
	_, err := preset.Seed(ctx, store)
	require.NoError(t, err)
	all, err := store.GetPresets(ctx)
	require.NoError(t, err)
	orig := all[0]

	dup, err := preset.Duplicate(ctx, store, orig.ID)
	require.NoError(t, err)
	assert.NotEqual(t, orig.ID, dup.ID)
	assert.Equal(t, orig.Name+" (copy)", dup.Name)
	assert.Equal(t, orig.Settings, dup.Settings)
	assert.Equal(t, orig.SoundScheme, dup.SoundScheme)
	assert.False(t, dup.IsDefault)

	long, err := preset.Create(ctx, store, userPreset(strings.Repeat("a", preset.MaxNameLength)))
	require.NoError(t, err)
	longDup, err := preset.Duplicate(ctx, store, long.ID)
	require.NoError(t, err)
	assert.Len(t, longDup.Name, preset.MaxNameLength)
	assert.True(t, strings.HasSuffix(longDup.Name, " (copy)"))

	_, err = preset.Duplicate(ctx, store, 12345)
	assert.ErrorIs(t, err, preset.ErrPresetNotFound)
}

func TestImport_CreatesUpdatesAndSkipsDefaults(t *testing.T) {
	ctx := context.Background()
	store := preset.NewMemStore(steppingClock())
	_, err := preset.Seed(ctx, store)
	require.NoError(t, err)
	_, err = preset.Create(ctx, store, userPreset("Sparring"))
	require.NoError(t, err)

	changed := userPreset("sparring")
	changed.Settings.RoundCount = 8
	shadow := userPreset("MMA (5x5 min)")
	loaded := []preset.Preset{changed, shadow, userPreset("Footwork")}

	created, updated, err := preset.Import(ctx, store, loaded)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, updated)

	all, err := store.GetPresets(ctx)
	require.NoError(t, err)
	sparring, err := preset.Find(all, "SPARRING")
	require.NoError(t, err)
	assert.Equal(t, 8, sparring.Settings.RoundCount)
	mma, err := preset.Find(all, "mma (5x5 min)")
	require.NoError(t, err)
	assert.Equal(t, 300, mma.Settings.RoundTime, "defaults are not overwritten")

	created, updated, err = preset.Import(ctx, store, loaded)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Zero(t, updated)
}

func TestFind(t *testing.T) {
	presets := []preset.Preset{{ID: 1, Name: "Boxing"}, {ID: 7, Name: "HIIT"}, {ID: 3, Name: "7"}}

	p, err := preset.Find(presets, "7")
	require.NoError(t, err)
	assert.Equal(t, "HIIT", p.Name, "numeric keys match IDs first")

	p, err = preset.Find(presets, " boxing ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	_, err = preset.Find(presets, "yoga")
	assert.ErrorIs(t, err, preset.ErrPresetNotFound)
}

func TestProperty_Duplicate_PreservesSettings(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		store := preset.NewMemStore(steppingClock())
		round := rapid.IntRange(1, 600).Draw(rt, "round")
		p := preset.Preset{
			Name: rapid.StringMatching(`[A-Za-z][A-Za-z0-9 ]{0,40}`).Draw(rt, "name"),
			Settings: timer.Settings{
				PrepareTime: rapid.IntRange(0, 60).Draw(rt, "prepare"),
				RoundTime:   round,
				WarningTime: rapid.IntRange(0, round).Draw(rt, "warning"),
				RestTime:    rapid.IntRange(0, 300).Draw(rt, "rest"),
				RoundCount:  rapid.IntRange(1, 20).Draw(rt, "count"),
			},
			SoundScheme: rapid.SampledFrom([]cue.Scheme{cue.SchemeBell, cue.SchemeBeep, cue.SchemeWhistle}).Draw(rt, "scheme"),
		}
		orig, err := preset.Create(ctx, store, p)
		require.NoError(rt, err)
		dup, err := preset.Duplicate(ctx, store, orig.ID)
		require.NoError(rt, err)
		assert.Equal(rt, orig.Settings, dup.Settings)
		assert.NoError(rt, dup.Validate())
	})
}
