package preset_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

const sparringYAML = `
name: Sparring
sound_scheme: bell
prepare_time: 10
round_time: 120
warning_time: 15
rest_time: 45
round_count: 6
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadFromBytes(t *testing.T) {
	p, err := preset.LoadFromBytes([]byte(sparringYAML))
	require.NoError(t, err)
	assert.Equal(t, "Sparring", p.Name)
	assert.Equal(t, cue.SchemeBell, p.SoundScheme)
	assert.Equal(t, timer.Settings{PrepareTime: 10, RoundTime: 120, WarningTime: 15, RestTime: 45, RoundCount: 6}, p.Settings)
	assert.False(t, p.IsDefault)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	_, err := preset.LoadFromBytes([]byte("name: [unterminated"))
	assert.Error(t, err)

	_, err = preset.LoadFromBytes([]byte("name: Broken\nsound_scheme: bell\nround_time: 10\nwarning_time: 20\nround_count: 1\n"))
	assert.ErrorIs(t, err, preset.ErrInvalidPreset)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b-sparring.yaml", sparringYAML)
	writeFile(t, dir, "a-tabata.yml", "name: Tabata\nsound_scheme: beep\nround_time: 20\nrest_time: 10\nround_count: 8\n")
	writeFile(t, dir, "notes.txt", "not a preset")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	presets, err := preset.LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, "Tabata", presets[0].Name)
	assert.Equal(t, "Sparring", presets[1].Name)
}

func TestLoadDir_Errors(t *testing.T) {
	_, err := preset.LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	writeFile(t, dir, "one.yaml", sparringYAML)
	writeFile(t, dir, "two.yaml", sparringYAML)
	_, err = preset.LoadDir(dir)
	require.ErrorIs(t, err, preset.ErrInvalidPreset)
	assert.Contains(t, err.Error(), "two.yaml")

	bad := t.TempDir()
	writeFile(t, bad, "broken.yaml", "name: Broken\nsound_scheme: gong\nround_time: 10\nround_count: 1\n")
	_, err = preset.LoadDir(bad)
	require.ErrorIs(t, err, preset.ErrInvalidPreset)
	assert.Contains(t, err.Error(), "broken.yaml")
}

func TestLoadDir_BundledContent(t *testing.T) {
	presets, err := preset.LoadDir(filepath.Join("..", "..", "content", "presets"))
	require.NoError(t, err)
	assert.NotEmpty(t, presets)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	writeFile(t, dir, "sparring.yaml", sparringYAML)

	var mu sync.Mutex
	var loads [][]preset.Preset
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- preset.Watch(ctx, dir, 10*time.Millisecond, zaptest.NewLogger(t), func(p []preset.Preset) {
			mu.Lock()
			defer mu.Unlock()
			loads = append(loads, p)
		})
	}()

	// Keep writing until the watcher has registered and reported the change.
	require.Eventually(t, func() bool {
		writeFile(t, dir, "tabata.yaml", "name: Tabata\nsound_scheme: beep\nround_time: 20\nrest_time: 10\nround_count: 8\n")
		mu.Lock()
		defer mu.Unlock()
		return len(loads) > 0 && len(loads[len(loads)-1]) == 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_KeepsPresetsOnBadFile(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	var mu sync.Mutex
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- preset.Watch(ctx, dir, 10*time.Millisecond, zaptest.NewLogger(t), func([]preset.Preset) {
			mu.Lock()
			defer mu.Unlock()
			calls++
		})
	}()

	writeFile(t, dir, "broken.yaml", "name: [")
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Zero(t, calls)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_MissingDir(t *testing.T) {
	err := preset.Watch(context.Background(), filepath.Join(t.TempDir(), "missing"), 0, zaptest.NewLogger(t), func([]preset.Preset) {})
	assert.Error(t, err)
}
