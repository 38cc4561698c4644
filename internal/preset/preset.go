// Package preset manages named training settings: the built-in defaults,
// user-created presets and presets loaded from YAML files.
package preset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// MaxNameLength bounds preset names.
const MaxNameLength = 64

// copySuffix is appended to the name of a duplicated preset.
const copySuffix = " (copy)"

// ErrPresetNotFound is returned when a preset lookup yields no results.
var ErrPresetNotFound = errors.New("preset not found")

// ErrDefaultPreset is returned when attempting to delete a built-in preset.
var ErrDefaultPreset = errors.New("default presets cannot be deleted")

// ErrInvalidPreset is returned when a preset fails validation.
var ErrInvalidPreset = errors.New("invalid preset")

// Preset is a named set of session settings.
type Preset struct {
	ID          int64          `yaml:"-" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Settings    timer.Settings `yaml:",inline" json:"settings"`
	SoundScheme cue.Scheme     `yaml:"sound_scheme" json:"sound_scheme"`
	IsDefault   bool           `yaml:"-" json:"is_default"`
	CreatedAt   time.Time      `yaml:"-" json:"created_at"`
	UpdatedAt   time.Time      `yaml:"-" json:"updated_at"`
}

// Validate checks the name, settings and sound scheme, reporting every
// violation at once.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidPreset.
func (p Preset) Validate() error {
	var errs []string
	name := strings.TrimSpace(p.Name)
	if name == "" {
		errs = append(errs, "name must not be empty")
	}
	if len(name) > MaxNameLength {
		errs = append(errs, fmt.Sprintf("name must be at most %d characters, got %d", MaxNameLength, len(name)))
	}
	if err := p.Settings.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := cue.ParseScheme(string(p.SoundScheme)); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPreset, strings.Join(errs, "; "))
	}
	return nil
}

// Store persists presets.
//
// GetPresets returns presets newest first. SavePreset inserts when p.ID is 0
// and updates otherwise; an update never changes IsDefault or CreatedAt and
// returns ErrPresetNotFound for an unknown ID. DeletePreset returns
// ErrPresetNotFound for an unknown ID.
type Store interface {
	GetPresets(ctx context.Context) ([]Preset, error)
	GetPreset(ctx context.Context, id int64) (Preset, error)
	SavePreset(ctx context.Context, p Preset) (Preset, error)
	DeletePreset(ctx context.Context, id int64) error
}

// Defaults returns the built-in presets.
func Defaults() []Preset {
	return []Preset{
		{
			Name:        "Boxing (3x3 min)",
			Settings:    timer.Settings{PrepareTime: 10, RoundTime: 180, WarningTime: 10, RestTime: 60, RoundCount: 3},
			SoundScheme: cue.SchemeBell,
			IsDefault:   true,
		},
		{
			Name:        "HIIT intervals (8x30 s)",
			Settings:    timer.Settings{PrepareTime: 5, RoundTime: 30, WarningTime: 10, RestTime: 10, RoundCount: 8},
			SoundScheme: cue.SchemeBeep,
			IsDefault:   true,
		},
		{
			Name:        "MMA (5x5 min)",
			Settings:    timer.Settings{PrepareTime: 10, RoundTime: 300, WarningTime: 10, RestTime: 90, RoundCount: 5},
			SoundScheme: cue.SchemeBell,
			IsDefault:   true,
		},
		{
			Name:        "Jump rope (10x1 min)",
			Settings:    timer.Settings{PrepareTime: 5, RoundTime: 60, WarningTime: 10, RestTime: 30, RoundCount: 10},
			SoundScheme: cue.SchemeWhistle,
			IsDefault:   true,
		},
	}
}

// Seed inserts the built-in presets unless the store already holds one.
//
// Postcondition: Returns the number of presets inserted.
func Seed(ctx context.Context, s Store) (int, error) {
	existing, err := s.GetPresets(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing presets: %w", err)
	}
	for _, p := range existing {
		if p.IsDefault {
			return 0, nil
		}
	}
	n := 0
	for _, p := range Defaults() {
		if _, err := s.SavePreset(ctx, p); err != nil {
			return n, fmt.Errorf("seeding preset %q: %w", p.Name, err)
		}
		n++
	}
	return n, nil
}

// Create validates p and inserts it as a user preset.
//
// Postcondition: The returned preset has a new ID and IsDefault false.
func Create(ctx context.Context, s Store, p Preset) (Preset, error) {
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	p.ID = 0
	p.IsDefault = false
	p.Name = strings.TrimSpace(p.Name)
	return s.SavePreset(ctx, p)
}

// Update validates p and overwrites the stored preset with the same ID.
//
// Precondition: p.ID must be non-zero.
func Update(ctx context.Context, s Store, p Preset) (Preset, error) {
	if p.ID == 0 {
		return Preset{}, fmt.Errorf("%w: id 0", ErrPresetNotFound)
	}
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	p.Name = strings.TrimSpace(p.Name)
	return s.SavePreset(ctx, p)
}

// Delete removes a user preset.
//
// Postcondition: Returns ErrDefaultPreset for built-in presets and
// ErrPresetNotFound for unknown IDs.
func Delete(ctx context.Context, s Store, id int64) error {
	p, err := s.GetPreset(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return fmt.Errorf("%w: %q", ErrDefaultPreset, p.Name)
	}
	return s.DeletePreset(ctx, id)
}

// Duplicate copies the preset with the given ID into a new user preset named
// after the original with a " (copy)" suffix.
func Duplicate(ctx context.Context, s Store, id int64) (Preset, error) {
	orig, err := s.GetPreset(ctx, id)
	if err != nil {
		return Preset{}, err
	}
	dup := orig
	dup.ID = 0
	dup.IsDefault = false
	dup.Name = orig.Name + copySuffix
	if len(dup.Name) > MaxNameLength {
		dup.Name = orig.Name[:MaxNameLength-len(copySuffix)] + copySuffix
	}
	return s.SavePreset(ctx, dup)
}

// Import stores presets loaded from files. A preset whose name matches an
// existing user preset (case-insensitively) updates it; others are created.
// Built-in presets are never overwritten.
//
// Postcondition: Returns the number of presets created and updated.
func Import(ctx context.Context, s Store, loaded []Preset) (created, updated int, err error) {
	existing, err := s.GetPresets(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing presets: %w", err)
	}
	byName := make(map[string]Preset, len(existing))
	for _, p := range existing {
		byName[strings.ToLower(p.Name)] = p
	}
	for _, p := range loaded {
		cur, ok := byName[strings.ToLower(strings.TrimSpace(p.Name))]
		switch {
		case ok && cur.IsDefault:
			continue
		case ok:
			if cur.Settings == p.Settings && cur.SoundScheme == p.SoundScheme {
				continue
			}
			p.ID = cur.ID
			if _, err := Update(ctx, s, p); err != nil {
				return created, updated, fmt.Errorf("updating preset %q: %w", p.Name, err)
			}
			updated++
		default:
			if _, err := Create(ctx, s, p); err != nil {
				return created, updated, fmt.Errorf("creating preset %q: %w", p.Name, err)
			}
			created++
		}
	}
	return created, updated, nil
}

// Find looks a preset up by numeric ID or, failing that, by case-insensitive
// name.
func Find(presets []Preset, key string) (Preset, error) {
	key = strings.TrimSpace(key)
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		for _, p := range presets {
			if p.ID == id {
				return p, nil
			}
		}
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, key) {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %q", ErrPresetNotFound, key)
}

// SortNewestFirst orders presets by creation time, newest first, breaking ties
// by descending ID.
func SortNewestFirst(presets []Preset) {
	sort.SliceStable(presets, func(i, j int) bool {
		if !presets[i].CreatedAt.Equal(presets[j].CreatedAt) {
			return presets[i].CreatedAt.After(presets[j].CreatedAt)
		}
		return presets[i].ID > presets[j].ID
	})
}
