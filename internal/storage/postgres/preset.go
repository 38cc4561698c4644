package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
)

const presetColumns = `id, name, prepare_time, round_time, warning_time, rest_time, round_count,
	sound_scheme, is_default, created_at, updated_at`

// PresetRepository implements preset.Store.
type PresetRepository struct {
	db *pgxpool.Pool
}

// NewPresetRepository creates a PresetRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPresetRepository(db *pgxpool.Pool) *PresetRepository {
	return &PresetRepository{db: db}
}

// GetPresets returns every preset, newest first.
func (r *PresetRepository) GetPresets(ctx context.Context) ([]preset.Preset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+presetColumns+` FROM presets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer rows.Close()

	var out []preset.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning preset: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presets: %w", err)
	}
	return out, nil
}

// GetPreset retrieves a preset by ID.
//
// Postcondition: Returns ErrPresetNotFound if no row matches.
func (r *PresetRepository) GetPreset(ctx context.Context, id int64) (preset.Preset, error) {
	p, err := scanPreset(r.db.QueryRow(ctx,
		`SELECT `+presetColumns+` FROM presets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return preset.Preset{}, fmt.Errorf("%w: id %d", preset.ErrPresetNotFound, id)
		}
		return preset.Preset{}, fmt.Errorf("querying preset: %w", err)
	}
	return p, nil
}

// SavePreset inserts p when p.ID is 0 and updates it otherwise.
//
// Postcondition: Returns the stored row. An update leaves is_default and
// created_at untouched.
func (r *PresetRepository) SavePreset(ctx context.Context, p preset.Preset) (preset.Preset, error) {
	st := p.Settings
	if p.ID == 0 {
		out, err := scanPreset(r.db.QueryRow(ctx,
			`INSERT INTO presets (name, prepare_time, round_time, warning_time, rest_time, round_count,
				sound_scheme, is_default)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+presetColumns,
			p.Name, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
			string(p.SoundScheme), p.IsDefault,
		))
		if err != nil {
			return preset.Preset{}, fmt.Errorf("inserting preset: %w", err)
		}
		return out, nil
	}

	out, err := scanPreset(r.db.QueryRow(ctx,
		`UPDATE presets
		 SET name = $1, prepare_time = $2, round_time = $3, warning_time = $4, rest_time = $5,
		     round_count = $6, sound_scheme = $7, updated_at = NOW()
		 WHERE id = $8
		 RETURNING `+presetColumns,
		p.Name, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
		string(p.SoundScheme), p.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return preset.Preset{}, fmt.Errorf("%w: id %d", preset.ErrPresetNotFound, p.ID)
		}
		return preset.Preset{}, fmt.Errorf("updating preset: %w", err)
	}
	return out, nil
}

// DeletePreset removes a preset by ID.
//
// Postcondition: Returns ErrPresetNotFound if no row matched.
func (r *PresetRepository) DeletePreset(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM presets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", preset.ErrPresetNotFound, id)
	}
	return nil
}

func scanPreset(row pgx.Row) (preset.Preset, error) {
	var (
		p      preset.Preset
		scheme string
	)
	err := row.Scan(&p.ID, &p.Name,
		&p.Settings.PrepareTime, &p.Settings.RoundTime, &p.Settings.WarningTime,
		&p.Settings.RestTime, &p.Settings.RoundCount,
		&scheme, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return preset.Preset{}, err
	}
	p.SoundScheme = cue.Scheme(scheme)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
