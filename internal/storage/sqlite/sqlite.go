// Package sqlite stores presets and session history in a local SQLite file
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/history"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// busyTimeout is how long a connection waits on a locked database.
const busyTimeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS presets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT    NOT NULL,
	prepare_time INTEGER NOT NULL,
	round_time   INTEGER NOT NULL,
	warning_time INTEGER NOT NULL,
	rest_time    INTEGER NOT NULL,
	round_count  INTEGER NOT NULL,
	sound_scheme TEXT    NOT NULL,
	is_default   INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_presets_created_at ON presets (created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	preset_name      TEXT    NOT NULL DEFAULT '',
	prepare_time     INTEGER NOT NULL,
	round_time       INTEGER NOT NULL,
	warning_time     INTEGER NOT NULL,
	rest_time        INTEGER NOT NULL,
	round_count      INTEGER NOT NULL,
	completed_rounds INTEGER NOT NULL,
	total_rounds     INTEGER NOT NULL,
	elapsed_ms       INTEGER NOT NULL,
	completed        INTEGER NOT NULL,
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions (ended_at);
`

const presetColumns = `id, name, prepare_time, round_time, warning_time, rest_time, round_count,
	sound_scheme, is_default, created_at, updated_at`

const sessionColumns = `id, preset_name, prepare_time, round_time, warning_time, rest_time, round_count,
	completed_rounds, total_rounds, elapsed_ms, completed, started_at, ended_at`

// Store implements preset.Store and history.Store on one database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
//
// Precondition: path must be a writable file location; now must be non-nil.
// Postcondition: Returns a ready Store or a non-nil error.
func Open(ctx context.Context, path string, now func() time.Time) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &Store{db: db, now: now}, nil
}

// Health checks that the database answers within timeout.
func (s *Store) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetPresets returns every preset, newest first.
func (s *Store) GetPresets(ctx context.Context) ([]preset.Preset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+presetColumns+` FROM presets ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying presets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []preset.Preset
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating presets: %w", err)
	}
	return out, nil
}

// GetPreset returns the preset with the given ID.
func (s *Store) GetPreset(ctx context.Context, id int64) (preset.Preset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presetColumns+` FROM presets WHERE id = ?`, id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return preset.Preset{}, fmt.Errorf("%w: id %d", preset.ErrPresetNotFound, id)
	}
	return p, err
}

// SavePreset inserts p when p.ID is 0 and updates it otherwise.
func (s *Store) SavePreset(ctx context.Context, p preset.Preset) (preset.Preset, error) {
	now := s.now().UTC().UnixMilli()
	st := p.Settings
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO presets (name, prepare_time, round_time, warning_time, rest_time, round_count,
				sound_scheme, is_default, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
			string(p.SoundScheme), p.IsDefault, now, now,
		)
		if err != nil {
			return preset.Preset{}, fmt.Errorf("inserting preset: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return preset.Preset{}, fmt.Errorf("reading preset id: %w", err)
		}
		return s.GetPreset(ctx, id)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE presets SET name = ?, prepare_time = ?, round_time = ?, warning_time = ?, rest_time = ?,
			round_count = ?, sound_scheme = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
		string(p.SoundScheme), now, p.ID,
	)
	if err != nil {
		return preset.Preset{}, fmt.Errorf("updating preset: %w", err)
	}
	if err := expectOne(res, preset.ErrPresetNotFound, p.ID); err != nil {
		return preset.Preset{}, err
	}
	return s.GetPreset(ctx, p.ID)
}

// DeletePreset removes the preset with the given ID.
func (s *Store) DeletePreset(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting preset: %w", err)
	}
	return expectOne(res, preset.ErrPresetNotFound, id)
}

// RecordSession stores a finished session.
func (s *Store) RecordSession(ctx context.Context, sess history.Session) (history.Session, error) {
	st := sess.Settings
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (preset_name, prepare_time, round_time, warning_time, rest_time, round_count,
			completed_rounds, total_rounds, elapsed_ms, completed, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.PresetName, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
		sess.CompletedRounds, sess.TotalRounds, sess.Elapsed.Milliseconds(), sess.Completed,
		sess.StartedAt.UTC().UnixMilli(), sess.EndedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return history.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return history.Session{}, fmt.Errorf("reading session id: %w", err)
	}
	sess.ID = id
	return sess, nil
}

// ListSessions returns one page of sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]history.Session, error) {
	limit, offset = history.Page(limit, offset)
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY ended_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

// SessionsSince returns sessions that ended after since, newest first.
func (s *Store) SessionsSince(ctx context.Context, since time.Time) ([]history.Session, error) {
	return s.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at > ? ORDER BY ended_at DESC, id DESC`,
		since.UTC().UnixMilli())
}

// DeleteSession removes one session.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return expectOne(res, history.ErrSessionNotFound, id)
}

// CountSessions returns the number of stored sessions.
func (s *Store) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// PruneBefore deletes sessions that ended before the cutoff.
func (s *Store) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE ended_at < ?`, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading pruned count: %w", err)
	}
	return n, nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]history.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []history.Session{}
	for rows.Next() {
		var (
			sess               history.Session
			st                 timer.Settings
			elapsedMS          int64
			startedMS, endedMS int64
		)
		if err := rows.Scan(&sess.ID, &sess.PresetName,
			&st.PrepareTime, &st.RoundTime, &st.WarningTime, &st.RestTime, &st.RoundCount,
			&sess.CompletedRounds, &sess.TotalRounds, &elapsedMS, &sess.Completed,
			&startedMS, &endedMS,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sess.Settings = st
		sess.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		sess.StartedAt = time.UnixMilli(startedMS).UTC()
		sess.EndedAt = time.UnixMilli(endedMS).UTC()
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPreset(row scanner) (preset.Preset, error) {
	var (
		p                  preset.Preset
		scheme             string
		createdMS, updated int64
	)
	err := row.Scan(&p.ID, &p.Name,
		&p.Settings.PrepareTime, &p.Settings.RoundTime, &p.Settings.WarningTime,
		&p.Settings.RestTime, &p.Settings.RoundCount,
		&scheme, &p.IsDefault, &createdMS, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return preset.Preset{}, err
		}
		return preset.Preset{}, fmt.Errorf("scanning preset: %w", err)
	}
	p.SoundScheme = cue.Scheme(scheme)
	p.CreatedAt = time.UnixMilli(createdMS).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func expectOne(res sql.Result, notFound error, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", notFound, id)
	}
	return nil
}
