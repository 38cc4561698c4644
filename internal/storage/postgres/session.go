package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JWTseng/boxing-timer-pro/internal/history"
)

const sessionColumns = `id, preset_name, prepare_time, round_time, warning_time, rest_time, round_count,
	completed_rounds, total_rounds, elapsed_ms, completed, started_at, ended_at`

// SessionRepository implements history.Store.
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a SessionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// RecordSession inserts a finished session.
//
// Postcondition: Returns s with ID set.
func (r *SessionRepository) RecordSession(ctx context.Context, s history.Session) (history.Session, error) {
	st := s.Settings
	err := r.db.QueryRow(ctx,
		`INSERT INTO sessions (preset_name, prepare_time, round_time, warning_time, rest_time, round_count,
			completed_rounds, total_rounds, elapsed_ms, completed, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		s.PresetName, st.PrepareTime, st.RoundTime, st.WarningTime, st.RestTime, st.RoundCount,
		s.CompletedRounds, s.TotalRounds, s.Elapsed.Milliseconds(), s.Completed,
		s.StartedAt.UTC(), s.EndedAt.UTC(),
	).Scan(&s.ID)
	if err != nil {
		return history.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return s, nil
}

// ListSessions returns one page of sessions, newest first.
func (r *SessionRepository) ListSessions(ctx context.Context, limit, offset int) ([]history.Session, error) {
	limit, offset = history.Page(limit, offset)
	return r.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY ended_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
}

// SessionsSince returns sessions that ended after since, newest first.
func (r *SessionRepository) SessionsSince(ctx context.Context, since time.Time) ([]history.Session, error) {
	return r.query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE ended_at > $1 ORDER BY ended_at DESC, id DESC`,
		since.UTC())
}

// DeleteSession removes one session.
//
// Postcondition: Returns ErrSessionNotFound if no row matched.
func (r *SessionRepository) DeleteSession(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", history.ErrSessionNotFound, id)
	}
	return nil
}

// CountSessions returns the number of stored sessions.
func (r *SessionRepository) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// PruneBefore deletes sessions that ended before the cutoff.
func (r *SessionRepository) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE ended_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) query(ctx context.Context, sql string, args ...any) ([]history.Session, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Session, error) {
		var (
			s         history.Session
			elapsedMS int64
		)
		st := &s.Settings
		err := row.Scan(&s.ID, &s.PresetName,
			&st.PrepareTime, &st.RoundTime, &st.WarningTime, &st.RestTime, &st.RoundCount,
			&s.CompletedRounds, &s.TotalRounds, &elapsedMS, &s.Completed,
			&s.StartedAt, &s.EndedAt,
		)
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		s.StartedAt = s.StartedAt.UTC()
		s.EndedAt = s.EndedAt.UTC()
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sessions: %w", err)
	}
	return out, nil
}
