// Package history records finished training sessions and summarises them.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// Default paging and retention values.
const (
	DefaultLimit     = 50
	DefaultStatsDays = 30
	RetainFor        = 180 * 24 * time.Hour
	RetainAtLeast    = 100
)

// ErrSessionNotFound is returned when a session lookup yields no results.
var ErrSessionNotFound = errors.New("session not found")

// Session is one recorded training session.
type Session struct {
	ID              int64          `json:"id"`
	PresetName      string         `json:"preset_name,omitempty"`
	Settings        timer.Settings `json:"settings"`
	CompletedRounds int            `json:"completed_rounds"`
	TotalRounds     int            `json:"total_rounds"`
	Elapsed         time.Duration  `json:"elapsed"`
	Completed       bool           `json:"completed"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         time.Time      `json:"ended_at"`
}

// Store persists sessions.
//
// ListSessions and SessionsSince return sessions newest first by EndedAt.
type Store interface {
	RecordSession(ctx context.Context, s Session) (Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)
	SessionsSince(ctx context.Context, since time.Time) ([]Session, error)
	DeleteSession(ctx context.Context, id int64) error
	CountSessions(ctx context.Context) (int, error)
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// Page normalises list parameters: a non-positive limit becomes DefaultLimit
// and a negative offset becomes 0.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Cleanup deletes sessions older than RetainFor once more than RetainAtLeast
// sessions are stored.
//
// Postcondition: Returns the number of sessions deleted.
func Cleanup(ctx context.Context, s Store, now time.Time) (int64, error) {
	n, err := s.CountSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	if n <= RetainAtLeast {
		return 0, nil
	}
	deleted, err := s.PruneBefore(ctx, now.Add(-RetainFor))
	if err != nil {
		return 0, fmt.Errorf("pruning sessions: %w", err)
	}
	return deleted, nil
}

// Bucket aggregates the sessions in one day or week.
type Bucket struct {
	Start       time.Time     `json:"start"`
	Sessions    int           `json:"sessions"`
	TotalTime   time.Duration `json:"total_time"`
	TotalRounds int           `json:"total_rounds"`
}

// Stats summarises the sessions of a trailing window.
type Stats struct {
	Days                    int           `json:"days"`
	TotalSessions           int           `json:"total_sessions"`
	CompletedSessions       int           `json:"completed_sessions"`
	TotalTime               time.Duration `json:"total_time"`
	TotalRounds             int           `json:"total_rounds"`
	AverageSessionTime      time.Duration `json:"average_session_time"`
	AverageRoundsPerSession float64       `json:"average_rounds_per_session"`
	// Weekly holds Monday-start weeks that had sessions, newest first.
	Weekly []Bucket `json:"weekly"`
	// Daily holds one bucket per day of the window, oldest first.
	Daily []Bucket `json:"daily"`
}

// Summarize computes Stats for sessions that ended within days of now.
// Days are calendar days in now's location.
//
// Precondition: days >= 1.
func Summarize(sessions []Session, now time.Time, days int) Stats {
	st := Stats{Days: days}
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	today := startOfDay(now)

	daily := make([]Bucket, days)
	dayIndex := make(map[string]int, days)
	for i := range daily {
		d := today.AddDate(0, 0, i-(days-1))
		daily[i].Start = d
		dayIndex[dayKey(d)] = i
	}

	weekly := make(map[string]*Bucket)
	for _, s := range sessions {
		if !s.EndedAt.After(since) {
			continue
		}
		st.TotalSessions++
		if s.Completed {
			st.CompletedSessions++
		}
		st.TotalTime += s.Elapsed
		st.TotalRounds += s.CompletedRounds

		ended := s.EndedAt.In(now.Location())
		wk := weekStart(ended)
		b, ok := weekly[dayKey(wk)]
		if !ok {
			b = &Bucket{Start: wk}
			weekly[dayKey(wk)] = b
		}
		add(b, s)

		if i, ok := dayIndex[dayKey(ended)]; ok {
			add(&daily[i], s)
		}
	}

	if st.TotalSessions > 0 {
		st.AverageSessionTime = st.TotalTime / time.Duration(st.TotalSessions)
		st.AverageRoundsPerSession = float64(st.TotalRounds) / float64(st.TotalSessions)
	}
	st.Weekly = make([]Bucket, 0, len(weekly))
	for _, b := range weekly {
		st.Weekly = append(st.Weekly, *b)
	}
	sort.Slice(st.Weekly, func(i, j int) bool { return st.Weekly[i].Start.After(st.Weekly[j].Start) })
	st.Daily = daily
	return st
}

// StatsFor loads the trailing window from s and summarises it.
func StatsFor(ctx context.Context, s Store, now time.Time, days int) (Stats, error) {
	if days < 1 {
		days = DefaultStatsDays
	}
	sessions, err := s.SessionsSince(ctx, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		return Stats{}, fmt.Errorf("loading sessions: %w", err)
	}
	return Summarize(sessions, now, days), nil
}

func add(b *Bucket, s Session) {
	b.Sessions++
	b.TotalTime += s.Elapsed
	b.TotalRounds += s.CompletedRounds
}

func dayKey(t time.Time) string { return t.Format(time.DateOnly) }

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// weekStart returns the Monday starting t's week.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

