// Package httpapi exposes session control, presets, history and a live event
// stream over local HTTP for a browser UI.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/history"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Controller is the session authority the API drives. trainer.Runner
// satisfies it.
type Controller interface {
	Configure(ctx context.Context, settings timer.Settings) error
	Start(ctx context.Context) error
	Pause(ctx context.Context) (bool, error)
	Resume(ctx context.Context) (bool, error)
	Stop(ctx context.Context) error
	Snapshot(ctx context.Context) (timer.Snapshot, error)
}

// Deps wires the API to the rest of the process.
type Deps struct {
	Runner  Controller
	Bus     *timer.Bus
	Presets preset.Store
	History history.Store
	// Metrics serves /metrics; omitted when nil.
	Metrics http.Handler
	// Health reports storage health for /healthz; nil means always healthy.
	Health func(ctx context.Context) error
	// Applied is called after a successful configure, with the preset used or
	// a preset named "Custom" for ad-hoc settings.
	Applied func(p preset.Preset)
	// ControlRateLimit is the per-client limit on control requests per
	// minute; 0 disables limiting.
	ControlRateLimit int
	Now              func() time.Time
	Logger           *zap.Logger
}

type api struct {
	Deps
}

// NewRouter builds the HTTP handler.
//
// Precondition: Runner, Bus, Presets, History and Logger must be non-nil.
func NewRouter(d Deps) http.Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	a := &api{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", a.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", a.state)
		r.Get("/events", a.events)

		r.Group(func(r chi.Router) {
			if d.ControlRateLimit > 0 {
				r.Use(rateLimit(d.ControlRateLimit, time.Minute))
			}
			r.Post("/configure", a.configure)
			r.Post("/start", a.control(a.Runner.Start))
			r.Post("/pause", a.toggle(a.Runner.Pause))
			r.Post("/resume", a.toggle(a.Runner.Resume))
			r.Post("/stop", a.control(a.Runner.Stop))
		})

		r.Route("/presets", func(r chi.Router) {
			r.Get("/", a.listPresets)
			r.Post("/", a.createPreset)
			r.Put("/{id}", a.updatePreset)
			r.Delete("/{id}", a.deletePreset)
			r.Post("/{id}/duplicate", a.duplicatePreset)
		})

		r.Get("/sessions", a.listSessions)
		r.Delete("/sessions/{id}", a.deleteSession)
		r.Get("/stats", a.stats)
	})
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		}),
	)
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if a.Health != nil {
		if err := a.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stateView is the JSON form of a snapshot, with durations in seconds.
type stateView struct {
	Lifecycle        timer.Lifecycle `json:"lifecycle"`
	Phase            timer.Phase     `json:"phase"`
	Label            string          `json:"label"`
	Round            int             `json:"round"`
	TotalRounds      int             `json:"total_rounds"`
	RemainingInPhase float64         `json:"remaining_in_phase"`
	TotalRemaining   float64         `json:"total_remaining"`
	ElapsedTotal     float64         `json:"elapsed_total"`
	Clock            string          `json:"clock"`
	IsWarning        bool            `json:"is_warning"`
	Settings         timer.Settings  `json:"settings"`
}

func newStateView(s timer.Snapshot) stateView {
	return stateView{
		Lifecycle:        s.Lifecycle,
		Phase:            s.Phase,
		Label:            timer.PhaseLabel(s.Phase, s.Round),
		Round:            s.Round,
		TotalRounds:      s.TotalRounds,
		RemainingInPhase: s.RemainingInPhase.Seconds(),
		TotalRemaining:   s.TotalRemaining.Seconds(),
		ElapsedTotal:     s.ElapsedTotal.Seconds(),
		Clock:            timer.FormatClock(s.RemainingInPhase),
		IsWarning:        s.IsWarning,
		Settings:         s.Settings,
	}
}

func (a *api) state(w http.ResponseWriter, r *http.Request) {
	snap, err := a.Runner.Snapshot(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(snap))
}

// configureRequest selects a stored preset by id or name, or carries ad-hoc
// settings.
type configureRequest struct {
	Preset   string          `json:"preset"`
	Settings *timer.Settings `json:"settings"`
}

func (a *api) configure(w http.ResponseWriter, r *http.Request) {
	var req configureRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, err)
		return
	}

	var p preset.Preset
	switch {
	case req.Preset != "":
		all, err := a.Presets.GetPresets(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		if p, err = preset.Find(all, req.Preset); err != nil {
			a.fail(w, err)
			return
		}
	case req.Settings != nil:
		p = preset.Preset{Name: "Custom", Settings: *req.Settings}
	default:
		a.fail(w, fmt.Errorf("%w: preset or settings required", timer.ErrInvalidSettings))
		return
	}

	if err := a.Runner.Configure(r.Context(), p.Settings); err != nil {
		a.fail(w, err)
		return
	}
	if a.Applied != nil {
		a.Applied(p)
	}
	a.state(w, r)
}

func (a *api) control(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			a.fail(w, err)
			return
		}
		a.state(w, r)
	}
}

// toggle wraps Pause/Resume, which report whether they changed anything.
func (a *api) toggle(fn func(context.Context) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := fn(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		if !changed {
			a.Logger.Debug("control request ignored", zap.String("path", r.URL.Path))
		}
		a.state(w, r)
	}
}

func (a *api) listPresets(w http.ResponseWriter, r *http.Request) {
	all, err := a.Presets.GetPresets(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	if all == nil {
		all = []preset.Preset{}
	}
	writeJSON(w, http.StatusOK, all)
}

func (a *api) createPreset(w http.ResponseWriter, r *http.Request) {
	var p preset.Preset
	if err := decode(w, r, &p); err != nil {
		a.fail(w, err)
		return
	}
	created, err := preset.Create(r.Context(), a.Presets, p)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *api) updatePreset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var p preset.Preset
	if err := decode(w, r, &p); err != nil {
		a.fail(w, err)
		return
	}
	p.ID = id
	updated, err := preset.Update(r.Context(), a.Presets, p)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *api) deletePreset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := preset.Delete(r.Context(), a.Presets, id); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) duplicatePreset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	dup, err := preset.Duplicate(r.Context(), a.Presets, id)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

// sessionView is the JSON form of a history entry, with elapsed in seconds.
type sessionView struct {
	history.Session
	Elapsed float64 `json:"elapsed"`
}

func (a *api) listSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", history.DefaultLimit)
	if err != nil {
		a.fail(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.fail(w, err)
		return
	}
	sessions, err := a.History.ListSessions(r.Context(), limit, offset)
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = sessionView{Session: s, Elapsed: s.Elapsed.Seconds()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.History.DeleteSession(r.Context(), id); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statsView reports durations in seconds.
type statsView struct {
	history.Stats
	TotalTime          float64      `json:"total_time"`
	AverageSessionTime float64      `json:"average_session_time"`
	Weekly             []bucketView `json:"weekly"`
	Daily              []bucketView `json:"daily"`
}

type bucketView struct {
	history.Bucket
	TotalTime float64 `json:"total_time"`
}

func bucketViews(in []history.Bucket) []bucketView {
	out := make([]bucketView, len(in))
	for i, b := range in {
		out[i] = bucketView{Bucket: b, TotalTime: b.TotalTime.Seconds()}
	}
	return out
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", history.DefaultStatsDays)
	if err != nil {
		a.fail(w, err)
		return
	}
	st, err := history.StatsFor(r.Context(), a.History, a.Now(), days)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		Stats:              st,
		TotalTime:          st.TotalTime.Seconds(),
		AverageSessionTime: st.AverageSessionTime.Seconds(),
		Weekly:             bucketViews(st.Weekly),
		Daily:              bucketViews(st.Daily),
	})
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", errBadRequest, raw)
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, key, raw)
	}
	return n, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, timer.ErrInvalidSettings),
		errors.Is(err, preset.ErrInvalidPreset),
		errors.Is(err, cue.ErrUnknownScheme):
		return http.StatusBadRequest
	case errors.Is(err, preset.ErrPresetNotFound),
		errors.Is(err, history.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, timer.ErrInvalidState),
		errors.Is(err, preset.ErrDefaultPreset):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *api) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.Logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
