package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

const (
	// streamBuffer is the per-client event buffer. Events beyond it are
	// dropped for that client only.
	streamBuffer = 256
	// keepAlive is the interval between SSE comment lines on an idle stream.
	keepAlive = 15 * time.Second
)

// events streams bus events as server-sent events. The optional "kinds"
// query parameter is a comma-separated filter, e.g. kinds=phaseChange,tick.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		a.fail(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan timer.Event, streamBuffer)
	push := func(ev timer.Event) error {
		select {
		case ch <- ev:
		default:
		}
		return nil
	}
	subs := make([]timer.Subscription, 0, len(kinds))
	for _, k := range kinds {
		subs = append(subs, a.Bus.Subscribe(k, push))
	}
	defer func() {
		for _, s := range subs {
			a.Bus.Unsubscribe(s)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Start every stream with the current state so clients need no extra
	// request.
	if snap, err := a.Runner.Snapshot(r.Context()); err == nil {
		if err := writeEvent(w, "state", newStateView(snap)); err != nil {
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()
	for {
		select {
		case ev := <-ch:
			if err := writeEvent(w, string(ev.Kind()), newEventView(ev)); err != nil {
				a.Logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// Event views mirror the timer events with durations in seconds, matching
// stateView.
type (
	stateChangeView struct {
		Old          timer.Lifecycle `json:"old_lifecycle"`
		New          timer.Lifecycle `json:"new_lifecycle"`
		Phase        timer.Phase     `json:"phase"`
		Round        int             `json:"round"`
		ElapsedTotal float64         `json:"elapsed_total"`
	}
	phaseChangeView struct {
		Phase         timer.Phase `json:"phase"`
		Label         string      `json:"label"`
		Round         int         `json:"round"`
		TotalRounds   int         `json:"total_rounds"`
		PhaseDuration float64     `json:"phase_duration"`
	}
	warningChangeView struct {
		IsWarning        bool    `json:"is_warning"`
		RemainingInPhase float64 `json:"remaining_in_phase"`
		Round            int     `json:"round"`
	}
	tickView struct {
		Phase            timer.Phase `json:"phase"`
		Round            int         `json:"round"`
		RemainingInPhase float64     `json:"remaining_in_phase"`
		TotalRemaining   float64     `json:"total_remaining"`
		Clock            string      `json:"clock"`
		IsWarning        bool        `json:"is_warning"`
	}
	trainingCompleteView struct {
		TotalRounds  int            `json:"total_rounds"`
		TotalElapsed float64        `json:"total_elapsed"`
		Settings     timer.Settings `json:"settings"`
	}
)

// newEventView returns the wire form of ev. Events without durations are
// sent as they are.
func newEventView(ev timer.Event) any {
	switch e := ev.(type) {
	case timer.StateChanged:
		return stateChangeView{
			Old:          e.Old,
			New:          e.New,
			Phase:        e.Phase,
			Round:        e.Round,
			ElapsedTotal: e.Elapsed.Seconds(),
		}
	case timer.PhaseChanged:
		return phaseChangeView{
			Phase:         e.Phase,
			Label:         timer.PhaseLabel(e.Phase, e.Round),
			Round:         e.Round,
			TotalRounds:   e.TotalRounds,
			PhaseDuration: e.Duration.Seconds(),
		}
	case timer.WarningChanged:
		return warningChangeView{
			IsWarning:        e.IsWarning,
			RemainingInPhase: e.RemainingInPhase.Seconds(),
			Round:            e.Round,
		}
	case timer.Ticked:
		return tickView{
			Phase:            e.Phase,
			Round:            e.Round,
			RemainingInPhase: e.RemainingInPhase.Seconds(),
			TotalRemaining:   e.TotalRemaining.Seconds(),
			Clock:            timer.FormatClock(e.RemainingInPhase),
			IsWarning:        e.IsWarning,
		}
	case timer.TrainingCompleted:
		return trainingCompleteView{
			TotalRounds:  e.TotalRounds,
			TotalElapsed: e.TotalElapsedSeconds(),
			Settings:     e.Settings,
		}
	}
	return ev
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", name, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func parseKinds(raw string) ([]timer.EventKind, error) {
	if raw == "" {
		return timer.AllKinds, nil
	}
	known := make(map[timer.EventKind]bool, len(timer.AllKinds))
	for _, k := range timer.AllKinds {
		known[k] = true
	}
	var out []timer.EventKind
	for _, part := range strings.Split(raw, ",") {
		k := timer.EventKind(strings.TrimSpace(part))
		if !known[k] {
			return nil, fmt.Errorf("%w: unknown event kind %q", errBadRequest, k)
		}
		out = append(out, k)
	}
	return out, nil
}
