package timer

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// recorder captures every event published on a bus, in order.
type recorder struct {
	events []Event
}

func record(bus *Bus) *recorder {
	r := &recorder{}
	bus.SubscribeAll(func(ev Event) error {
		r.events = append(r.events, ev)
		return nil
	})
	return r
}

func (r *recorder) reset() { r.events = nil }

func (r *recorder) kinds() []EventKind {
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind())
	}
	return out
}

func ofType[E Event](r *recorder) []E {
	var out []E
	for _, ev := range r.events {
		if typed, ok := ev.(E); ok {
			out = append(out, typed)
		}
	}
	return out
}

func newTestSequencer(t *testing.T, settings Settings) (*Sequencer, *recorder) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := NewBus(logger, nil)
	rec := record(bus)
	seq := NewSequencer(bus, logger, nil)
	if err := seq.Configure(settings); err != nil {
		t.Fatalf("configure: %v", err)
	}
	return seq, rec
}

// advance feeds n ticks of step to the current session.
func advance(seq *Sequencer, step time.Duration, n int) {
	for i := 0; i < n; i++ {
		seq.Tick(seq.Session(), step)
	}
}

func scenarioSettings() Settings {
	return Settings{PrepareTime: 10, RoundTime: 180, WarningTime: 10, RestTime: 60, RoundCount: 3}
}
