package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestQueue_DropsWhenFull(t *testing.T) {
	var handled []Event
	q := NewQueue("history", 2, func(ev Event) error {
		handled = append(handled, ev)
		return nil
	}, zaptest.NewLogger(t), nil)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(RoundCompleted{Round: i}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))
	assert.Equal(t, []Event{RoundCompleted{Round: 1}, RoundCompleted{Round: 2}}, handled)
}

func TestQueue_RunDeliversAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var mu sync.Mutex
	var handled []EventKind
	q := NewQueue("cue", 0, func(ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, ev.Kind())
		if ev.Kind() == KindTick {
			return errors.New("speaker unplugged")
		}
		if ev.Kind() == KindCountdownTick {
			panic("bad sample")
		}
		return nil
	}, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	_ = q.Enqueue(Ticked{})
	_ = q.Enqueue(CountdownTicked{SecondsRemaining: 1})
	_ = q.Enqueue(TrainingCompleted{})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, []EventKind{KindTick, KindCountdownTick, KindTrainingComplete}, handled)
}

func TestQueue_SubscribesToBus(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := NewBus(logger, nil)
	var handled []Event
	q := NewQueue("render", 8, func(ev Event) error {
		handled = append(handled, ev)
		return nil
	}, logger, nil)
	bus.Subscribe(KindPhaseChange, q.Enqueue)

	bus.Publish(PhaseChanged{Phase: PhaseRound, Round: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))
	assert.Equal(t, []Event{PhaseChanged{Phase: PhaseRound, Round: 1}}, handled)
}
