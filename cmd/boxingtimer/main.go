// Package main provides the boxing timer binary: a terminal interval timer
// with optional local HTTP control, persistent presets and training history.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/clock"
	"github.com/JWTseng/boxing-timer-pro/internal/config"
	"github.com/JWTseng/boxing-timer-pro/internal/cue"
	"github.com/JWTseng/boxing-timer-pro/internal/drift"
	"github.com/JWTseng/boxing-timer-pro/internal/history"
	"github.com/JWTseng/boxing-timer-pro/internal/httpapi"
	"github.com/JWTseng/boxing-timer-pro/internal/observability"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/render"
	"github.com/JWTseng/boxing-timer-pro/internal/scripting"
	"github.com/JWTseng/boxing-timer-pro/internal/server"
	"github.com/JWTseng/boxing-timer-pro/internal/snapshot"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
	"github.com/JWTseng/boxing-timer-pro/internal/trainer"
)

// httpGrace bounds graceful HTTP shutdown.
const httpGrace = 5 * time.Second

type flags struct {
	configPath string
	preset     string
	autostart  bool
	console    bool
	color      bool
	inPlace    bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	flag.StringVar(&f.preset, "preset", "", "preset to load at startup, by id or name (overrides training.preset)")
	flag.BoolVar(&f.autostart, "start", false, "start the session immediately")
	flag.BoolVar(&f.console, "console", true, "read control commands from stdin")
	flag.BoolVar(&f.color, "color", isTerminal(os.Stdout), "colour the status line")
	flag.BoolVar(&f.inPlace, "in-place", false, "redraw a single status line instead of scrolling")
	flag.Parse()

	if err := run(context.Background(), f); err != nil {
		log.Fatalf("boxingtimer: %v", err)
	}
}

func run(ctx context.Context, f flags) error {
	start := time.Now()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if f.preset != "" {
		cfg.Training.Preset = f.preset
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	st, err := openStores(ctx, cfg, time.Now, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer st.close()

	if err := preparePresets(ctx, st.presets, cfg.Presets.Dir, logger); err != nil {
		return fmt.Errorf("preparing presets: %w", err)
	}
	if pruned, err := history.Cleanup(ctx, st.history, time.Now()); err != nil {
		logger.Warn("history cleanup failed", zap.Error(err))
	} else if pruned > 0 {
		logger.Info("old sessions pruned", zap.Int64("count", pruned))
	}

	// Session core.
	bus := timer.NewBus(logger, metrics)
	seq := timer.NewSequencer(bus, logger, metrics)
	clk := clock.Real()
	source := clock.NewSource(clk, cfg.Timer.TickInterval, logger)
	policy, err := drift.ParsePolicy(cfg.Drift.Policy)
	if err != nil {
		return err
	}
	guard := drift.NewGuard(policy, cfg.Drift.Threshold, logger, metrics)

	opts := trainer.Options{
		AutoResetAfter: cfg.Timer.AutoResetAfter,
		SnapshotMaxAge: cfg.Timer.SnapshotMaxAge,
	}
	if cfg.Timer.SnapshotPath != "" {
		opts.Snapshots = snapshot.NewStore(cfg.Timer.SnapshotPath, time.Now)
	}
	runner := trainer.NewRunner(seq, source, guard, clk, logger, opts)

	// Passive consumers.
	recorder := history.NewRecorder(st.history, time.Now, cfg.Cue.QueueSize, logger, metrics)
	recorder.Attach(bus)

	scheme, err := cue.ParseScheme(cfg.Cue.Scheme)
	if err != nil {
		return err
	}
	players := cue.MultiPlayer{cue.NewTerminalPlayer(os.Stdout, cfg.Cue.TerminalBell)}
	var hooks *scripting.Hooks
	if cfg.Scripting.Dir != "" {
		hooks, err = scripting.Load(cfg.Scripting.Dir, cfg.Scripting.InstructionLimit, cfg.Cue.QueueSize, logger, metrics)
		if err != nil {
			return fmt.Errorf("loading scripts: %w", err)
		}
		defer hooks.Close()
		hooks.Attach(bus)
		players = append(players, hooks)
	}
	dispatcher := cue.NewDispatcher(players, cue.Options{
		Scheme:          scheme,
		EnableCountdown: cfg.Cue.EnableCountdown,
		EnableVibration: cfg.Cue.EnableVibration,
	}, cfg.Cue.QueueSize, logger, metrics)
	dispatcher.Attach(bus)

	renderer := render.New(os.Stdout, render.Options{Color: f.color, InPlace: f.inPlace}, cfg.Cue.QueueSize, logger, metrics)
	renderer.Attach(bus)

	apply := func(p preset.Preset) {
		recorder.SetPreset(p.Name)
		if p.SoundScheme != "" {
			dispatcher.SetScheme(p.SoundScheme)
		}
	}

	initial, err := initialPreset(ctx, cfg.Training, st.presets)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lc := server.NewLifecycle(logger)
	lc.Add("runner", runner)
	lc.Add("recorder", recorder)
	lc.Add("cues", dispatcher)
	lc.Add("render", renderer)
	if hooks != nil {
		lc.Add("scripting", hooks)
	}
	if cfg.Presets.Dir != "" && cfg.Presets.Watch {
		lc.Add("preset-watch", server.ServiceFunc(func(ctx context.Context) error {
			return preset.Watch(ctx, cfg.Presets.Dir, preset.DefaultDebounce, logger, func(loaded []preset.Preset) {
				if err := importPresets(ctx, st.presets, loaded, logger); err != nil {
					logger.Warn("preset reload failed", zap.Error(err))
				}
			})
		}))
	}
	if cfg.HTTP.Addr != "" {
		handler := httpapi.NewRouter(httpapi.Deps{
			Runner:           runner,
			Bus:              bus,
			Presets:          st.presets,
			History:          st.history,
			Metrics:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			Health:           st.health,
			Applied:          apply,
			ControlRateLimit: cfg.HTTP.ControlRateLimit,
			Logger:           logger,
		})
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		lc.Add("http", server.HTTPService(srv, httpGrace, logger))
	}
	lc.Add("bootstrap", server.ServiceFunc(func(ctx context.Context) error {
		return bootstrap(ctx, runner, initial, apply, f.autostart, logger)
	}))
	if f.console {
		c := &console{runner: runner, presets: st.presets, apply: apply, out: os.Stdout, logger: logger}
		lc.Add("console", server.ServiceFunc(func(ctx context.Context) error {
			return c.Run(ctx, os.Stdin, cancel)
		}))
	}

	logger.Info("boxing timer ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("preset", initial.Name),
		zap.Strings("services", lc.Names()),
		zap.Duration("startup", time.Since(start)),
	)
	return lc.Run(ctx)
}

// initialPreset resolves the startup settings: the configured preset when one
// is named, else the training section as ad-hoc settings.
func initialPreset(ctx context.Context, tc config.TrainingConfig, store preset.Store) (preset.Preset, error) {
	if tc.Preset == "" {
		return preset.Preset{
			Name: "Custom",
			Settings: timer.Settings{
				PrepareTime: tc.PrepareTime,
				RoundTime:   tc.RoundTime,
				WarningTime: tc.WarningTime,
				RestTime:    tc.RestTime,
				RoundCount:  tc.RoundCount,
			},
		}, nil
	}
	all, err := store.GetPresets(ctx)
	if err != nil {
		return preset.Preset{}, fmt.Errorf("listing presets: %w", err)
	}
	p, err := preset.Find(all, tc.Preset)
	if err != nil {
		return preset.Preset{}, fmt.Errorf("startup preset: %w", err)
	}
	return p, nil
}

// bootstrap applies the startup preset once the runner is accepting commands.
// A session restored from a snapshot keeps its own settings.
func bootstrap(ctx context.Context, runner httpapi.Controller, p preset.Preset, apply func(preset.Preset), autostart bool, logger *zap.Logger) error {
	snap, err := runner.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Lifecycle == timer.LifecyclePaused {
		logger.Info("restored paused session, press enter to resume",
			zap.Int("round", snap.Round),
			zap.String("phase", string(snap.Phase)),
		)
		return nil
	}
	if err := runner.Configure(ctx, p.Settings); err != nil {
		return fmt.Errorf("configuring %q: %w", p.Name, err)
	}
	apply(p)
	if !autostart {
		return nil
	}
	if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
