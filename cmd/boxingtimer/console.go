package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JWTseng/boxing-timer-pro/internal/httpapi"
	"github.com/JWTseng/boxing-timer-pro/internal/preset"
	"github.com/JWTseng/boxing-timer-pro/internal/timer"
)

// errQuit is returned by exec when the user asks to leave.
var errQuit = errors.New("quit")

const keyHelp = `commands:
  <enter>, p    pause or resume
  s             start
  x             stop
  i             status
  l             list presets
  u <preset>    use a preset by number or name
  q             quit
`

// console drives a session from line-based terminal input.
type console struct {
	runner  httpapi.Controller
	presets preset.Store
	apply   func(preset.Preset)
	out     io.Writer
	logger  *zap.Logger
}

// Run reads commands from in until ctx is cancelled, input ends or the user
// quits. Quitting cancels the process through quit.
func (c *console) Run(ctx context.Context, in io.Reader, quit context.CancelFunc) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(c.out, keyHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.exec(ctx, line)
			switch {
			case errors.Is(err, errQuit):
				quit()
				return nil
			case err != nil:
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// exec runs one console command.
func (c *console) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	c.logger.Debug("console command", zap.String("cmd", cmd), zap.String("arg", arg))

	switch strings.ToLower(cmd) {
	case "", "p", "pause", "resume":
		snap, err := c.runner.Snapshot(ctx)
		if err != nil {
			return err
		}
		switch snap.Lifecycle {
		case timer.LifecycleRunning:
			_, err = c.runner.Pause(ctx)
		case timer.LifecyclePaused:
			_, err = c.runner.Resume(ctx)
		default:
			err = c.runner.Start(ctx)
		}
		return err
	case "s", "start":
		return c.runner.Start(ctx)
	case "x", "stop":
		return c.runner.Stop(ctx)
	case "i", "status":
		snap, err := c.runner.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s  %s  %s  total %s\n",
			snap.Lifecycle,
			timer.PhaseLabel(snap.Phase, snap.Round),
			timer.FormatClock(snap.RemainingInPhase),
			timer.FormatClock(snap.TotalRemaining),
		)
		return nil
	case "l", "list":
		all, err := c.presets.GetPresets(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			fmt.Fprintf(c.out, "%3d  %-28s %d x %s, rest %s\n",
				p.ID, p.Name, p.Settings.RoundCount,
				timer.FormatClock(p.Settings.Round()), timer.FormatClock(p.Settings.Rest()))
		}
		return nil
	case "u", "use":
		if arg == "" {
			return fmt.Errorf("%w: use needs a preset number or name", preset.ErrPresetNotFound)
		}
		all, err := c.presets.GetPresets(ctx)
		if err != nil {
			return err
		}
		p, err := preset.Find(all, arg)
		if err != nil {
			return err
		}
		if err := c.runner.Configure(ctx, p.Settings); err != nil {
			return err
		}
		c.apply(p)
		fmt.Fprintf(c.out, "using %s\n", p.Name)
		return nil
	case "h", "help", "?":
		fmt.Fprint(c.out, keyHelp)
		return nil
	case "q", "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q", cmd)
}
