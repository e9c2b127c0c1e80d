// Package marquee runs the directional lamp flash pattern in the background.
package marquee

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/coreman2200/funtimes-rovercar/model"
)

// Step switches one lamp on or off.
type Step struct {
	Lamp model.DirLamp
	On   bool
}

// Pattern sweeps the lamps on left to right, off left to right, then the same
// right to left.
var Pattern = []Step{
	{model.LeftLamp, true},
	{model.ForwardLamp, true},
	{model.RightLamp, true},
	{model.LeftLamp, false},
	{model.ForwardLamp, false},
	{model.RightLamp, false},
	{model.RightLamp, true},
	{model.ForwardLamp, true},
	{model.LeftLamp, true},
	{model.RightLamp, false},
	{model.ForwardLamp, false},
	{model.LeftLamp, false},
}

// ErrRunning is returned by Start on a looper that has not been stopped.
var ErrRunning = errors.New("marquee: already running")

// Looper cycles through a list of steps until stopped. The stop request is
// observed after the delay following each step, never in the middle of one,
// and is followed by a single cleanup call.
type Looper struct {
	clk      clock.Clock
	steps    []Step
	interval time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
	err     error
}

// New returns a stopped Looper. A nil clk uses the wall clock.
func New(steps []Step, interval time.Duration, clk clock.Clock) *Looper {
	if clk == nil {
		clk = clock.New()
	}
	if interval < 0 {
		interval = 0
	}
	return &Looper{clk: clk, steps: steps, interval: interval}
}

// Interval returns the delay after each step.
func (l *Looper) Interval() time.Duration {
	return l.interval
}

// Running reports whether the loop goroutine is active.
func (l *Looper) Running() bool {
	return l.running.Load()
}

// Start launches the loop. apply is called for every step; cleanup runs once
// when the loop ends, whether stopped or failed.
func (l *Looper) Start(apply func(Step) error, cleanup func() error) error {
	if len(l.steps) == 0 {
		return errors.New("marquee: no steps")
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	l.err = nil
	l.wg.Add(1)
	go l.refresh(apply, cleanup)
	return nil
}

func (l *Looper) refresh(apply func(Step) error, cleanup func() error) {
	defer l.wg.Done()
	defer l.running.Store(false)
	defer func() {
		if err := cleanup(); err != nil {
			l.err = multierr.Append(l.err, errors.Wrap(err, "marquee: cleanup"))
		}
	}()

	for i := 0; ; i = (i + 1) % len(l.steps) {
		s := l.steps[i]
		if err := apply(s); err != nil {
			log.Warn().Err(err).Stringer("lamp", s.Lamp).Bool("on", s.On).Msg("marquee step failed")
			l.err = errors.Wrapf(err, "marquee: step %d", i)
			return
		}
		l.clk.Sleep(l.interval)
		if !l.running.Load() {
			return
		}
	}
}

// Stop requests the loop to end and waits for it, including the cleanup call.
// It returns the step or cleanup error, if any. Stopping a stopped Looper
// returns nil.
func (l *Looper) Stop() error {
	l.running.Store(false)
	l.wg.Wait()
	err := l.err
	l.err = nil
	return err
}
