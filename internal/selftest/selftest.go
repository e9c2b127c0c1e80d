// Package selftest steps the actuators through fixed patterns so the wiring
// can be checked by eye.
package selftest

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/coreman2200/funtimes-rovercar/model"
)

type Kind string

const (
	None        Kind = ""
	LampSweep   Kind = "lamp_sweep"
	RGBChannels Kind = "rgb_channels"
	ServoSweep  Kind = "servo_sweep"
	MotorPulse  Kind = "motor_pulse"
)

// Kinds lists every runnable plan.
var Kinds = []Kind{LampSweep, RGBChannels, ServoSweep, MotorPulse}

// ParseKind returns the plan named s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return None, false
}

// Target is the part of the car a plan drives.
type Target interface {
	SetDirLamp(l model.DirLamp, on bool) error
	TurnAllDirLampsOff() error
	SetMainLampColor(c model.Color) error
	TurnMainLampOff() error
	SetServoAngle(j model.Joint, deg int) error
	SetMotor(side model.Side, dir model.Direction, level uint8) error
	StopMotors() error
}

type Plan struct{ Kind Kind }

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner { return &Runner{plan: plan} }
func (r *Runner) Kind() Kind      { return r.plan.Kind }

var (
	sweepAngles = []int{-90, 0, 90, 0}
	rgbOrder    = []model.Color{model.Red, model.Green, model.Blue, model.White}
	pulses      = []struct {
		Side model.Side
		Dir  model.Direction
	}{
		{model.Left, model.Forward},
		{model.Left, model.Backward},
		{model.Right, model.Forward},
		{model.Right, model.Backward},
	}
)

// PulseLevel is the motor speed used by MotorPulse.
const PulseLevel = 64

// Step performs the next action of the plan. It returns false, after putting
// the outputs it used back to rest, once the plan is complete.
func (r *Runner) Step(t Target) (bool, error) {
	i := r.step
	var err error
	switch r.plan.Kind {
	case LampSweep:
		if i >= 2*len(model.DirLamps) {
			return false, t.TurnAllDirLampsOff()
		}
		err = t.SetDirLamp(model.DirLamps[i/2], i%2 == 0)
	case RGBChannels:
		if i >= len(rgbOrder) {
			return false, t.TurnMainLampOff()
		}
		err = t.SetMainLampColor(rgbOrder[i])
	case ServoSweep:
		n := len(sweepAngles)
		if i >= 3*n {
			return false, nil
		}
		err = t.SetServoAngle(model.Joint(i/n), sweepAngles[i%n])
	case MotorPulse:
		if i >= 2*len(pulses) {
			return false, nil
		}
		if i%2 == 1 {
			err = t.StopMotors()
			break
		}
		p := pulses[i/2]
		err = t.SetMotor(p.Side, p.Dir, PulseLevel)
	default:
		return false, errors.Errorf("selftest: unknown plan %q", r.plan.Kind)
	}
	r.step++
	return true, err
}

// rest puts the outputs a plan drives back to idle.
func rest(t Target, kind Kind) error {
	switch kind {
	case LampSweep:
		return t.TurnAllDirLampsOff()
	case RGBChannels:
		return t.TurnMainLampOff()
	case MotorPulse:
		return t.StopMotors()
	}
	return nil
}

// Run steps through the plan with interval between steps. A failing step or
// a cancelled context ends the run, after the outputs of the plan are put
// back to rest.
func Run(ctx context.Context, t Target, kind Kind, interval time.Duration, clk clock.Clock) error {
	if clk == nil {
		clk = clock.New()
	}
	r := NewRunner(Plan{Kind: kind})
	logger := log.With().Str("plan", string(kind)).Logger()
	for n := 0; ; n++ {
		more, err := r.Step(t)
		if err != nil {
			err = errors.Wrapf(err, "selftest: %s step %d", kind, n)
			return multierr.Append(err, errors.Wrapf(rest(t, kind), "selftest: %s rest", kind))
		}
		if !more {
			logger.Info().Int("steps", n).Msg("self test complete")
			return nil
		}
		logger.Debug().Int("step", n).Msg("self test step")
		select {
		case <-ctx.Done():
			logger.Info().Int("step", n).Msg("self test cancelled")
			return multierr.Append(ctx.Err(), errors.Wrapf(rest(t, kind), "selftest: %s rest", kind))
		case <-clk.After(interval):
		}
	}
}
