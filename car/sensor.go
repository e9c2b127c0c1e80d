package car

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"

	"github.com/coreman2200/funtimes-rovercar/model"
)

// ErrNoSensor is returned when the pin a reading needs is not wired.
var ErrNoSensor = errors.New("car: sensor not wired")

// PulseReader measures how long a pin stays at level, giving up after
// timeout. A timeout is reported as a zero duration and no error.
type PulseReader interface {
	PulseIn(level gpio.Level, timeout time.Duration) (time.Duration, error)
}

// AnalogPin reads one analog input. Raw is on a 10-bit scale.
type AnalogPin interface {
	Read() (analog.Sample, error)
}

// Pins are the sensor inputs and outputs. Any of them may be nil.
type Pins struct {
	Trigger     gpio.PinOut
	Echo        PulseReader
	IREmitter   gpio.PinOut
	FrontIR     AnalogPin
	BottomLeft  AnalogPin
	BottomRight AnalogPin
}

// EchoTimeout is how long DistanceCm waits for the echo to end.
func (c *Car) EchoTimeout() time.Duration {
	s := c.cfg.Sensors
	return time.Duration(s.MaxDistanceCm*s.UsPerCm+100) * time.Microsecond
}

// DistanceCm fires the ultrasonic ranger and returns the distance to the
// nearest echo in centimeters. No echo within range reads as 0.
func (c *Car) DistanceCm() (int, error) {
	p := c.pins
	if p.Trigger == nil || p.Echo == nil {
		return 0, ErrNoSensor
	}
	if err := p.Trigger.Out(gpio.Low); err != nil {
		return 0, errors.Wrap(err, "car: ultrasonic trigger")
	}
	c.clk.Sleep(2 * time.Microsecond)
	if err := p.Trigger.Out(gpio.High); err != nil {
		return 0, errors.Wrap(err, "car: ultrasonic trigger")
	}
	c.clk.Sleep(10 * time.Microsecond)
	if err := p.Trigger.Out(gpio.Low); err != nil {
		return 0, errors.Wrap(err, "car: ultrasonic trigger")
	}
	d, err := p.Echo.PulseIn(gpio.High, c.EchoTimeout())
	if err != nil {
		return 0, errors.Wrap(err, "car: ultrasonic echo")
	}
	us := float64(d) / float64(time.Microsecond)
	cm := int(math.Round(us / float64(c.cfg.Sensors.UsPerCm)))
	c.log.Debug().Dur("echo", d).Int("cm", cm).Msg("distance")
	return cm, nil
}

// ObstacleDetected pulses the IR emitter and reports whether the front
// receiver sees a reflection. The emitter is switched off again even when
// the read fails.
func (c *Car) ObstacleDetected() (bool, error) {
	p := c.pins
	if p.IREmitter == nil || p.FrontIR == nil {
		return false, ErrNoSensor
	}
	if err := p.IREmitter.Out(gpio.Low); err != nil {
		return false, errors.Wrap(err, "car: ir emitter")
	}
	s, err := p.FrontIR.Read()
	if err != nil {
		err = errors.Wrap(err, "car: front ir")
	}
	if e := p.IREmitter.Out(gpio.High); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "car: ir emitter"))
	}
	if err != nil {
		return false, err
	}
	return s.Raw < c.cfg.Sensors.ObstacleBelow, nil
}

// LineDetected reports whether the bottom receiver on side sees a line of
// the given style.
func (c *Car) LineDetected(side model.Side, style model.LineStyle) (bool, error) {
	var pin AnalogPin
	switch side {
	case model.Left:
		pin = c.pins.BottomLeft
	case model.Right:
		pin = c.pins.BottomRight
	default:
		return false, errors.Errorf("car: unknown sensor side %d", side)
	}
	if pin == nil {
		return false, ErrNoSensor
	}
	s, err := pin.Read()
	if err != nil {
		return false, errors.Wrapf(err, "car: %s line sensor", side)
	}
	white := s.Raw < c.cfg.Sensors.WhiteBelow
	if style == model.WhiteLine {
		return white, nil
	}
	return !white, nil
}
