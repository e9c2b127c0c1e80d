// Package pins binds the car sensors to host GPIO and an ADS1115 ADC.
package pins

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/internal/config"
)

// Echo measures pulses on an input pin through edge detection.
type Echo struct {
	Pin gpio.PinIn
	clk clock.Clock
}

// NewEcho configures p for edge detection.
func NewEcho(p gpio.PinIn, clk clock.Clock) (*Echo, error) {
	if clk == nil {
		clk = clock.New()
	}
	if err := p.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, errors.Wrapf(err, "pins: echo %s", p)
	}
	return &Echo{Pin: p, clk: clk}, nil
}

// PulseIn waits for the pin to reach level and returns how long it stays
// there. It returns 0 when the pulse does not start and end within timeout.
func (e *Echo) PulseIn(level gpio.Level, timeout time.Duration) (time.Duration, error) {
	deadline := e.clk.Now().Add(timeout)
	wait := func() bool {
		left := deadline.Sub(e.clk.Now())
		return left > 0 && e.Pin.WaitForEdge(left)
	}
	for e.Pin.Read() != level {
		if !wait() {
			return 0, nil
		}
	}
	start := e.clk.Now()
	for e.Pin.Read() == level {
		if !wait() {
			return 0, nil
		}
	}
	return e.clk.Now().Sub(start), nil
}

// ADC rescales an analog pin to a 10-bit reading against Vref.
type ADC struct {
	Pin  analog.PinADC
	Vref physic.ElectricPotential
}

func (a *ADC) Read() (analog.Sample, error) {
	s, err := a.Pin.Read()
	if err != nil {
		return s, err
	}
	raw := int64(s.V) * 1023 / int64(a.Vref)
	if raw < 0 {
		raw = 0
	}
	if raw > 1023 {
		raw = 1023
	}
	s.Raw = int32(raw)
	return s, nil
}

// Vref is the full-scale voltage of the IR receivers.
const Vref = 5 * physic.Volt

// Set holds the opened pins and releases them on Close.
type Set struct {
	Pins    car.Pins
	closers []func() error
}

func (s *Set) Close() error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c())
	}
	return err
}

func outPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("pins: no gpio named %q", name)
	}
	return p, nil
}

// Open binds the sensors named in cfg. Unnamed pins stay nil and the car
// reports the matching readings as not wired. The ADC is opened on bus when
// enabled.
func Open(cfg config.Sensors, bus i2c.Bus) (*Set, error) {
	s := &Set{}
	fail := func(err error) (*Set, error) {
		return nil, multierr.Append(err, s.Close())
	}
	trig, err := outPin(cfg.Trigger)
	if err != nil {
		return nil, err
	}
	if trig != nil {
		if err := trig.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "pins: trigger %s", trig)
		}
		s.Pins.Trigger = trig
		s.closers = append(s.closers, func() error { return trig.In(gpio.PullDown, gpio.NoEdge) })
	}
	echo, err := outPin(cfg.Echo)
	if err != nil {
		return fail(err)
	}
	if echo != nil {
		e, err := NewEcho(echo, nil)
		if err != nil {
			return fail(err)
		}
		s.Pins.Echo = e
		s.closers = append(s.closers, func() error { return echo.In(gpio.PullNoChange, gpio.NoEdge) })
	}
	emit, err := outPin(cfg.IREmitter)
	if err != nil {
		return fail(err)
	}
	if emit != nil {
		if err := emit.Out(gpio.High); err != nil {
			return fail(errors.Wrapf(err, "pins: ir emitter %s", emit))
		}
		s.Pins.IREmitter = emit
	}

	if !cfg.ADC.Enabled {
		return s, nil
	}
	if bus == nil {
		return fail(errors.New("pins: adc enabled without an i2c bus"))
	}
	adc, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: cfg.ADC.Addr})
	if err != nil {
		return fail(errors.Wrap(err, "pins: ads1115"))
	}
	s.closers = append(s.closers, adc.Halt)
	open := func(ch int) (car.AnalogPin, error) {
		if ch < 0 || ch > 3 {
			return nil, errors.Errorf("pins: adc channel %d out of range", ch)
		}
		p, err := adc.PinForChannel(ads1x15.Channel0+ads1x15.Channel(ch), Vref, 128*physic.Hertz, ads1x15.SaveEnergy)
		if err != nil {
			return nil, errors.Wrapf(err, "pins: adc channel %d", ch)
		}
		s.closers = append(s.closers, p.Halt)
		return &ADC{Pin: p, Vref: Vref}, nil
	}
	if s.Pins.FrontIR, err = open(cfg.ADC.Front); err != nil {
		return fail(err)
	}
	if s.Pins.BottomLeft, err = open(cfg.ADC.Left); err != nil {
		return fail(err)
	}
	if s.Pins.BottomRight, err = open(cfg.ADC.Right); err != nil {
		return fail(err)
	}
	log.Info().Uint16("addr", cfg.ADC.Addr).Msg("ads1115 opened")
	return s, nil
}
