package car

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-rovercar/model"
)

// tracePin records every level written to it.
type tracePin struct {
	*gpiotest.Pin
	levels []gpio.Level
}

func (p *tracePin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	return p.Pin.Out(l)
}

type fixedEcho struct {
	d       time.Duration
	err     error
	level   gpio.Level
	timeout time.Duration
}

func (e *fixedEcho) PulseIn(level gpio.Level, timeout time.Duration) (time.Duration, error) {
	e.level, e.timeout = level, timeout
	return e.d, e.err
}

type fixedADC struct {
	raw int32
	err error
}

func (a fixedADC) Read() (analog.Sample, error) {
	return analog.Sample{Raw: a.raw}, a.err
}

func newSensorCar(t *testing.T, pins Pins) (*Car, *sleepClock) {
	t.Helper()
	clk := &sleepClock{Mock: clock.NewMock()}
	cfg := DefaultConfig()
	cfg.Clock = clk
	cfg.Pins = pins
	c, err := New(&fakePWM{freq: 50 * physic.Hertz}, &cfg)
	require.NoError(t, err)
	return c, clk
}

func TestDistanceCm(t *testing.T) {
	trig := &tracePin{Pin: &gpiotest.Pin{N: "TRIG"}}
	echo := &fixedEcho{d: 1160 * time.Microsecond}
	c, clk := newSensorCar(t, Pins{Trigger: trig, Echo: echo})

	cm, err := c.DistanceCm()
	require.NoError(t, err)
	assert.Equal(t, 20, cm)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High, gpio.Low}, trig.levels)
	assert.Equal(t, []time.Duration{2 * time.Microsecond, 10 * time.Microsecond}, clk.slept)
	assert.Equal(t, gpio.High, echo.level)
	assert.Equal(t, (400*58+100)*time.Microsecond, echo.timeout)

	// rounding to the nearest centimeter
	echo.d = 87 * time.Microsecond
	cm, err = c.DistanceCm()
	require.NoError(t, err)
	assert.Equal(t, 2, cm)

	echo.d = 0
	cm, err = c.DistanceCm()
	require.NoError(t, err)
	assert.Equal(t, 0, cm)

	echo.err = errors.New("edge detection")
	_, err = c.DistanceCm()
	assert.Error(t, err)
}

func TestObstacleDetected(t *testing.T) {
	emit := &tracePin{Pin: &gpiotest.Pin{N: "IR"}}
	c, _ := newSensorCar(t, Pins{IREmitter: emit, FrontIR: fixedADC{raw: 799}})
	ok, err := c.ObstacleDetected()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, emit.levels)

	c, _ = newSensorCar(t, Pins{IREmitter: emit, FrontIR: fixedADC{raw: 800}})
	ok, err = c.ObstacleDetected()
	require.NoError(t, err)
	assert.False(t, ok)

	emit.levels = nil
	c, _ = newSensorCar(t, Pins{IREmitter: emit, FrontIR: fixedADC{err: errors.New("adc")}})
	_, err = c.ObstacleDetected()
	assert.Error(t, err)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, emit.levels)
}

func TestLineDetected(t *testing.T) {
	c, _ := newSensorCar(t, Pins{BottomLeft: fixedADC{raw: 100}, BottomRight: fixedADC{raw: 900}})

	white, err := c.LineDetected(model.Left, model.WhiteLine)
	require.NoError(t, err)
	assert.True(t, white)
	black, err := c.LineDetected(model.Left, model.BlackLine)
	require.NoError(t, err)
	assert.False(t, black)

	black, err = c.LineDetected(model.Right, model.BlackLine)
	require.NoError(t, err)
	assert.True(t, black)

	_, err = c.LineDetected(model.Side(4), model.BlackLine)
	assert.Error(t, err)
}

func TestSensors_NotWired(t *testing.T) {
	c, _ := newSensorCar(t, Pins{})
	_, err := c.DistanceCm()
	assert.ErrorIs(t, err, ErrNoSensor)
	_, err = c.ObstacleDetected()
	assert.ErrorIs(t, err, ErrNoSensor)
	_, err = c.LineDetected(model.Left, model.WhiteLine)
	assert.ErrorIs(t, err, ErrNoSensor)
}
