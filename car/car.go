// Package car maps logical vehicle commands (move, lamp color, servo angle)
// onto PCA9685 channel writes and reads the obstacle and line sensors.
package car

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-rovercar/marquee"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

// PWM is the channel writer the mappers drive. *pca9685.Dev implements it.
type PWM interface {
	SetPWM(ch pca9685.Channel, on, off uint16) error
	Frequency() physic.Frequency
}

// MotorPair names the two H-bridge inputs of one motor.
type MotorPair struct {
	Forward  pca9685.Channel
	Backward pca9685.Channel
}

type MotorConfig struct {
	Left  MotorPair
	Right MotorPair
	// MinDuty is the lowest non-zero duty that still turns the motors.
	MinDuty uint16
	// Settle is the pause between stopping the motors and driving them again.
	Settle time.Duration
}

type LampConfig struct {
	Red, Green, Blue     pca9685.Channel
	Left, Forward, Right pca9685.Channel
	// DirActiveLow is set when the indicator lamps light on a low output.
	DirActiveLow bool
}

type ServoConfig struct {
	MinPulse time.Duration
	MaxPulse time.Duration
	// Settle is the pause between zeroing a joint and writing its new angle.
	Settle time.Duration
	Joints [3]pca9685.Channel
}

type SensorConfig struct {
	// ObstacleBelow is the front IR reading under which an obstacle is reported.
	ObstacleBelow int32
	// WhiteBelow is the bottom IR reading under which the floor is white.
	WhiteBelow    int32
	MaxDistanceCm int
	UsPerCm       int
}

// Config is the calibration of one car. Clock, Logger and Pins are optional.
type Config struct {
	Motors  MotorConfig
	Lamps   LampConfig
	Servo   ServoConfig
	Sensors SensorConfig

	Clock  clock.Clock
	Logger *zerolog.Logger
	Pins   Pins
}

// DefaultConfig returns the calibration of the reference board.
func DefaultConfig() Config {
	return Config{
		Motors: MotorConfig{
			Left:    MotorPair{Forward: 12, Backward: 13},
			Right:   MotorPair{Forward: 15, Backward: 14},
			MinDuty: 800,
			Settle:  500 * time.Millisecond,
		},
		Lamps: LampConfig{
			Red: 0, Green: 1, Blue: 2,
			Left: 7, Forward: 8, Right: 6,
			DirActiveLow: true,
		},
		Servo: ServoConfig{
			MinPulse: 500 * time.Microsecond,
			MaxPulse: 2400 * time.Microsecond,
			Settle:   15 * time.Microsecond,
			Joints:   [3]pca9685.Channel{3, 4, 5},
		},
		Sensors: SensorConfig{
			ObstacleBelow: 800,
			WhiteBelow:    500,
			MaxDistanceCm: 400,
			UsPerCm:       58,
		},
	}
}

// Car is the actuation surface of the vehicle.
type Car struct {
	pwm  PWM
	cfg  Config
	clk  clock.Clock
	log  zerolog.Logger
	pins Pins

	mu    sync.Mutex
	flash *marquee.Looper
}

// New validates cfg and returns a Car writing through pwm.
func New(pwm PWM, cfg *Config) (*Car, error) {
	if pwm == nil {
		return nil, errors.New("car: nil pwm")
	}
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	if err := cfg.validate(pwm.Frequency()); err != nil {
		return nil, err
	}
	c := &Car{pwm: pwm, cfg: *cfg, clk: cfg.Clock, pins: cfg.Pins}
	if c.clk == nil {
		c.clk = clock.New()
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	} else {
		c.log = log.Logger
	}
	c.log = c.log.With().Str("component", "car").Logger()
	return c, nil
}

func (cfg *Config) validate(freq physic.Frequency) error {
	chans := map[string]pca9685.Channel{
		"motor left forward":   cfg.Motors.Left.Forward,
		"motor left backward":  cfg.Motors.Left.Backward,
		"motor right forward":  cfg.Motors.Right.Forward,
		"motor right backward": cfg.Motors.Right.Backward,
		"lamp red":             cfg.Lamps.Red,
		"lamp green":           cfg.Lamps.Green,
		"lamp blue":            cfg.Lamps.Blue,
		"lamp left":            cfg.Lamps.Left,
		"lamp forward":         cfg.Lamps.Forward,
		"lamp right":           cfg.Lamps.Right,
		"servo j2":             cfg.Servo.Joints[0],
		"servo j3":             cfg.Servo.Joints[1],
		"servo j4":             cfg.Servo.Joints[2],
	}
	for name, ch := range chans {
		if ch < 0 || ch >= pca9685.NumChannels {
			return errors.Errorf("car: %s channel %d out of range", name, ch)
		}
	}
	if cfg.Motors.MinDuty > pca9685.MaxDuty {
		return errors.Errorf("car: minimum motor duty %d above %d", cfg.Motors.MinDuty, pca9685.MaxDuty)
	}
	if cfg.Servo.MinPulse <= 0 || cfg.Servo.MaxPulse <= cfg.Servo.MinPulse {
		return errors.Errorf("car: servo pulse range %s-%s", cfg.Servo.MinPulse, cfg.Servo.MaxPulse)
	}
	if freq <= 0 || cfg.Servo.MaxPulse > freq.Period() {
		return errors.Errorf("car: servo pulse %s longer than the %s PWM period", cfg.Servo.MaxPulse, freq.Period())
	}
	if cfg.Sensors.UsPerCm <= 0 {
		return errors.New("car: sensor microseconds per centimeter must be positive")
	}
	return nil
}

// Config returns the calibration in use.
func (c *Car) Config() Config {
	return c.cfg
}

// write sends one channel duty. Zero is sent as an all-zero payload.
func (c *Car) write(ch pca9685.Channel, duty uint16) error {
	if duty == 0 {
		return c.pwm.SetPWM(ch, 0, 0)
	}
	return c.pwm.SetPWM(ch, 0, duty)
}

// Halt stops every output through the broadcast registers, then stops the
// marquee and switches the indicator lamps off when they are active-low.
// The broadcast goes out before the marquee is joined, so the motors stop
// without waiting out the current marquee interval.
func (c *Car) Halt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pwm.SetPWM(pca9685.AllChannels, 0, 0); err != nil {
		_ = c.stopFlashLocked()
		return errors.Wrap(err, "car: halt")
	}
	_ = c.stopFlashLocked()
	var err error
	if c.cfg.Lamps.DirActiveLow {
		err = c.dirLampsOff()
	}
	c.log.Info().Msg("halted")
	return err
}

// Close halts the car.
func (c *Car) Close() error {
	return c.Halt()
}
