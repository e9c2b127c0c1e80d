package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

type Device struct {
	Bus          string        `yaml:"bus" env:"ROVERCAR_I2C_BUS"` // "" opens the first bus
	Addr         uint16        `yaml:"addr" env:"ROVERCAR_I2C_ADDR"`
	OscillatorHz int64         `yaml:"oscillator_hz" env:"ROVERCAR_OSCILLATOR_HZ"`
	RefreshHz    int64         `yaml:"refresh_hz" env:"ROVERCAR_REFRESH_HZ"`
	RestartDelay time.Duration `yaml:"restart_delay" env:"ROVERCAR_RESTART_DELAY"`
}

type Pair struct {
	Forward  int `yaml:"forward"`
	Backward int `yaml:"backward"`
}

type Motors struct {
	Left    Pair          `yaml:"left"`
	Right   Pair          `yaml:"right"`
	MinDuty uint16        `yaml:"min_duty" env:"ROVERCAR_MOTOR_MIN_DUTY"`
	Settle  time.Duration `yaml:"settle" env:"ROVERCAR_MOTOR_SETTLE"`
}

type Lamps struct {
	Red          int  `yaml:"red"`
	Green        int  `yaml:"green"`
	Blue         int  `yaml:"blue"`
	Left         int  `yaml:"left"`
	Forward      int  `yaml:"forward"`
	Right        int  `yaml:"right"`
	DirActiveLow bool `yaml:"dir_active_low" env:"ROVERCAR_DIR_ACTIVE_LOW"`
	// FlashInterval is the marquee step delay.
	FlashInterval time.Duration `yaml:"flash_interval" env:"ROVERCAR_FLASH_INTERVAL"`
}

type Servo struct {
	MinPulse time.Duration `yaml:"min_pulse" env:"ROVERCAR_SERVO_MIN_PULSE"`
	MaxPulse time.Duration `yaml:"max_pulse" env:"ROVERCAR_SERVO_MAX_PULSE"`
	Settle   time.Duration `yaml:"settle"`
	Joints   []int         `yaml:"joints"` // J2, J3, J4
}

type ADC struct {
	Enabled bool   `yaml:"enabled" env:"ROVERCAR_ADC"`
	Addr    uint16 `yaml:"addr"`
	Front   int    `yaml:"front"`
	Left    int    `yaml:"left"`
	Right   int    `yaml:"right"`
}

type Sensors struct {
	Trigger       string `yaml:"trigger" env:"ROVERCAR_TRIGGER_PIN"`
	Echo          string `yaml:"echo" env:"ROVERCAR_ECHO_PIN"`
	IREmitter     string `yaml:"ir_emitter" env:"ROVERCAR_IR_EMITTER_PIN"`
	ADC           ADC    `yaml:"adc"`
	ObstacleBelow int32  `yaml:"obstacle_below"`
	WhiteBelow    int32  `yaml:"white_below"`
	MaxDistanceCm int    `yaml:"max_distance_cm"`
	UsPerCm       int    `yaml:"us_per_cm"`
}

type Config struct {
	Sim    bool   `yaml:"sim" env:"ROVERCAR_SIM"`
	Listen string `yaml:"listen" env:"ROVERCAR_LISTEN"`

	PCA9685 Device  `yaml:"pca9685"`
	Motors  Motors  `yaml:"motors"`
	Lamps   Lamps   `yaml:"lamps"`
	Servo   Servo   `yaml:"servo"`
	Sensors Sensors `yaml:"sensors"`
}

// Default returns the configuration of the reference board.
func Default() *Config {
	d := car.DefaultConfig()
	joints := make([]int, len(d.Servo.Joints))
	for i, ch := range d.Servo.Joints {
		joints[i] = int(ch)
	}
	return &Config{
		Listen: ":8080",
		PCA9685: Device{
			Addr:         pca9685.DefaultOpts.Addr,
			OscillatorHz: int64(pca9685.DefaultOpts.Oscillator / physic.Hertz),
			RefreshHz:    int64(pca9685.DefaultOpts.Frequency / physic.Hertz),
			RestartDelay: pca9685.DefaultOpts.RestartDelay,
		},
		Motors: Motors{
			Left:    Pair{int(d.Motors.Left.Forward), int(d.Motors.Left.Backward)},
			Right:   Pair{int(d.Motors.Right.Forward), int(d.Motors.Right.Backward)},
			MinDuty: d.Motors.MinDuty,
			Settle:  d.Motors.Settle,
		},
		Lamps: Lamps{
			Red: int(d.Lamps.Red), Green: int(d.Lamps.Green), Blue: int(d.Lamps.Blue),
			Left: int(d.Lamps.Left), Forward: int(d.Lamps.Forward), Right: int(d.Lamps.Right),
			DirActiveLow:  d.Lamps.DirActiveLow,
			FlashInterval: 100 * time.Millisecond,
		},
		Servo: Servo{
			MinPulse: d.Servo.MinPulse,
			MaxPulse: d.Servo.MaxPulse,
			Settle:   d.Servo.Settle,
			Joints:   joints,
		},
		Sensors: Sensors{
			ADC:           ADC{Addr: 0x48, Front: 0, Left: 1, Right: 2},
			ObstacleBelow: d.Sensors.ObstacleBelow,
			WhiteBelow:    d.Sensors.WhiteBelow,
			MaxDistanceCm: d.Sensors.MaxDistanceCm,
			UsPerCm:       d.Sensors.UsPerCm,
		},
	}
}

// Load reads path over the defaults, then applies ROVERCAR_* environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, errors.Wrapf(err, "config: parse %s", path)
		}
	}
	if err := env.Parse(c); err != nil {
		return nil, errors.Wrap(err, "config: environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Validate checks the ranges the hardware accepts.
func (c *Config) Validate() error {
	if c.PCA9685.Addr == 0 || c.PCA9685.Addr > 0x7F {
		return errors.Errorf("config: i2c address %#x out of range", c.PCA9685.Addr)
	}
	if c.PCA9685.RefreshHz <= 0 || c.PCA9685.OscillatorHz <= 0 {
		return errors.New("config: refresh rate and oscillator must be positive")
	}
	if len(c.Servo.Joints) != 3 {
		return errors.Errorf("config: want 3 servo joints, got %d", len(c.Servo.Joints))
	}
	if c.Servo.MaxPulse <= c.Servo.MinPulse {
		return errors.Errorf("config: servo pulse range %s-%s", c.Servo.MinPulse, c.Servo.MaxPulse)
	}
	cc := c.CarConfig()
	if _, err := car.New(nopPWM(c.PCA9685.RefreshHz), &cc); err != nil {
		return errors.Wrap(err, "config")
	}
	return nil
}

// PCA9685Opts returns the device options.
func (c *Config) PCA9685Opts() *pca9685.Opts {
	return &pca9685.Opts{
		Addr:         c.PCA9685.Addr,
		Oscillator:   physic.Frequency(c.PCA9685.OscillatorHz) * physic.Hertz,
		Frequency:    physic.Frequency(c.PCA9685.RefreshHz) * physic.Hertz,
		RestartDelay: c.PCA9685.RestartDelay,
	}
}

// CarConfig returns the calibration. Clock, Logger and Pins are left unset.
func (c *Config) CarConfig() car.Config {
	ch := func(v int) pca9685.Channel { return pca9685.Channel(v) }
	cc := car.Config{
		Motors: car.MotorConfig{
			Left:    car.MotorPair{Forward: ch(c.Motors.Left.Forward), Backward: ch(c.Motors.Left.Backward)},
			Right:   car.MotorPair{Forward: ch(c.Motors.Right.Forward), Backward: ch(c.Motors.Right.Backward)},
			MinDuty: c.Motors.MinDuty,
			Settle:  c.Motors.Settle,
		},
		Lamps: car.LampConfig{
			Red: ch(c.Lamps.Red), Green: ch(c.Lamps.Green), Blue: ch(c.Lamps.Blue),
			Left: ch(c.Lamps.Left), Forward: ch(c.Lamps.Forward), Right: ch(c.Lamps.Right),
			DirActiveLow: c.Lamps.DirActiveLow,
		},
		Servo: car.ServoConfig{
			MinPulse: c.Servo.MinPulse,
			MaxPulse: c.Servo.MaxPulse,
			Settle:   c.Servo.Settle,
		},
		Sensors: car.SensorConfig{
			ObstacleBelow: c.Sensors.ObstacleBelow,
			WhiteBelow:    c.Sensors.WhiteBelow,
			MaxDistanceCm: c.Sensors.MaxDistanceCm,
			UsPerCm:       c.Sensors.UsPerCm,
		},
	}
	for i := 0; i < len(cc.Servo.Joints) && i < len(c.Servo.Joints); i++ {
		cc.Servo.Joints[i] = ch(c.Servo.Joints[i])
	}
	return cc
}

// nopPWM lets Validate run the car checks without a device.
type nopPWM int64

func (nopPWM) SetPWM(pca9685.Channel, uint16, uint16) error { return nil }

func (p nopPWM) Frequency() physic.Frequency { return physic.Frequency(p) * physic.Hertz }
