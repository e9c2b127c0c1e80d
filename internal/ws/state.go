package ws

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/internal/config"
	diag "github.com/coreman2200/funtimes-rovercar/internal/diagnostics"
	"github.com/coreman2200/funtimes-rovercar/internal/selftest"
	"github.com/coreman2200/funtimes-rovercar/model"
)

// ErrBadCommand is returned for commands that cannot be decoded.
var ErrBadCommand = errors.New("ws: bad command")

// Command is one control request, as sent over /control or POST /api/command.
type Command struct {
	Cmd string `json:"cmd"`

	Dir      string `json:"dir,omitempty"`
	Side     string `json:"side,omitempty"`
	Speed    uint8  `json:"speed,omitempty"`
	Color    string `json:"color,omitempty"`
	RGB      string `json:"rgb,omitempty"`
	Lamp     string `json:"lamp,omitempty"`
	On       bool   `json:"on,omitempty"`
	Level    *uint8 `json:"level,omitempty"`
	Joint    string `json:"joint,omitempty"`
	Angle    int    `json:"angle,omitempty"`
	Interval int    `json:"interval_ms,omitempty"`
	Test     string `json:"test,omitempty"`
}

func (cmd Command) move() model.MoveCommand {
	return model.MoveCommand{Dir: model.ParseCarDir(cmd.Dir), Speed: cmd.Speed}
}

func (cmd Command) motor() (model.MotorCommand, error) {
	side, ok := model.ParseSide(cmd.Side)
	if !ok {
		return model.MotorCommand{}, errors.Wrapf(ErrBadCommand, "side %q", cmd.Side)
	}
	dir, ok := model.ParseDirection(cmd.Dir)
	if !ok {
		return model.MotorCommand{}, errors.Wrapf(ErrBadCommand, "direction %q", cmd.Dir)
	}
	return model.MotorCommand{Side: side, Direction: dir, Speed: cmd.Speed}, nil
}

func (cmd Command) servo() (model.ServoCommand, error) {
	j, ok := model.ParseJoint(cmd.Joint)
	if !ok {
		return model.ServoCommand{}, errors.Wrapf(ErrBadCommand, "joint %q", cmd.Joint)
	}
	return model.ServoCommand{Joint: j, Angle: cmd.Angle}, nil
}

// Readings are the sensor values. A field is omitted when its sensor is not
// wired.
type Readings struct {
	DistanceCm *int              `json:"distance_cm,omitempty"`
	Obstacle   *bool             `json:"obstacle,omitempty"`
	LineLeft   *bool             `json:"line_left,omitempty"`
	LineRight  *bool             `json:"line_right,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

type State struct {
	Car        *car.Car
	Config     *config.Config
	ConfigPath string
	SimOnly    bool
	Diag       *diag.Log

	clk       clock.Clock
	startTime time.Time
	commands  atomic.Uint64
	failures  atomic.Uint64

	mu         sync.Mutex
	testCancel context.CancelFunc
	testDone   chan struct{}
}

func NewState(c *car.Car, cfg *config.Config, simOnly bool) *State {
	clk := clock.New()
	return &State{
		Car:       c,
		Config:    cfg,
		SimOnly:   simOnly,
		Diag:      diag.NewLog(64, clk),
		clk:       clk,
		startTime: clk.Now(),
	}
}

// Apply runs one command against the car. The result is nil for commands
// that only actuate.
func (s *State) Apply(cmd Command) (any, error) {
	s.commands.Inc()
	res, err := s.apply(cmd)
	if err != nil {
		s.failures.Inc()
		if errors.Is(err, ErrBadCommand) {
			s.Diag.Push(diag.Diagnostic{
				Severity: diag.Warn, Code: "CMD.INVALID", Summary: "Rejected command", Detail: err.Error(),
				Evidence: map[string]any{"cmd": cmd.Cmd},
			})
		} else {
			s.Diag.Push(diag.BusFault(err))
		}
		log.Warn().Err(err).Str("cmd", cmd.Cmd).Msg("command failed")
	}
	return res, err
}

func (s *State) apply(cmd Command) (any, error) {
	c := s.Car
	switch cmd.Cmd {
	case "move":
		m := cmd.move()
		return nil, c.Move(m.Dir, m.Speed)
	case "motor":
		m, err := cmd.motor()
		if err != nil {
			return nil, err
		}
		return nil, c.SetMotor(m.Side, m.Direction, m.Speed)
	case "stop":
		return nil, c.StopMotors()
	case "color":
		if cmd.RGB != "" {
			rgb, err := model.ParseRGB(cmd.RGB)
			if err != nil {
				return nil, errors.Wrap(ErrBadCommand, err.Error())
			}
			return nil, c.SetMainLampRGB(rgb)
		}
		return nil, c.SetMainLampColor(model.ParseColor(cmd.Color))
	case "lamp_off":
		return nil, c.TurnMainLampOff()
	case "dir_lamp":
		l, ok := model.ParseDirLamp(cmd.Lamp)
		if !ok {
			return nil, errors.Wrapf(ErrBadCommand, "lamp %q", cmd.Lamp)
		}
		if cmd.Level != nil {
			return nil, c.SetDirLampLevel(l, *cmd.Level)
		}
		return nil, c.SetDirLamp(l, cmd.On)
	case "dir_lamps_off":
		return nil, c.TurnAllDirLampsOff()
	case "flash":
		s.mu.Lock()
		if cmd.Interval > 0 {
			s.Config.Lamps.FlashInterval = time.Duration(cmd.Interval) * time.Millisecond
			s.saveConfig()
		}
		interval := s.Config.Lamps.FlashInterval
		s.mu.Unlock()
		return nil, c.FlashDirLamps(interval)
	case "servo":
		m, err := cmd.servo()
		if err != nil {
			return nil, err
		}
		return nil, c.SetServoAngle(m.Joint, m.Angle)
	case "halt":
		s.StopSelfTest()
		return nil, c.Halt()
	case "sensors":
		return s.Sensors(), nil
	case "selftest":
		kind, ok := selftest.ParseKind(cmd.Test)
		if !ok {
			return nil, errors.Wrapf(ErrBadCommand, "test %q", cmd.Test)
		}
		return nil, s.StartSelfTest(kind)
	}
	return nil, errors.Wrapf(ErrBadCommand, "unknown command %q", cmd.Cmd)
}

// Sensors reads every wired sensor.
func (s *State) Sensors() Readings {
	var r Readings
	fail := func(name string, err error) bool {
		if err == nil {
			return false
		}
		if !errors.Is(err, car.ErrNoSensor) {
			if r.Errors == nil {
				r.Errors = map[string]string{}
			}
			r.Errors[name] = err.Error()
		}
		return true
	}
	if d, err := s.Car.DistanceCm(); !fail("distance", err) {
		r.DistanceCm = &d
	}
	if o, err := s.Car.ObstacleDetected(); !fail("obstacle", err) {
		r.Obstacle = &o
	}
	if b, err := s.Car.LineDetected(model.Left, model.BlackLine); !fail("line_left", err) {
		r.LineLeft = &b
	}
	if b, err := s.Car.LineDetected(model.Right, model.BlackLine); !fail("line_right", err) {
		r.LineRight = &b
	}
	return r
}

// StartSelfTest runs a plan in the background, replacing a running one.
func (s *State) StartSelfTest(kind selftest.Kind) error {
	s.StopSelfTest()
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.testCancel, s.testDone = cancel, done
	s.Diag.Push(diag.Diagnostic{Severity: diag.Info, Code: "TEST.RUNNING", Summary: "Running test", Detail: string(kind)})
	go func() {
		defer close(done)
		err := selftest.Run(ctx, s.Car, kind, 500*time.Millisecond, s.clk)
		switch {
		case err == nil:
			s.Diag.Push(diag.Diagnostic{Severity: diag.Info, Code: "TEST.DONE", Summary: "Test complete", Detail: string(kind)})
		case errors.Is(err, context.Canceled):
			s.Diag.Push(diag.Diagnostic{Severity: diag.Info, Code: "TEST.CANCELLED", Summary: "Test cancelled", Detail: string(kind)})
		default:
			d := diag.FromError("TEST.FAILED", err)
			d.Evidence = map[string]any{"test": string(kind)}
			s.Diag.Push(d)
		}
	}()
	return nil
}

// StopSelfTest cancels a running plan and waits for it to return.
func (s *State) StopSelfTest() {
	s.mu.Lock()
	cancel, done := s.testCancel, s.testDone
	s.testCancel, s.testDone = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Health is the /health payload.
type Health struct {
	UptimeS  float64 `json:"uptime_s"`
	Commands uint64  `json:"commands"`
	Failures uint64  `json:"failures"`
	Flashing bool    `json:"flashing"`
	Sim      bool    `json:"sim"`
}

func (s *State) Health() Health {
	return Health{
		UptimeS:  s.clk.Since(s.startTime).Seconds(),
		Commands: s.commands.Load(),
		Failures: s.failures.Load(),
		Flashing: s.Car.Flashing(),
		Sim:      s.SimOnly,
	}
}

// ConfigSnapshot returns a copy of the configuration taken under the state
// lock.
func (s *State) ConfigSnapshot() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Config
}

func (s *State) saveConfig() {
	if s.ConfigPath == "" {
		return
	}
	if err := config.Save(s.ConfigPath, s.Config); err != nil {
		log.Warn().Err(err).Str("path", s.ConfigPath).Msg("config save failed")
	}
}
