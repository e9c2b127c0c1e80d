package car

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/coreman2200/funtimes-rovercar/marquee"
	"github.com/coreman2200/funtimes-rovercar/model"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

// FullOn is the duty written for a lit color emitter. The counters keep its
// low 12 bits, 0xFFE.
const FullOn uint16 = pca9685.Steps | 0x0FFE

// LevelDuty scales an 8-bit level to a duty, with 255 mapped to full scale.
func LevelDuty(level uint8) uint16 {
	if level == 0xFF {
		return pca9685.MaxDuty
	}
	return uint16(level) * StepPerLevel
}

// setMainLamp writes red, green and blue as three separate transactions, so
// the lamp can briefly show a mix of the old and new color.
func (c *Car) setMainLamp(r, g, b uint16) error {
	l := c.cfg.Lamps
	if err := c.write(l.Red, r); err != nil {
		return errors.Wrap(err, "car: main lamp red")
	}
	if err := c.write(l.Green, g); err != nil {
		return errors.Wrap(err, "car: main lamp green")
	}
	if err := c.write(l.Blue, b); err != nil {
		return errors.Wrap(err, "car: main lamp blue")
	}
	return nil
}

// SetMainLampColor lights the main lamp with one of the fixed colors.
// Unknown colors turn it off.
func (c *Car) SetMainLampColor(color model.Color) error {
	duty := func(on bool) uint16 {
		if on {
			return FullOn
		}
		return 0
	}
	r, g, b := color.Channels()
	c.log.Debug().Stringer("color", color).Msg("main lamp")
	return c.setMainLamp(duty(r), duty(g), duty(b))
}

// SetMainLampRGB lights the main lamp with 8-bit levels.
func (c *Car) SetMainLampRGB(rgb model.RGB) error {
	c.log.Debug().Stringer("rgb", rgb).Msg("main lamp")
	return c.setMainLamp(
		uint16(rgb.GetR())*StepPerLevel,
		uint16(rgb.GetG())*StepPerLevel,
		uint16(rgb.GetB())*StepPerLevel,
	)
}

// TurnMainLampOff switches all three emitters off.
func (c *Car) TurnMainLampOff() error {
	return c.setMainLamp(0, 0, 0)
}

func (c *Car) dirLampChannel(l model.DirLamp) (pca9685.Channel, bool) {
	switch l {
	case model.LeftLamp:
		return c.cfg.Lamps.Left, true
	case model.ForwardLamp:
		return c.cfg.Lamps.Forward, true
	case model.RightLamp:
		return c.cfg.Lamps.Right, true
	}
	return 0, false
}

func (c *Car) dirLampDuty(on bool) uint16 {
	if on == c.cfg.Lamps.DirActiveLow {
		return 0
	}
	return pca9685.MaxDuty
}

// SetDirLamp switches one indicator lamp. Unknown lamps are ignored.
func (c *Car) SetDirLamp(l model.DirLamp, on bool) error {
	ch, ok := c.dirLampChannel(l)
	if !ok {
		c.log.Warn().Int("lamp", int(l)).Msg("unknown directional lamp")
		return nil
	}
	return errors.Wrapf(c.write(ch, c.dirLampDuty(on)), "car: %s lamp", l)
}

// SetDirLampLevel writes a raw brightness to one indicator lamp, ignoring
// its polarity.
func (c *Car) SetDirLampLevel(l model.DirLamp, level uint8) error {
	ch, ok := c.dirLampChannel(l)
	if !ok {
		c.log.Warn().Int("lamp", int(l)).Msg("unknown directional lamp")
		return nil
	}
	return errors.Wrapf(c.write(ch, LevelDuty(level)), "car: %s lamp level", l)
}

// RangeWriter is implemented by PWM writers that can update consecutive
// channels in one transaction.
type RangeWriter interface {
	SetPWMRange(first pca9685.Channel, duties []pca9685.Duty) error
}

// dirLampRun returns the lowest indicator channel when the three indicators
// sit on consecutive channels.
func (c *Car) dirLampRun() (pca9685.Channel, bool) {
	l := c.cfg.Lamps
	first := l.Left
	for _, ch := range []pca9685.Channel{l.Forward, l.Right} {
		if ch < first {
			first = ch
		}
	}
	seen := map[pca9685.Channel]bool{l.Left: true, l.Forward: true, l.Right: true}
	return first, len(seen) == 3 && seen[first+1] && seen[first+2]
}

// dirLampsOff switches the indicators off together in one block write when
// the writer and the wiring allow it, lamp by lamp otherwise.
func (c *Car) dirLampsOff() error {
	if rw, ok := c.pwm.(RangeWriter); ok {
		if first, ok := c.dirLampRun(); ok {
			off := pca9685.Duty{Off: c.dirLampDuty(false)}
			return errors.Wrap(rw.SetPWMRange(first, []pca9685.Duty{off, off, off}), "car: indicator lamps off")
		}
	}
	for _, l := range model.DirLamps {
		if err := c.SetDirLamp(l, false); err != nil {
			return err
		}
	}
	return nil
}

// stopFlashLocked stops the marquee and returns the error it ended on, if
// any. The error is logged as well.
func (c *Car) stopFlashLocked() error {
	if c.flash == nil {
		return nil
	}
	err := c.flash.Stop()
	c.flash = nil
	if err != nil {
		c.log.Warn().Err(err).Msg("marquee ended with an error")
	}
	return err
}

// TurnAllDirLampsOff stops the marquee, if any, and switches every indicator
// lamp off.
func (c *Car) TurnAllDirLampsOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return multierr.Append(c.stopFlashLocked(), c.dirLampsOff())
}

// FlashDirLamps starts the marquee with interval between steps, replacing a
// running one. A failure of the replaced marquee is only logged.
func (c *Car) FlashDirLamps(interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.stopFlashLocked()
	if err := c.dirLampsOff(); err != nil {
		return err
	}
	l := marquee.New(marquee.Pattern, interval, c.clk)
	apply := func(s marquee.Step) error { return c.SetDirLamp(s.Lamp, s.On) }
	if err := l.Start(apply, c.dirLampsOff); err != nil {
		return err
	}
	c.flash = l
	c.log.Debug().Dur("interval", l.Interval()).Msg("marquee started")
	return nil
}

// Flashing reports whether the marquee is running.
func (c *Car) Flashing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flash != nil && c.flash.Running()
}
