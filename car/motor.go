package car

import (
	"github.com/pkg/errors"

	"github.com/coreman2200/funtimes-rovercar/model"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

// StepPerLevel scales an 8-bit level to the 12-bit duty range.
const StepPerLevel = 16

// MotorDuty converts a speed level to a duty: 0 stays 0, anything else is
// raised to the minimum duty and capped at full scale.
func (c *Car) MotorDuty(level uint8) uint16 {
	if level == 0 {
		return 0
	}
	d := uint16(level) * StepPerLevel
	if d < c.cfg.Motors.MinDuty {
		d = c.cfg.Motors.MinDuty
	}
	if d > pca9685.MaxDuty {
		d = pca9685.MaxDuty
	}
	return d
}

func (c *Car) pair(side model.Side) (MotorPair, bool) {
	switch side {
	case model.Left:
		return c.cfg.Motors.Left, true
	case model.Right:
		return c.cfg.Motors.Right, true
	}
	return MotorPair{}, false
}

// channels returns the driven and the complementary channel.
func (p MotorPair) channels(dir model.Direction) (pca9685.Channel, pca9685.Channel) {
	if dir == model.Backward {
		return p.Backward, p.Forward
	}
	return p.Forward, p.Backward
}

// SetMotor drives one motor. The complementary channel is zeroed before the
// driven one is energized.
func (c *Car) SetMotor(side model.Side, dir model.Direction, level uint8) error {
	p, ok := c.pair(side)
	if !ok {
		return errors.Errorf("car: unknown motor side %d", side)
	}
	on, off := p.channels(dir)
	if err := c.write(off, 0); err != nil {
		return errors.Wrapf(err, "car: %s motor", side)
	}
	duty := c.MotorDuty(level)
	c.log.Debug().Stringer("side", side).Stringer("dir", dir).Int("channel", int(on)).Uint16("duty", duty).Msg("motor")
	return errors.Wrapf(c.write(on, duty), "car: %s motor", side)
}

// StopMotors zeroes all four motor channels.
func (c *Car) StopMotors() error {
	m := c.cfg.Motors
	for _, ch := range []pca9685.Channel{m.Left.Forward, m.Left.Backward, m.Right.Forward, m.Right.Backward} {
		if err := c.write(ch, 0); err != nil {
			return errors.Wrap(err, "car: stop motors")
		}
	}
	return nil
}

// Move stops both motors, waits for them to settle and then drives them for
// dir. Stop, or any unknown direction, leaves the motors stopped.
func (c *Car) Move(dir model.CarDir, level uint8) error {
	if err := c.StopMotors(); err != nil {
		return err
	}
	var l, r model.Direction
	switch dir {
	case model.MoveForward:
		l, r = model.Forward, model.Forward
	case model.MoveBackward:
		l, r = model.Backward, model.Backward
	case model.TurnLeft:
		l, r = model.Backward, model.Forward
	case model.TurnRight:
		l, r = model.Forward, model.Backward
	default:
		c.log.Debug().Stringer("dir", dir).Msg("motors stopped")
		return nil
	}
	c.clk.Sleep(c.cfg.Motors.Settle)

	duty := c.MotorDuty(level)
	lc, _ := c.cfg.Motors.Left.channels(l)
	rc, _ := c.cfg.Motors.Right.channels(r)
	if err := c.write(lc, duty); err != nil {
		return errors.Wrap(err, "car: move left motor")
	}
	if err := c.write(rc, duty); err != nil {
		return errors.Wrap(err, "car: move right motor")
	}
	c.log.Debug().Stringer("dir", dir).Uint16("duty", duty).Msg("move")
	return nil
}
