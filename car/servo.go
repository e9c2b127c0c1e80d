package car

import (
	"time"

	"github.com/pkg/errors"

	"github.com/coreman2200/funtimes-rovercar/model"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

const (
	MinAngle = -90
	MaxAngle = 90
)

// ServoDuty converts an angle in degrees to a duty at the current PWM
// frequency. Angles outside [-90, 90] are clamped.
func (c *Car) ServoDuty(deg int) uint16 {
	if deg < MinAngle {
		deg = MinAngle
	}
	if deg > MaxAngle {
		deg = MaxAngle
	}
	s := c.cfg.Servo
	span := s.MaxPulse - s.MinPulse
	pulse := s.MinPulse + time.Duration(int64(span)*int64(deg-MinAngle)/int64(MaxAngle-MinAngle))
	period := c.pwm.Frequency().Period()
	duty := uint64(pulse) * pca9685.Steps / uint64(period)
	if duty > pca9685.MaxDuty {
		duty = pca9685.MaxDuty
	}
	return uint16(duty)
}

func (c *Car) joint(j model.Joint) (pca9685.Channel, bool) {
	if int(j) >= len(c.cfg.Servo.Joints) {
		return 0, false
	}
	return c.cfg.Servo.Joints[j], true
}

// SetServoAngle releases the joint, waits for it to settle and then writes
// the angle. Unknown joints are ignored.
func (c *Car) SetServoAngle(j model.Joint, deg int) error {
	ch, ok := c.joint(j)
	if !ok {
		c.log.Warn().Int("joint", int(j)).Msg("unknown servo joint")
		return nil
	}
	if err := c.write(ch, 0); err != nil {
		return errors.Wrapf(err, "car: release %s", j)
	}
	c.clk.Sleep(c.cfg.Servo.Settle)
	duty := c.ServoDuty(deg)
	c.log.Debug().Stringer("joint", j).Int("angle", deg).Uint16("duty", duty).Msg("servo")
	return errors.Wrapf(c.write(ch, duty), "car: %s angle", j)
}
