// Package pca9685 drives a PCA9685 16-channel, 12-bit PWM expander over I2C.
//
// The device is brought up lazily: the first channel write runs the MODE1 /
// PRESCALE sequence, after which every write is a single 5-byte transaction.
package pca9685

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// MinRestartDelay is the oscillator settle time required after leaving sleep.
const MinRestartDelay = 500 * time.Microsecond

// ErrChannel is returned for channel indexes outside 0-15.
var ErrChannel = errors.New("pca9685: invalid channel")

// Opts holds the device configuration.
type Opts struct {
	// Addr is the 7-bit bus address.
	Addr uint16
	// Oscillator is the internal clock of the chip.
	Oscillator physic.Frequency
	// Frequency is the PWM refresh rate.
	Frequency physic.Frequency
	// RestartDelay is raised to MinRestartDelay when shorter.
	RestartDelay time.Duration
	// Sleep blocks for the given duration. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultOpts matches the car board: address 0x41, 25MHz oscillator, 50Hz.
var DefaultOpts = Opts{
	Addr:         0x41,
	Oscillator:   25 * physic.MegaHertz,
	Frequency:    50 * physic.Hertz,
	RestartDelay: MinRestartDelay,
}

// Dev is a handle to one PCA9685.
type Dev struct {
	c    i2c.Dev
	opts Opts

	mu          sync.Mutex
	initialized bool
	prescale    byte
}

// NewI2C returns a handle to the device at opts.Addr on bus. No bus traffic is
// generated until the first write.
func NewI2C(bus i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.Addr == 0 {
		o.Addr = DefaultOpts.Addr
	}
	if o.Oscillator == 0 {
		o.Oscillator = DefaultOpts.Oscillator
	}
	if o.Frequency <= 0 {
		return nil, errors.Errorf("pca9685: invalid refresh rate %s", o.Frequency)
	}
	if o.RestartDelay < MinRestartDelay {
		o.RestartDelay = MinRestartDelay
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	p, err := PrescaleFor(o.Oscillator, o.Frequency)
	if err != nil {
		return nil, err
	}
	return &Dev{
		c:        i2c.Dev{Bus: bus, Addr: o.Addr},
		opts:     o,
		prescale: p,
	}, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("pca9685{%s}", &d.c)
}

// PrescaleFor computes the PRESCALE register value for the refresh rate,
// osc / (4096 * rate) - 1 with truncating integer division, clamped to the
// range accepted by the chip.
func PrescaleFor(osc, rate physic.Frequency) (byte, error) {
	hz := int64(rate / physic.Hertz)
	if hz <= 0 {
		return 0, errors.Errorf("pca9685: refresh rate %s below 1Hz", rate)
	}
	v := int64(osc/physic.Hertz)/(Steps*hz) - 1
	if v < prescaleMin {
		v = prescaleMin
	}
	if v > prescaleMax {
		v = prescaleMax
	}
	return byte(v), nil
}

// Prescale returns the value written to the PRESCALE register on Init.
func (d *Dev) Prescale() byte {
	return d.prescale
}

// Frequency returns the configured refresh rate.
func (d *Dev) Frequency() physic.Frequency {
	return d.opts.Frequency
}

// Initialized reports whether the init sequence has completed.
func (d *Dev) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Init runs the wake / prescale / restart sequence if it has not completed
// yet. A failure leaves the device uninitialized so the next call starts over.
func (d *Dev) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initLocked()
}

func (d *Dev) initLocked() error {
	if d.initialized {
		return nil
	}
	if err := d.writeReg(Mode1, 0); err != nil {
		return errors.Wrap(err, "pca9685: reset MODE1")
	}
	var older [1]byte
	if err := d.c.Tx([]byte{Mode1}, older[:]); err != nil {
		return errors.Wrap(err, "pca9685: read MODE1")
	}
	newer := (older[0] & wakeMask) | mode1Sleep
	if err := d.writeReg(Mode1, newer); err != nil {
		return errors.Wrap(err, "pca9685: enter sleep")
	}
	// PRESCALE is only writable while SLEEP is set.
	if err := d.writeReg(Prescale, d.prescale); err != nil {
		return errors.Wrap(err, "pca9685: write PRESCALE")
	}
	d.opts.Sleep(d.opts.RestartDelay)
	if err := d.writeReg(Mode1, older[0]|resumeBits); err != nil {
		return errors.Wrap(err, "pca9685: restart oscillator, device left asleep")
	}
	d.initialized = true
	return nil
}

// SetPWM sets the ON and OFF counters of one channel, or of all channels when
// ch is AllChannels.
func (d *Dev) SetPWM(ch Channel, on, off uint16) error {
	if !ch.Valid() {
		return errors.Wrapf(ErrChannel, "channel %d", ch)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.initLocked(); err != nil {
		return err
	}
	p := Encode(ch, on, off)
	if _, err := d.c.Write(p[:]); err != nil {
		return errors.Wrapf(err, "pca9685: write channel %d", ch)
	}
	return nil
}

// Duty holds the ON and OFF counters of one channel.
type Duty struct {
	On, Off uint16
}

// SetPWMRange writes consecutive channels, starting at first, in a single
// auto-increment transaction.
func (d *Dev) SetPWMRange(first Channel, duties []Duty) error {
	if len(duties) == 0 {
		return nil
	}
	last := first + Channel(len(duties)-1)
	if first < 0 || last >= NumChannels {
		return errors.Wrapf(ErrChannel, "channels %d-%d", first, last)
	}
	buf := make([]byte, 1, 1+LEDStride*len(duties))
	buf[0] = first.Register()
	for _, v := range duties {
		p := Encode(first, v.On, v.Off)
		buf = append(buf, p[1:]...)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.initLocked(); err != nil {
		return err
	}
	if _, err := d.c.Write(buf); err != nil {
		return errors.Wrapf(err, "pca9685: write channels %d-%d", first, last)
	}
	return nil
}

// SetAll sets every output at once through the ALL_LED registers.
func (d *Dev) SetAll(on, off uint16) error {
	return d.SetPWM(AllChannels, on, off)
}

// SetDuty drives ch high for duty steps at the start of each period.
func (d *Dev) SetDuty(ch Channel, duty uint16) error {
	return d.SetPWM(ch, 0, duty)
}

// Halt stops every output.
func (d *Dev) Halt() error {
	return d.SetAll(0, 0)
}

// Payload is the sub-address followed by ON_L, ON_H, OFF_L and OFF_H.
type Payload [5]byte

// Encode builds the register payload for a channel. Only the low 12 bits of
// on and off are significant.
func Encode(ch Channel, on, off uint16) Payload {
	return Payload{
		ch.Register(),
		byte(on & 0xFF),
		byte((on >> 8) & 0x0F),
		byte(off & 0xFF),
		byte((off >> 8) & 0x0F),
	}
}

func (d *Dev) writeReg(reg, v byte) error {
	_, err := d.c.Write([]byte{reg, v})
	return err
}
