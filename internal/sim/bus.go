// Package sim emulates a PCA9685 on an in-memory I2C bus so the car can run
// without hardware.
package sim

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

const (
	mode1AutoInc = 0x20
	mode1Sleep   = 0x10
	regCount     = 256
)

// Bus is an i2c.Bus with a single PCA9685 register file behind Addr.
type Bus struct {
	Addr uint16

	mu    sync.Mutex
	regs  [regCount]byte
	txs   int
	watch []func()
}

var _ i2c.Bus = (*Bus)(nil)

// NewBus returns a bus with a powered-up device at addr: MODE1 asleep and
// the prescaler at its reset value.
func NewBus(addr uint16) *Bus {
	b := &Bus{Addr: addr}
	b.regs[pca9685.Mode1] = mode1Sleep
	b.regs[pca9685.Prescale] = 0x1E
	return b
}

func (b *Bus) String() string {
	return fmt.Sprintf("sim-i2c(%#x)", b.Addr)
}

func (b *Bus) SetSpeed(f physic.Frequency) error {
	return nil
}

func (b *Bus) Close() error {
	return nil
}

// Tx writes w starting at the register in w[0], then reads len(r) bytes from
// that register.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr != b.Addr {
		return errors.Errorf("sim: no device at %#x", addr)
	}
	if len(w) == 0 {
		return errors.New("sim: missing register address")
	}
	b.mu.Lock()
	b.txs++
	reg := int(w[0])
	for i, v := range w[1:] {
		b.store(b.next(reg, i), v)
	}
	for i := range r {
		r[i] = b.regs[b.next(reg, i)]
	}
	fns := b.watch
	b.mu.Unlock()
	if len(w) > 1 {
		for _, fn := range fns {
			fn()
		}
	}
	return nil
}

func (b *Bus) next(reg, i int) int {
	if b.regs[pca9685.Mode1]&mode1AutoInc == 0 {
		return reg
	}
	return (reg + i) % regCount
}

func (b *Bus) store(reg int, v byte) {
	switch {
	case reg == int(pca9685.Prescale):
		// only writable while the oscillator is off.
		if b.regs[pca9685.Mode1]&mode1Sleep == 0 {
			return
		}
	case reg >= int(pca9685.AllOnL) && reg < int(pca9685.AllOnL)+pca9685.LEDStride:
		off := reg - int(pca9685.AllOnL)
		for ch := 0; ch < pca9685.NumChannels; ch++ {
			b.regs[int(pca9685.LED0OnL)+ch*pca9685.LEDStride+off] = v
		}
	}
	b.regs[reg] = v
}

// OnWrite registers fn to be called after every write transaction.
func (b *Bus) OnWrite(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watch = append(b.watch, fn)
}

// Register returns the current value of one register.
func (b *Bus) Register(reg byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[reg]
}

// Channel returns the ON and OFF counters of ch.
func (b *Bus) Channel(ch pca9685.Channel) (on, off uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	base := int(ch.Register())
	on = uint16(b.regs[base]) | uint16(b.regs[base+1]&0x0F)<<8
	off = uint16(b.regs[base+2]) | uint16(b.regs[base+3]&0x0F)<<8
	return on, off
}

// Duty returns how many of the 4096 steps ch is driven high.
func (b *Bus) Duty(ch pca9685.Channel) uint16 {
	on, off := b.Channel(ch)
	if off >= on {
		return off - on
	}
	return pca9685.Steps - on + off
}

// Asleep reports whether the oscillator is stopped.
func (b *Bus) Asleep() bool {
	return b.Register(pca9685.Mode1)&mode1Sleep != 0
}

// Transactions returns the number of transactions addressed to the device.
func (b *Bus) Transactions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.txs
}
