package pca9685

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

const addr = 0x41

func initOps(older byte) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{Mode1, 0x00}},
		{Addr: addr, W: []byte{Mode1}, R: []byte{older}},
		{Addr: addr, W: []byte{Mode1, (older & 0x7F) | 0x10}},
		{Addr: addr, W: []byte{Prescale, 121}},
		{Addr: addr, W: []byte{Mode1, older | 0xA1}},
	}
}

func newDev(t *testing.T, bus *i2ctest.Playback, slept *[]time.Duration) *Dev {
	t.Helper()
	o := DefaultOpts
	o.Sleep = func(d time.Duration) { *slept = append(*slept, d) }
	d, err := NewI2C(bus, &o)
	require.NoError(t, err)
	return d
}

var TestPrescaleMatchesRefreshRate = []struct {
	Osc    physic.Frequency
	Rate   physic.Frequency
	Expect byte
}{
	{25 * physic.MegaHertz, 50 * physic.Hertz, 121},
	{25 * physic.MegaHertz, 60 * physic.Hertz, 100},
	{25 * physic.MegaHertz, 200 * physic.Hertz, 29},
	{25 * physic.MegaHertz, 1600 * physic.Hertz, 3},
	{25 * physic.MegaHertz, 5000 * physic.Hertz, 3},
	{25 * physic.MegaHertz, 24 * physic.Hertz, 253},
	{25 * physic.MegaHertz, 1 * physic.Hertz, 255},
}

func TestPrescaleFor(t *testing.T) {
	for _, v := range TestPrescaleMatchesRefreshRate {
		t.Run(v.Rate.String(), func(t *testing.T) {
			p, err := PrescaleFor(v.Osc, v.Rate)
			require.NoError(t, err)
			assert.Equal(t, v.Expect, p)
		})
	}
	_, err := PrescaleFor(25*physic.MegaHertz, 0)
	assert.Error(t, err)
}

func TestNewI2C_InvalidRate(t *testing.T) {
	o := DefaultOpts
	o.Frequency = 0
	_, err := NewI2C(&i2ctest.Playback{}, &o)
	assert.Error(t, err)
}

func TestNewI2C_RestartDelayFloor(t *testing.T) {
	var slept []time.Duration
	bus := &i2ctest.Playback{Ops: initOps(0)}
	o := DefaultOpts
	o.RestartDelay = 10 * time.Microsecond
	o.Sleep = func(d time.Duration) { slept = append(slept, d) }
	d, err := NewI2C(bus, &o)
	require.NoError(t, err)
	require.NoError(t, d.Init())
	assert.Equal(t, []time.Duration{MinRestartDelay}, slept)
	assert.NoError(t, bus.Close())
}

func TestInit_Sequence(t *testing.T) {
	for _, older := range []byte{0x00, 0x80, 0x0C, 0x11} {
		var slept []time.Duration
		bus := &i2ctest.Playback{Ops: initOps(older)}
		d := newDev(t, bus, &slept)

		require.NoError(t, d.Init())
		assert.True(t, d.Initialized())
		assert.Equal(t, []time.Duration{500 * time.Microsecond}, slept)
		assert.NoError(t, bus.Close())
	}
}

func TestInit_OnlyOnce(t *testing.T) {
	var slept []time.Duration
	ops := initOps(0)
	for i := 0; i < 5; i++ {
		ops = append(ops, i2ctest.IO{Addr: addr, W: []byte{0x06 + 4*3, 0, 0, 0x40, 0x06}})
	}
	bus := &i2ctest.Playback{Ops: ops}
	d := newDev(t, bus, &slept)

	assert.False(t, d.Initialized())
	for i := 0; i < 5; i++ {
		require.NoError(t, d.SetPWM(3, 0, 1600))
		require.NoError(t, d.Init())
	}
	assert.True(t, d.Initialized())
	assert.Len(t, slept, 1)
	assert.NoError(t, bus.Close())
}

// flakyBus refuses the Tx at index fail and forwards everything else.
type flakyBus struct {
	*i2ctest.Playback
	n    int
	fail int
}

func (f *flakyBus) Tx(a uint16, w, r []byte) error {
	defer func() { f.n++ }()
	if f.n == f.fail {
		return errors.New("nack")
	}
	return f.Playback.Tx(a, w, r)
}

func TestInit_FailureRetriesFromTop(t *testing.T) {
	var slept []time.Duration
	// the prescale write is refused once, so the sequence aborts before restart.
	ops := append([]i2ctest.IO{}, initOps(0)[:3]...)
	ops = append(ops, initOps(0)...)
	bus := &flakyBus{Playback: &i2ctest.Playback{Ops: ops}, fail: 3}
	o := DefaultOpts
	o.Sleep = func(d time.Duration) { slept = append(slept, d) }
	d, err := NewI2C(bus, &o)
	require.NoError(t, err)

	err = d.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRESCALE")
	assert.False(t, d.Initialized())
	assert.Empty(t, slept)

	require.NoError(t, d.Init())
	assert.True(t, d.Initialized())
	assert.Len(t, slept, 1)
	assert.NoError(t, bus.Close())
}

func TestSetPWM_Payload(t *testing.T) {
	var slept []time.Duration
	ops := append(initOps(0),
		i2ctest.IO{Addr: addr, W: []byte{0x06, 0x00, 0x00, 0xFF, 0x0F}},
		i2ctest.IO{Addr: addr, W: []byte{0x3A, 0x00, 0x00, 0x40, 0x06}},
		i2ctest.IO{Addr: addr, W: []byte{0xFA, 0x00, 0x00, 0x00, 0x00}},
		i2ctest.IO{Addr: addr, W: []byte{0x0A, 0x10, 0x01, 0xFE, 0x0F}},
	)
	bus := &i2ctest.Playback{Ops: ops}
	d := newDev(t, bus, &slept)

	require.NoError(t, d.SetDuty(0, MaxDuty))
	require.NoError(t, d.SetPWM(13, 0, 1600))
	require.NoError(t, d.Halt())
	require.NoError(t, d.SetPWM(1, 0x110, 4096|0x0FFE))
	assert.NoError(t, bus.Close())
}

func TestSetPWM_InvalidChannel(t *testing.T) {
	bus := &i2ctest.Playback{}
	d, err := NewI2C(bus, nil)
	require.NoError(t, err)

	for _, ch := range []Channel{16, -2, 100} {
		err := d.SetPWM(ch, 0, 100)
		assert.True(t, errors.Is(err, ErrChannel), "channel %d", ch)
	}
	assert.False(t, d.Initialized())
	assert.NoError(t, bus.Close())
}

func TestSetPWMRange(t *testing.T) {
	var slept []time.Duration
	ops := append(initOps(0),
		i2ctest.IO{Addr: addr, W: []byte{0x1E, 0, 0, 0xFF, 0x0F, 0, 0, 0xFF, 0x0F, 0, 0, 0, 0}},
	)
	bus := &i2ctest.Playback{Ops: ops}
	d := newDev(t, bus, &slept)

	require.NoError(t, d.SetPWMRange(6, []Duty{{0, MaxDuty}, {0, MaxDuty}, {}}))
	require.NoError(t, d.SetPWMRange(3, nil))
	for _, first := range []Channel{-1, 14} {
		err := d.SetPWMRange(first, []Duty{{}, {}, {}})
		assert.True(t, errors.Is(err, ErrChannel), "first %d", first)
	}
	assert.NoError(t, bus.Close())
}

func TestEncode(t *testing.T) {
	assert.Equal(t, Payload{0x06, 0, 0, 0x40, 0x06}, Encode(0, 0, 1600))
	assert.Equal(t, Payload{0x42, 0, 0, 0xFF, 0x0F}, Encode(15, 0, 0xFFFF))
	assert.Equal(t, Payload{0xFA, 0, 0, 0, 0}, Encode(AllChannels, 0, 0))
	assert.Equal(t, byte(0x06+4*8), Channel(8).Register())
}
