package sim

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/model"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

func newDev(t *testing.T) (*Bus, *pca9685.Dev) {
	t.Helper()
	bus := NewBus(0x41)
	o := pca9685.DefaultOpts
	o.Sleep = func(time.Duration) {}
	d, err := pca9685.NewI2C(bus, &o)
	require.NoError(t, err)
	return bus, d
}

func TestBus_InitWakesDevice(t *testing.T) {
	bus, d := newDev(t)
	assert.True(t, bus.Asleep())
	require.NoError(t, d.Init())
	assert.False(t, bus.Asleep())
	assert.Equal(t, byte(121), bus.Register(pca9685.Prescale))
	assert.Equal(t, byte(0xA1), bus.Register(pca9685.Mode1))
	assert.Equal(t, 5, bus.Transactions())
}

func TestBus_PrescaleLockedWhileAwake(t *testing.T) {
	bus, d := newDev(t)
	require.NoError(t, d.Init())
	require.NoError(t, bus.Tx(0x41, []byte{pca9685.Prescale, 30}, nil))
	assert.Equal(t, byte(121), bus.Register(pca9685.Prescale))
}

func TestBus_ChannelsAndBroadcast(t *testing.T) {
	bus, d := newDev(t)
	require.NoError(t, d.SetPWM(3, 0, 296))
	require.NoError(t, d.SetPWM(15, 100, 50))
	on, off := bus.Channel(3)
	assert.Equal(t, uint16(0), on)
	assert.Equal(t, uint16(296), off)
	assert.Equal(t, uint16(296), bus.Duty(3))
	assert.Equal(t, uint16(4096-100+50), bus.Duty(15))

	require.NoError(t, d.Halt())
	for ch := pca9685.Channel(0); ch < pca9685.NumChannels; ch++ {
		assert.Equal(t, uint16(0), bus.Duty(ch), "channel %d", ch)
	}
}

func TestBus_AutoIncrementBlock(t *testing.T) {
	bus, d := newDev(t)
	require.NoError(t, d.SetPWMRange(6, []pca9685.Duty{{Off: 4095}, {Off: 4095}, {Off: 4095}}))
	for ch := pca9685.Channel(6); ch <= 8; ch++ {
		assert.Equal(t, uint16(4095), bus.Duty(ch), "channel %d", ch)
	}
	assert.Equal(t, uint16(0), bus.Duty(9))
	assert.Equal(t, 6, bus.Transactions())
}

func TestBus_WrongAddress(t *testing.T) {
	bus := NewBus(0x41)
	assert.Error(t, bus.Tx(0x40, []byte{0, 0}, nil))
	assert.Error(t, bus.Tx(0x41, nil, nil))
}

// The simulated device answers the exact init traffic the driver emits.
func TestBus_Record(t *testing.T) {
	bus := NewBus(0x41)
	rec := &i2ctest.Record{Bus: bus}
	o := pca9685.DefaultOpts
	o.Sleep = func(time.Duration) {}
	d, err := pca9685.NewI2C(rec, &o)
	require.NoError(t, err)
	require.NoError(t, d.SetDuty(0, 4095))

	require.Len(t, rec.Ops, 6)
	// the reset write cleared SLEEP before MODE1 was read back.
	assert.Equal(t, []byte{0x00}, rec.Ops[1].R)
	assert.Equal(t, []byte{pca9685.Mode1, 0xA1}, rec.Ops[4].W)
	assert.Equal(t, []byte{0x06, 0, 0, 0xFF, 0x0F}, rec.Ops[5].W)
}

type fakeDrawer struct {
	frames []image.Image
	halted bool
}

func (f *fakeDrawer) String() string          { return "fake" }
func (f *fakeDrawer) Halt() error             { f.halted = true; return nil }
func (f *fakeDrawer) ColorModel() color.Model { return color.NRGBAModel }
func (f *fakeDrawer) Bounds() image.Rectangle { return image.Rect(0, 0, 4, 1) }
func (f *fakeDrawer) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	f.frames = append(f.frames, src)
	return nil
}

func TestPreview(t *testing.T) {
	bus, d := newDev(t)
	c, err := car.New(d, nil)
	require.NoError(t, err)

	drawer := &fakeDrawer{}
	clk := clock.NewMock()
	p := NewPreview(bus, c.Config().Lamps)
	p.drawer, p.clk = drawer, clk
	p.Attach()

	require.NoError(t, c.SetMainLampColor(model.Cyan))
	require.NoError(t, c.SetDirLamp(model.ForwardLamp, true))
	// writes within the throttle interval are not drawn.
	require.Len(t, drawer.frames, 1)

	clk.Add(time.Second)
	require.NoError(t, p.Render())
	require.Len(t, drawer.frames, 2)
	im := drawer.frames[1].(*image.NRGBA)
	assert.Equal(t, color.NRGBA{R: 0, G: 0xFF, B: 0xFF, A: 0xFF}, im.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 0xFF, G: 0xBF, A: 0xFF}, im.NRGBAAt(2, 0))
	// the left lamp was never written, so its active-low output is lit.
	assert.Equal(t, uint8(0xFF), im.NRGBAAt(1, 0).R)

	require.NoError(t, p.Halt())
	assert.True(t, drawer.halted)
}
