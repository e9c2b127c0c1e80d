package sim

import (
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/display"
	"periph.io/x/extra/devices/screen"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

// Preview draws the lamps of a simulated car: the main lamp followed by the
// left, forward and right indicators.
type Preview struct {
	bus   *Bus
	lamps car.LampConfig
	clk   clock.Clock

	mu       sync.Mutex
	drawer   display.Drawer
	throttle time.Duration
	lastEmit time.Time
}

// NewPreview returns a preview printing to the console. Call Attach to
// redraw on every bus write.
func NewPreview(bus *Bus, lamps car.LampConfig) *Preview {
	return &Preview{
		bus:      bus,
		lamps:    lamps,
		clk:      clock.New(),
		drawer:   screen.New(4),
		throttle: 50 * time.Millisecond,
	}
}

// Attach redraws after every write to the bus.
func (p *Preview) Attach() {
	p.bus.OnWrite(func() {
		if err := p.Render(); err != nil {
			log.Debug().Err(err).Msg("preview")
		}
	})
}

func level(duty uint16) uint8 {
	if duty >= pca9685.MaxDuty {
		return 0xFF
	}
	return uint8(duty >> 4)
}

// Image returns the current lamp colors, one pixel per lamp.
func (p *Preview) Image() *image.NRGBA {
	im := image.NewNRGBA(image.Rect(0, 0, 4, 1))
	im.SetNRGBA(0, 0, color.NRGBA{
		R: level(p.bus.Duty(p.lamps.Red)),
		G: level(p.bus.Duty(p.lamps.Green)),
		B: level(p.bus.Duty(p.lamps.Blue)),
		A: 0xFF,
	})
	for i, ch := range []pca9685.Channel{p.lamps.Left, p.lamps.Forward, p.lamps.Right} {
		d := p.bus.Duty(ch)
		if p.lamps.DirActiveLow {
			d = pca9685.MaxDuty - d
		}
		l := level(d)
		// amber
		im.SetNRGBA(i+1, 0, color.NRGBA{R: l, G: uint8(uint16(l) * 3 / 4), A: 0xFF})
	}
	return im
}

// Render draws the lamps unless the last frame is more recent than the
// throttle interval.
func (p *Preview) Render() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	if !p.lastEmit.IsZero() && p.lastEmit.Add(p.throttle).After(now) {
		return nil
	}
	p.lastEmit = now
	return p.drawer.Draw(p.drawer.Bounds(), p.Image(), image.Point{})
}

// Halt blanks the preview.
func (p *Preview) Halt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drawer.Halt()
}
