package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/internal/config"
	"github.com/coreman2200/funtimes-rovercar/internal/pins"
	"github.com/coreman2200/funtimes-rovercar/internal/selftest"
	"github.com/coreman2200/funtimes-rovercar/internal/sim"
	"github.com/coreman2200/funtimes-rovercar/internal/ws"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

func main() {
	app := &cli.App{
		Name:  "rovercar",
		Usage: "drive the car's motors, lamps and servos through a PCA9685",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"ROVERCAR_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "force simulation (no hardware output)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			zerolog.TimeFieldFormat = time.RFC3339
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if c.Bool("debug") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the HTTP and websocket control surface",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "HTTP listen address, overrides the config"},
				},
				Action: serve,
			},
			{
				Name:   "shell",
				Usage:  "drive the car from an interactive shell",
				Action: shell,
			},
			{
				Name:      "selftest",
				Usage:     "step the outputs through test plans",
				ArgsUsage: "[plan...]",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "interval", Value: 500 * time.Millisecond, Usage: "delay between steps"},
				},
				Action: runSelfTest,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("rovercar")
	}
}

// rig is an opened car with everything it holds.
type rig struct {
	cfg  *config.Config
	car  *car.Car
	sim  bool
	bus  i2c.BusCloser
	pins *pins.Set
}

func (r *rig) Close() error {
	err := r.car.Close()
	if r.pins != nil {
		err = multierr.Append(err, r.pins.Close())
	}
	return multierr.Append(err, r.bus.Close())
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("config not found; using defaults")
		cfg, err = config.Load("")
	}
	if err != nil {
		return nil, err
	}
	if c.Bool("sim") {
		cfg.Sim = true
	}
	return cfg, nil
}

// open binds the car to the configured I2C bus, or to the simulator when
// asked to or when no bus can be opened.
func open(c *cli.Context) (*rig, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	r := &rig{cfg: cfg, sim: cfg.Sim}
	if !r.sim {
		if _, err := host.Init(); err != nil {
			log.Warn().Err(err).Msg("host init failed; falling back to SIM")
			r.sim = true
		} else if b, err := i2creg.Open(cfg.PCA9685.Bus); err != nil {
			log.Warn().Err(err).Str("bus", cfg.PCA9685.Bus).Msg("I2C open failed; falling back to SIM")
			r.sim = true
		} else {
			r.bus = b
		}
	}
	var preview *sim.Preview
	if r.sim {
		sb := sim.NewBus(cfg.PCA9685.Addr)
		preview = sim.NewPreview(sb, cfg.CarConfig().Lamps)
		r.bus = sb
	}

	dev, err := pca9685.NewI2C(r.bus, cfg.PCA9685Opts())
	if err != nil {
		return nil, multierr.Append(err, r.bus.Close())
	}
	cc := cfg.CarConfig()
	if !r.sim {
		if r.pins, err = pins.Open(cfg.Sensors, r.bus); err != nil {
			log.Warn().Err(err).Msg("sensors unavailable")
		} else {
			cc.Pins = r.pins.Pins
		}
	}
	if r.car, err = car.New(dev, &cc); err != nil {
		return nil, multierr.Append(err, r.bus.Close())
	}
	if preview != nil {
		preview.Attach()
	}
	log.Info().Stringer("device", dev).Uint8("prescale", dev.Prescale()).Bool("sim", r.sim).Msg("car ready")
	return r, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func serve(c *cli.Context) error {
	r, err := open(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Warn().Err(err).Msg("shutdown")
		}
	}()

	state := ws.NewState(r.car, r.cfg, r.sim)
	state.ConfigPath = c.String("config")
	addr := r.cfg.Listen
	if a := c.String("addr"); a != "" {
		addr = a
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      state.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Bool("sim", r.sim).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	state.StopSelfTest()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

func runSelfTest(c *cli.Context) error {
	kinds := selftest.Kinds
	if c.Args().Present() {
		kinds = nil
		for _, a := range c.Args().Slice() {
			k, ok := selftest.ParseKind(a)
			if !ok {
				return errors.Errorf("unknown plan %q", a)
			}
			kinds = append(kinds, k)
		}
	}
	r, err := open(c)
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()
	for _, k := range kinds {
		if err = selftest.Run(ctx, r.car, k, c.Duration("interval"), nil); err != nil {
			break
		}
	}
	return multierr.Append(err, r.Close())
}
