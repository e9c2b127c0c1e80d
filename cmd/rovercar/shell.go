package main

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/coreman2200/funtimes-rovercar/internal/ws"
)

type shellCmd struct {
	name  string
	help  string
	nargs int
	build func(args []string) (ws.Command, error)
}

func speed(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	return uint8(n), errors.Wrapf(err, "speed %q", s)
}

var shellCmds = []shellCmd{
	{"move", "move <forward|backward|left|right|stop> <speed>", 2, func(a []string) (ws.Command, error) {
		s, err := speed(a[1])
		return ws.Command{Cmd: "move", Dir: a[0], Speed: s}, err
	}},
	{"motor", "motor <left|right> <forward|backward> <speed>", 3, func(a []string) (ws.Command, error) {
		s, err := speed(a[2])
		return ws.Command{Cmd: "motor", Side: a[0], Dir: a[1], Speed: s}, err
	}},
	{"stop", "stop both motors", 0, func([]string) (ws.Command, error) {
		return ws.Command{Cmd: "stop"}, nil
	}},
	{"color", "color <name|#rrggbb|r,g,b>", 1, func(a []string) (ws.Command, error) {
		if strings.HasPrefix(a[0], "#") || strings.Contains(a[0], ",") {
			return ws.Command{Cmd: "color", RGB: a[0]}, nil
		}
		return ws.Command{Cmd: "color", Color: a[0]}, nil
	}},
	{"lampoff", "turn the main lamp off", 0, func([]string) (ws.Command, error) {
		return ws.Command{Cmd: "lamp_off"}, nil
	}},
	{"dirlamp", "dirlamp <left|forward|right> <on|off|0-255>", 2, func(a []string) (ws.Command, error) {
		switch a[1] {
		case "on", "off":
			return ws.Command{Cmd: "dir_lamp", Lamp: a[0], On: a[1] == "on"}, nil
		}
		n, err := strconv.ParseUint(a[1], 10, 8)
		if err != nil {
			return ws.Command{}, errors.Wrapf(err, "level %q", a[1])
		}
		l := uint8(n)
		return ws.Command{Cmd: "dir_lamp", Lamp: a[0], Level: &l}, nil
	}},
	{"flash", "flash [interval ms]", 0, func(a []string) (ws.Command, error) {
		cmd := ws.Command{Cmd: "flash"}
		if len(a) > 0 {
			n, err := strconv.Atoi(a[0])
			if err != nil {
				return cmd, errors.Wrapf(err, "interval %q", a[0])
			}
			cmd.Interval = n
		}
		return cmd, nil
	}},
	{"dirlampsoff", "stop flashing and turn the indicators off", 0, func([]string) (ws.Command, error) {
		return ws.Command{Cmd: "dir_lamps_off"}, nil
	}},
	{"servo", "servo <j2|j3|j4> <-90..90>", 2, func(a []string) (ws.Command, error) {
		n, err := strconv.Atoi(a[1])
		return ws.Command{Cmd: "servo", Joint: a[0], Angle: n}, errors.Wrapf(err, "angle %q", a[1])
	}},
	{"sensors", "read the sensors", 0, func([]string) (ws.Command, error) {
		return ws.Command{Cmd: "sensors"}, nil
	}},
	{"halt", "stop every output", 0, func([]string) (ws.Command, error) {
		return ws.Command{Cmd: "halt"}, nil
	}},
	{"selftest", "selftest <lamp_sweep|rgb_channels|servo_sweep|motor_pulse>", 1, func(a []string) (ws.Command, error) {
		return ws.Command{Cmd: "selftest", Test: a[0]}, nil
	}},
}

// parseShell turns one shell line into a command.
func parseShell(name string, args []string) (ws.Command, error) {
	for _, sc := range shellCmds {
		if sc.name != name {
			continue
		}
		if len(args) < sc.nargs {
			return ws.Command{}, errors.Errorf("usage: %s", sc.help)
		}
		return sc.build(args)
	}
	return ws.Command{}, errors.Errorf("unknown command %q", name)
}

func shell(c *cli.Context) error {
	r, err := open(c)
	if err != nil {
		return err
	}
	state := ws.NewState(r.car, r.cfg, r.sim)

	sh := ishell.New()
	sh.Println("Rovercar development shell")
	for _, sc := range shellCmds {
		name := sc.name
		sh.AddCmd(&ishell.Cmd{
			Name: name,
			Help: sc.help,
			Func: func(c *ishell.Context) {
				cmd, err := parseShell(name, c.Args)
				if err != nil {
					c.Err(err)
					return
				}
				res, err := state.Apply(cmd)
				if err != nil {
					c.Err(err)
					return
				}
				if res != nil {
					b, _ := json.MarshalIndent(res, "", "  ")
					c.Println(string(b))
				}
			},
		})
	}
	sh.Run()
	state.StopSelfTest()
	return r.Close()
}
