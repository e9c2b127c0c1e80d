package model

import "strings"

// Side selects a motor or a bottom line sensor.
type Side uint8

const (
	Left Side = iota
	Right
)

// Direction is the rotation of a single motor.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// CarDir is a whole-car movement. The zero value stops the car.
type CarDir uint8

const (
	Stop CarDir = iota
	MoveForward
	TurnLeft
	TurnRight
	MoveBackward
)

// DirLamp is one of the three directional indicator lamps.
type DirLamp uint8

const (
	LeftLamp DirLamp = iota
	ForwardLamp
	RightLamp
)

// DirLamps lists the indicator lamps in marquee order.
var DirLamps = []DirLamp{LeftLamp, ForwardLamp, RightLamp}

// Joint identifies a servo joint.
type Joint uint8

const (
	J2 Joint = iota
	J3
	J4
)

// LineStyle is the color of the line followed by the bottom sensors.
type LineStyle uint8

const (
	BlackLine LineStyle = iota
	WhiteLine
)

var (
	sideNames      = []string{"left", "right"}
	directionNames = []string{"forward", "backward"}
	carDirNames    = []string{"stop", "forward", "left", "right", "backward"}
	dirLampNames   = []string{"left", "forward", "right"}
	jointNames     = []string{"j2", "j3", "j4"}
	lineStyleNames = []string{"black", "white"}
)

func name(names []string, i uint8) string {
	if int(i) < len(names) {
		return names[i]
	}
	return "unknown"
}

func lookup(names []string, s string) (uint8, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return uint8(i), true
		}
	}
	return 0, false
}

func (s Side) String() string      { return name(sideNames, uint8(s)) }
func (d Direction) String() string { return name(directionNames, uint8(d)) }
func (d CarDir) String() string    { return name(carDirNames, uint8(d)) }
func (l DirLamp) String() string   { return name(dirLampNames, uint8(l)) }
func (j Joint) String() string     { return name(jointNames, uint8(j)) }
func (l LineStyle) String() string { return name(lineStyleNames, uint8(l)) }

// ParseSide accepts "left" or "right".
func ParseSide(s string) (Side, bool) {
	v, ok := lookup(sideNames, s)
	return Side(v), ok
}

// ParseDirection accepts "forward" or "backward".
func ParseDirection(s string) (Direction, bool) {
	v, ok := lookup(directionNames, s)
	return Direction(v), ok
}

// ParseCarDir never fails: anything unrecognized is Stop.
func ParseCarDir(s string) CarDir {
	v, ok := lookup(carDirNames, s)
	if !ok {
		return Stop
	}
	return CarDir(v)
}

// ParseDirLamp accepts "left", "forward" or "right".
func ParseDirLamp(s string) (DirLamp, bool) {
	v, ok := lookup(dirLampNames, s)
	return DirLamp(v), ok
}

// ParseJoint accepts "j2", "j3" or "j4".
func ParseJoint(s string) (Joint, bool) {
	v, ok := lookup(jointNames, s)
	return Joint(v), ok
}

// ParseLineStyle accepts "black" or "white".
func ParseLineStyle(s string) (LineStyle, bool) {
	v, ok := lookup(lineStyleNames, s)
	return LineStyle(v), ok
}

// MotorCommand drives one motor.
type MotorCommand struct {
	Side      Side
	Direction Direction
	Speed     uint8
}

// MoveCommand drives the whole car.
type MoveCommand struct {
	Dir   CarDir
	Speed uint8
}

// ServoCommand positions one joint, in degrees from -90 to 90.
type ServoCommand struct {
	Joint Joint
	Angle int
}
