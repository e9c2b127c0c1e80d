package pca9685

// Register map of the PCA9685 as used by this driver.
const (
	Mode1    byte = 0x00
	LED0OnL  byte = 0x06
	AllOnL   byte = 0xFA
	Prescale byte = 0xFE

	// LEDStride is the number of registers per channel (ON_L, ON_H, OFF_L, OFF_H).
	LEDStride = 4
)

// MODE1 bits.
const (
	mode1Restart byte = 0x80
	mode1AI      byte = 0x20
	mode1Sleep   byte = 0x10
	mode1AllCall byte = 0x01

	// wakeMask clears RESTART and keeps the remaining bits when going to sleep.
	wakeMask = 0x7F
	// resumeBits clears SLEEP and sets AI, RESTART and ALLCALL.
	resumeBits = mode1Restart | mode1AI | mode1AllCall
)

const (
	// Steps is the number of counter steps in one PWM period.
	Steps = 4096
	// MaxDuty is the highest value representable in the 12-bit ON/OFF counters.
	MaxDuty = Steps - 1

	prescaleMin = 3
	prescaleMax = 0xFF
)

// Channel is one of the 16 PWM outputs, or AllChannels.
type Channel int

// AllChannels addresses the ALL_LED registers, updating every output at once.
const AllChannels Channel = -1

// NumChannels is the number of independent outputs on the chip.
const NumChannels = 16

// Valid reports whether c is an output index or the broadcast sentinel.
func (c Channel) Valid() bool {
	return c == AllChannels || (c >= 0 && c < NumChannels)
}

// Register returns the ON_L sub-address of the channel.
func (c Channel) Register() byte {
	if c == AllChannels {
		return AllOnL
	}
	return LED0OnL + byte(c)*LEDStride
}
