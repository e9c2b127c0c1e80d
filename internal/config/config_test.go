package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"

	"github.com/coreman2200/funtimes-rovercar/car"
	"github.com/coreman2200/funtimes-rovercar/pca9685"
)

func TestDefault_MatchesCarCalibration(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	cc := c.CarConfig()
	d := car.DefaultConfig()
	assert.Equal(t, d.Motors, cc.Motors)
	assert.Equal(t, d.Lamps, cc.Lamps)
	assert.Equal(t, d.Servo, cc.Servo)
	assert.Equal(t, d.Sensors, cc.Sensors)

	o := c.PCA9685Opts()
	assert.Equal(t, uint16(0x41), o.Addr)
	assert.Equal(t, 50*physic.Hertz, o.Frequency)
	assert.Equal(t, 25*physic.MegaHertz, o.Oscillator)
	assert.Equal(t, pca9685.MinRestartDelay, o.RestartDelay)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovercar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
pca9685:
  addr: 0x40
  refresh_hz: 60
motors:
  min_duty: 1000
  settle: 250ms
lamps:
  dir_active_low: false
`), 0644))
	t.Setenv("ROVERCAR_SIM", "true")
	t.Setenv("ROVERCAR_MOTOR_SETTLE", "100ms")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Listen)
	assert.Equal(t, uint16(0x40), c.PCA9685.Addr)
	assert.Equal(t, int64(60), c.PCA9685.RefreshHz)
	assert.Equal(t, uint16(1000), c.Motors.MinDuty)
	assert.Equal(t, 100*time.Millisecond, c.Motors.Settle)
	assert.False(t, c.Lamps.DirActiveLow)
	assert.True(t, c.Sim)
	// untouched fields keep their defaults
	assert.Equal(t, 12, c.Motors.Left.Forward)
	assert.Equal(t, []int{3, 4, 5}, c.Servo.Joints)
}

func TestLoad_Rejects(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	for name, body := range map[string]string{
		"channel":  "lamps:\n  red: 16\n",
		"joints":   "servo:\n  joints: [3, 4]\n",
		"pulse":    "servo:\n  min_pulse: 2ms\n  max_pulse: 1ms\n",
		"address":  "pca9685:\n  addr: 0x90\n",
		"period":   "pca9685:\n  refresh_hz: 1000\n",
		"not yaml": "motors: [",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rovercar.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rovercar.yaml")
	c := Default()
	c.Lamps.FlashInterval = 300 * time.Millisecond
	require.NoError(t, Save(path, c))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}
