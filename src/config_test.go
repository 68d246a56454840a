package inetbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func write_config(t *testing.T, content string) string {
	var path = filepath.Join(t.TempDir(), "inetboxd.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func Test_config_defaults(t *testing.T) {
	var cfg, err = config_load("")
	assert.NoError(t, err)

	assert.Equal(t, DEFAULT_DEVICE, cfg.Device)
	assert.Equal(t, DEFAULT_NAD, cfg.Nad)
	assert.Equal(t, UPDATES_BUFFER_TIME_DEFAULT, cfg.updates_buffer_time())
	assert.Equal(t, "eco", cfg.Default_heating_mode)
	assert.Equal(t, 900, cfg.Default_el_power_level)
	assert.Equal(t, "truma", cfg.Mqtt.Topic_prefix)
	assert.False(t, cfg.Monitor.Enabled)
	assert.False(t, cfg.Capture.Enabled)
}

func Test_config_full(t *testing.T) {
	var path = write_config(t, `
device: auto
nad: 0x05
updates_buffer_time_ms: 500
default_heating_mode: high
default_el_power_level: 1800
timezone: Europe/Berlin
mqtt:
  broker: tcp://broker.local:1883
  username: rv
  password: hunter2
  topic_prefix: heater
monitor:
  enabled: true
  port: 9000
capture:
  enabled: true
  directory: /var/log/inetbox
transceiver_enable:
  chip: gpiochip0
  line: 17
`)

	var cfg, err = config_load(path)
	assert.NoError(t, err)

	assert.Equal(t, "auto", cfg.Device)
	assert.Equal(t, byte(0x05), cfg.Nad)
	assert.Equal(t, 500*time.Millisecond, cfg.updates_buffer_time())
	assert.Equal(t, "high", cfg.Default_heating_mode)
	assert.Equal(t, 1800, cfg.Default_el_power_level)
	assert.Equal(t, "Europe/Berlin", cfg.location().String())
	assert.Equal(t, "tcp://broker.local:1883", cfg.Mqtt.Broker)
	assert.Equal(t, "heater", cfg.Mqtt.Topic_prefix)
	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 9000, cfg.Monitor.Port)
	assert.Equal(t, "/var/log/inetbox", cfg.Capture.Directory)
	assert.Equal(t, "gpiochip0", cfg.Transceiver_enable.Chip)
	assert.Equal(t, 17, cfg.Transceiver_enable.Line)
}

func Test_config_boost_normalized(t *testing.T) {
	var cfg, err = config_load(write_config(t, "default_heating_mode: boost\n"))
	assert.NoError(t, err)
	assert.Equal(t, "high", cfg.Default_heating_mode)
}

func Test_config_rejects_bad_values(t *testing.T) {
	var cases = []string{
		"default_heating_mode: tepid\n",
		"default_el_power_level: 1500\n",
		"timezone: Mars/Olympus_Mons\n",
		"updates_buffer_time_ms: -1\n",
	}
	for _, content := range cases {
		var _, err = config_load(write_config(t, content))
		assert.Error(t, err, content)
	}
}

func Test_config_missing_file(t *testing.T) {
	var _, err = config_load("/nonexistent/inetboxd.yaml")
	assert.Error(t, err)
}
