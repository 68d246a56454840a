package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Runtime configuration, from a YAML file.
 *
 * Description: Everything has a sensible default; an empty file (or
 *		none at all) gives a working emulator on /dev/ttyUSB0
 *		with no MQTT, no monitor and no capture.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const DEFAULT_DEVICE = "/dev/ttyUSB0"

type mqtt_config_s struct {
	Broker       string `yaml:"broker"` /* e.g. tcp://192.168.1.10:1883; empty disables MQTT. */
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Topic_prefix string `yaml:"topic_prefix"`
}

type monitor_config_s struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Name    string `yaml:"name"` /* DNS-SD instance name; hostname based if empty. */
}

type capture_config_s struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
}

type gpio_config_s struct {
	Chip string `yaml:"chip"` /* e.g. gpiochip0; empty disables. */
	Line int    `yaml:"line"`
}

type config_s struct {
	Device string `yaml:"device"` /* Path, or "auto" for udev discovery. */
	Nad    byte   `yaml:"nad"`

	Updates_buffer_time_ms int    `yaml:"updates_buffer_time_ms"`
	Default_heating_mode   string `yaml:"default_heating_mode"`
	Default_el_power_level int    `yaml:"default_el_power_level"`
	Timezone               string `yaml:"timezone"`

	Mqtt               mqtt_config_s    `yaml:"mqtt"`
	Monitor            monitor_config_s `yaml:"monitor"`
	Capture            capture_config_s `yaml:"capture"`
	Transceiver_enable gpio_config_s    `yaml:"transceiver_enable"`
}

func config_default() *config_s {
	return &config_s{
		Device:                 DEFAULT_DEVICE,
		Nad:                    DEFAULT_NAD,
		Updates_buffer_time_ms: int(UPDATES_BUFFER_TIME_DEFAULT / time.Millisecond),
		Default_heating_mode:   "eco",
		Default_el_power_level: 900,
		Mqtt:                   mqtt_config_s{Topic_prefix: "truma"},
		Monitor:                monitor_config_s{Port: 8472},
		Capture:                capture_config_s{Directory: "."},
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        config_load
 *
 * Purpose:     Read and validate a configuration file.  A missing
 *		path ("" argument) just returns the defaults.
 *
 *-----------------------------------------------------------------*/

func config_load(path string) (*config_s, error) {
	var cfg = config_default()
	if path == "" {
		return cfg, nil
	}

	var data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	switch cfg.Default_heating_mode {
	case "off", "eco", "high":
	case "boost":
		cfg.Default_heating_mode = "high"
	default:
		return nil, fmt.Errorf("default_heating_mode must be off, eco or high, got %q", cfg.Default_heating_mode)
	}
	switch cfg.Default_el_power_level {
	case 900, 1800:
	default:
		return nil, fmt.Errorf("default_el_power_level must be 900 or 1800, got %d", cfg.Default_el_power_level)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}
	if cfg.Updates_buffer_time_ms <= 0 {
		return nil, fmt.Errorf("updates_buffer_time_ms must be positive, got %d", cfg.Updates_buffer_time_ms)
	}

	return cfg, nil
}

func (cfg *config_s) updates_buffer_time() time.Duration {
	return time.Duration(cfg.Updates_buffer_time_ms) * time.Millisecond
}

func (cfg *config_s) location() *time.Location {
	if cfg.Timezone == "" {
		return time.Local
	}
	var loc, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		/* Already validated at load; belt and braces for tests. */
		log.Warn("timezone fallback to local", "tz", cfg.Timezone, "err", err)
		return time.Local
	}
	return loc
}
