//go:build linux

package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	The emulator run loop.
 *
 * Description: One goroutine owns the UART and all protocol state.
 *		Each pass: read (bounded by the 30 ms port timeout),
 *		feed the frame codec - which may put a response on the
 *		wire from inside the header callback - then service the
 *		set-request queue and the clock driven transitions.
 *
 *		Outbound bus writes only ever happen in reaction to a
 *		received header, so we never compete with the CP Plus
 *		for bus time.
 *
 *		MQTT and monitor clients run on their own goroutines
 *		but only touch the protocol through the coordinator's
 *		bounded queue and the monitor's outbound fan-out.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"github.com/charmbracelet/log"
)

/*-------------------------------------------------------------------
 *
 * Name:        inetboxd_run
 *
 * Purpose:     Bring the whole stack up and run until shutdown.
 *
 * Returns:	nil after a requested shutdown; an error for the fatal
 *		cases (UART unavailable or dead) so main can exit
 *		non-zero and let the supervisor restart us.
 *
 *-----------------------------------------------------------------*/

func inetboxd_run(cfg *config_s, shutdown <-chan struct{}) error {

	var gpio, gpioErr = gpio_enable_open(&cfg.Transceiver_enable)
	if gpioErr != nil {
		return gpioErr
	}
	defer gpio.gpio_enable_close()

	var device = cfg.Device
	if device == "auto" {
		var discovered, err = serial_port_discover()
		if err != nil {
			return err
		}
		device = discovered
	}

	var sp, spErr = serial_port_open(device)
	if spErr != nil {
		return spErr
	}
	defer sp.serial_port_close()
	log.Info("LIN bus open", "device", device, "baud", LIN_BAUD, "nad", cfg.Nad)

	/* Write failures surface here and kill the loop; the response
	 * path itself has no useful way to recover. */
	var write_err error
	var write_fn = func(b []byte) {
		if err := sp.serial_port_write(b); err != nil && write_err == nil {
			write_err = err
		}
	}

	var store = buffer_store_new()
	var sv = slave_new(store, write_fn)
	sv.nad = cfg.Nad

	var mon *monitor_t
	if cfg.Monitor.Enabled {
		var err error
		mon, err = monitor_start(cfg.Monitor.Port)
		if err != nil {
			return err
		}
		defer mon.monitor_close()
		dns_sd_announce(cfg.Monitor.Name, cfg.Monitor.Port)
	}

	var cpt *capture_t
	if cfg.Capture.Enabled {
		var err error
		cpt, err = capture_new(cfg.Capture.Directory)
		if err != nil {
			return err
		}
		defer cpt.capture_close()
	}

	var mc *mqtt_client_t
	var publish = func(stream string, key string, value string) {
		mc.mqtt_publish(stream, key, value)
		mon.monitor_line(monitor_format_status(stream, key, value))
	}

	var co = coordinator_new(sv, store, cfg, publish)
	sv.status_fn = co.note_status

	if cfg.Mqtt.Broker != "" {
		var err error
		mc, err = mqtt_start(&cfg.Mqtt, co)
		if err != nil {
			return err
		}
		defer mc.mqtt_stop()
	}

	var fr = frame_receiver_new(
		sv.slave_header,
		func(id byte, data []byte) {
			var now = time.Now()
			sv.slave_frame(id, data, now)
			cpt.capture_frame(id, data, now)
			mon.monitor_line(monitor_format_frame(id, data))
		},
	)

	for {
		select {
		case <-shutdown:
			log.Info("shutting down")
			co.coordinator_drain(time.Now())
			return nil
		default:
		}

		var data, break_seen, err = sp.serial_port_read()
		if err != nil {
			return err
		}
		for i, b := range data {
			fr.frame_rec_byte(b, break_seen && i == 0)
		}
		if write_err != nil {
			return write_err
		}

		var now = time.Now()
		co.coordinator_drain(now)
		co.coordinator_tick(now)
		sv.tp.transport_check_timeout(now)
	}
}
