package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Update coordinator.  Collects user set-requests,
 *		validates them, batches them for a short debounce
 *		window, then stages one control buffer for the master
 *		to pull.
 *
 * Description: Lifecycle:
 *
 *		  idle -> waiting_commit -> waiting_truma -> idle
 *
 *		with a side exit to waiting_for_cp_plus when the
 *		debounce expires while the CP Plus has not been heard
 *		from recently.  The CP Plus is considered online while
 *		at least one valid 0x20-class broadcast arrived within
 *		the last 30 seconds.
 *
 *		All of this runs on the protocol goroutine.  Requests
 *		from other goroutines (MQTT, tests) enter through a
 *		bounded channel drained between bus events, so no state
 *		here needs a lock.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

var ErrBadKey = errors.New("unknown setting")
var ErrBadValue = errors.New("value out of domain")
var ErrConflict = errors.New("settings conflict")

const UPDATES_BUFFER_TIME_DEFAULT = 1 * time.Second
const TRUMA_PULL_WARN = 10 * time.Second
const CP_PLUS_ONLINE_WINDOW = 30 * time.Second

const SET_QUEUE_DEPTH = 64

type update_state_e int

const (
	US_IDLE update_state_e = iota
	US_WAITING_COMMIT
	US_WAITING_CP_PLUS
	US_WAITING_TRUMA
)

var UPDATE_STATE_NAMES = map[update_state_e]string{
	US_IDLE:            "idle",
	US_WAITING_COMMIT:  "waiting_commit",
	US_WAITING_CP_PLUS: "waiting_for_cp_plus",
	US_WAITING_TRUMA:   "waiting_truma",
}

type set_request_t struct {
	key   string
	value string
}

type coordinator_t struct {
	sv    *slave_t
	store *buffer_store_t

	debounce         time.Duration
	default_heating  uint64 /* Raw heating_mode applied when a room target arrives alone. */
	default_el_power uint64 /* Raw el_power_level applied when an energy mix arrives alone. */
	location         *time.Location

	state update_state_e

	/* Raw field overlays accumulated for the next control / clock
	 * buffer.  Keys are schema field names. */
	pending       map[string]uint64
	pending_clock map[string]uint64

	/* Last decoded display values, for interdependency checks. */
	current map[string]string

	commit_deadline time.Time
	truma_deadline  time.Time
	truma_warned    bool

	last_master time.Time
	cp_online   bool

	requests chan set_request_t

	/* publish_fn emits one value on one telemetry stream:
	 * ("update_status", "", v), ("error", key, reason), ... */
	publish_fn func(stream string, key string, value string)
}

func coordinator_new(sv *slave_t, store *buffer_store_t, cfg *config_s, publish_fn func(string, string, string)) *coordinator_t {
	var co = &coordinator_t{
		sv:               sv,
		store:            store,
		debounce:         cfg.updates_buffer_time(),
		default_heating:  enum_raw(ENUM_HEATING_MODE, cfg.Default_heating_mode, 1),
		default_el_power: uint64(cfg.Default_el_power_level),
		location:         cfg.location(),
		pending:          make(map[string]uint64),
		pending_clock:    make(map[string]uint64),
		current:          make(map[string]string),
		requests:         make(chan set_request_t, SET_QUEUE_DEPTH),
		publish_fn:       publish_fn,
	}

	sv.master_seen_fn = co.master_seen
	sv.sent_fn = co.update_sent

	return co
}

func enum_raw(enum map[uint64]string, name string, fallback uint64) uint64 {
	for raw, n := range enum {
		if n == name {
			return raw
		}
	}
	return fallback
}

/*-------------------------------------------------------------------
 *
 * Name:        coordinator_submit
 *
 * Purpose:     Hand a set-request to the protocol goroutine.  Called
 *		from the MQTT callback (or a test); blocks briefly if
 *		the queue is full rather than losing the request.
 *
 *-----------------------------------------------------------------*/

func (co *coordinator_t) coordinator_submit(key string, value string) {
	co.requests <- set_request_t{key: key, value: value}
}

// coordinator_drain applies everything queued.  Protocol goroutine only.
func (co *coordinator_t) coordinator_drain(now time.Time) {
	for {
		select {
		case req := <-co.requests:
			co.apply(req.key, req.value, now)
		default:
			return
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        apply
 *
 * Purpose:     Validate one set-request and fold it into the pending
 *		maps.  A rejected setting emits on the error stream and
 *		changes nothing.
 *
 *-----------------------------------------------------------------*/

func (co *coordinator_t) apply(key string, value string, now time.Time) {
	var overlay, clock, err = co.validate(key, value)
	if err != nil {
		log.Error("set rejected", "key", key, "value", value, "err", err)
		if co.publish_fn != nil {
			co.publish_fn("error", key, err.Error())
		}
		return
	}

	for k, v := range overlay {
		co.pending[k] = v
	}
	for k, v := range clock {
		co.pending_clock[k] = v
	}

	switch co.state {
	case US_IDLE, US_WAITING_COMMIT:
		co.commit_deadline = now.Add(co.debounce)
		co.set_state(US_WAITING_COMMIT)
	case US_WAITING_TRUMA:
		/* The master has not pulled the previous batch yet.  Fold
		 * the new values in and restage after a fresh debounce;
		 * slave_stage_update replaces the staged buffer. */
		co.commit_deadline = now.Add(co.debounce)
		co.set_state(US_WAITING_COMMIT)
	case US_WAITING_CP_PLUS:
		/* Held already; the new values join the held batch. */
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        validate
 *
 * Purpose:     Domain and interdependency checks for one setting.
 *
 * Returns:	Raw overlays for the control schema and for the clock
 *		schema.  Interdependent companions (default heating
 *		mode, default electric power) ride along in the same
 *		overlay.
 *
 *-----------------------------------------------------------------*/

func (co *coordinator_t) validate(key string, value string) (map[string]uint64, map[string]uint64, error) {
	var overlay = make(map[string]uint64)
	var clock = make(map[string]uint64)

	switch key {

	case "target_temp_room":
		var c, err = strconv.ParseFloat(value, 64)
		if err != nil || c != math.Trunc(c) || (c != 0 && (c < 5 || c > 30)) {
			return nil, nil, fmt.Errorf("%w: target_temp_room must be 0 or 5..30, got %q", ErrBadValue, value)
		}
		var raw, _ = temp_parse(value)
		overlay["target_temp_room"] = raw
		if c > 0 && co.effective("heating_mode", overlay) == "off" {
			overlay["heating_mode"] = co.default_heating
		}

	case "target_temp_water":
		var c, err = strconv.ParseFloat(value, 64)
		if err != nil || (c != 0 && c != 40 && c != 60 && c != 200) {
			return nil, nil, fmt.Errorf("%w: target_temp_water must be one of 0, 40, 60, 200, got %q", ErrBadValue, value)
		}
		var raw, _ = temp_parse(value)
		overlay["target_temp_water"] = raw

	case "heating_mode":
		if value == "boost" {
			value = "high"
		}
		var raw, err = schema_field(SCHEMA_CONTROL, "heating_mode").parse(value)
		if err != nil {
			return nil, nil, err
		}
		overlay["heating_mode"] = raw
		if raw == 0 {
			/* Heating off implies no room target; a nonzero target
			 * with the mode off is not a state the CP Plus accepts. */
			overlay["target_temp_room"] = 0
		}

	case "energy_mix":
		var raw, err = schema_field(SCHEMA_CONTROL, "energy_mix").parse(value)
		if err != nil {
			return nil, nil, err
		}
		overlay["energy_mix"] = raw
		if raw != 0 && co.effective_power(overlay) == 0 {
			overlay["el_power_level"] = co.default_el_power
		}

	case "el_power_level":
		var v, err = strconv.ParseUint(value, 10, 16)
		if err != nil || (v != 0 && v != 900 && v != 1800) {
			return nil, nil, fmt.Errorf("%w: el_power_level must be one of 0, 900, 1800, got %q", ErrBadValue, value)
		}
		overlay["el_power_level"] = v
		if v > 0 && co.effective("energy_mix", overlay) == "none" {
			overlay["energy_mix"] = enum_raw(ENUM_ENERGY_MIX, "electricity", 2)
		}
		if v == 0 && co.effective("energy_mix", overlay) != "none" {
			return nil, nil, fmt.Errorf("%w: el_power_level 0 while energy_mix is %s", ErrConflict, co.effective("energy_mix", overlay))
		}

	case "mode":
		switch value {
		case "off":
			overlay["heating_mode"] = 0
			overlay["target_temp_room"] = 0
		case "heat":
			overlay["heating_mode"] = co.default_heating
		default:
			return nil, nil, fmt.Errorf("%w: mode must be off or heat, got %q", ErrBadValue, value)
		}

	case "wall_time_hours", "wall_time_minutes", "wall_time_seconds":
		var limit uint64 = 59
		if key == "wall_time_hours" {
			limit = 23
		}
		var v, err = strconv.ParseUint(value, 10, 8)
		if err != nil || v > limit {
			return nil, nil, fmt.Errorf("%w: %s must be 0..%d, got %q", ErrBadValue, key, limit, value)
		}
		clock[key] = v/10<<4 | v%10

	case "wall_time":
		if value != "now" {
			return nil, nil, fmt.Errorf("%w: wall_time only accepts \"now\", got %q", ErrBadValue, value)
		}
		var t = time.Now().In(co.location)
		clock["wall_time_hours"] = bcd(t.Hour())
		clock["wall_time_minutes"] = bcd(t.Minute())
		clock["wall_time_seconds"] = bcd(t.Second())

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrBadKey, key)
	}

	return overlay, clock, nil
}

func bcd(v int) uint64 {
	return uint64(v/10<<4 | v%10)
}

/* effective is the value a field will have after the pending overlay
 * plus this request's overlay: overlay, then pending, then the last
 * decoded display value. */

func (co *coordinator_t) effective(name string, overlay map[string]uint64) string {
	var f = schema_field(SCHEMA_CONTROL, name)
	if raw, ok := overlay[name]; ok {
		return f.render(raw)
	}
	if raw, ok := co.pending[name]; ok {
		return f.render(raw)
	}
	if v, ok := co.current[name]; ok {
		return v
	}
	switch name {
	case "heating_mode":
		return "off"
	case "energy_mix":
		return "none"
	}
	return ""
}

func (co *coordinator_t) effective_power(overlay map[string]uint64) uint64 {
	if raw, ok := overlay["el_power_level"]; ok {
		return raw
	}
	if raw, ok := co.pending["el_power_level"]; ok {
		return raw
	}
	if v, ok := co.current["el_power_level"]; ok {
		var n, _ = strconv.ParseUint(v, 10, 16)
		return n
	}
	return 0
}

/*-------------------------------------------------------------------
 *
 * Name:        coordinator_tick
 *
 * Purpose:     Clock-driven transitions, checked on every pass of the
 *		protocol loop: the CP Plus online window, the debounce
 *		expiry, and the pull watchdog.
 *
 *-----------------------------------------------------------------*/

func (co *coordinator_t) coordinator_tick(now time.Time) {
	var online = !co.last_master.IsZero() && now.Sub(co.last_master) <= CP_PLUS_ONLINE_WINDOW
	if online != co.cp_online {
		co.cp_online = online
		log.Info("CP Plus status", "online", online)
		if co.publish_fn != nil {
			co.publish_fn("cp_plus_status", "", co.cp_plus_status())
		}
	}

	switch co.state {

	case US_WAITING_COMMIT:
		if now.Before(co.commit_deadline) {
			return
		}
		if !co.cp_online {
			co.set_state(US_WAITING_CP_PLUS)
			return
		}
		co.commit(now)

	case US_WAITING_CP_PLUS:
		if co.cp_online {
			co.commit(now)
		}

	case US_WAITING_TRUMA:
		if !co.truma_warned && now.After(co.truma_deadline) {
			co.truma_warned = true
			log.Warn("CP Plus has not pulled the staged update", "waited", TRUMA_PULL_WARN)
			/* update_pending stays asserted; the master drives timing. */
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        commit
 *
 * Purpose:     Debounce complete: build the outbound buffers and hand
 *		them to the slave, which raises the 0x18 bit.
 *
 *-----------------------------------------------------------------*/

func (co *coordinator_t) commit(now time.Time) {
	if len(co.pending) > 0 {
		var buf = co.store.buffer_encode(SCHEMA_CONTROL, co.pending)
		co.sv.slave_stage_update(buf)
		co.publish_control(buf)
	}
	if len(co.pending_clock) > 0 {
		co.sv.slave_stage_update(co.store.buffer_encode(SCHEMA_CLOCK, co.pending_clock))
	}
	co.truma_deadline = now.Add(TRUMA_PULL_WARN)
	co.truma_warned = false
	co.set_state(US_WAITING_TRUMA)
}

func (co *coordinator_t) publish_control(buf []byte) {
	if co.publish_fn == nil {
		return
	}
	var payload = buf[BUFFER_HEADER_LEN:]
	for i := range SCHEMA_CONTROL.fields {
		var f = &SCHEMA_CONTROL.fields[i]
		co.publish_fn("control_status", f.name, f.render(get_bits(payload, f)))
	}
}

/* update_sent: the master pulled everything we staged. */

func (co *coordinator_t) update_sent() {
	clear(co.pending)
	clear(co.pending_clock)
	co.set_state(US_IDLE)
}

/* note_status taps decoded inbound statuses for the telemetry streams
 * and keeps the current view used by interdependency checks. */

func (co *coordinator_t) note_status(stream string, values map[string]string) {
	if stream == "display_status" {
		for k, v := range values {
			co.current[k] = v
		}
	}
	if co.publish_fn != nil {
		for k, v := range values {
			co.publish_fn(stream, k, v)
		}
	}
}

func (co *coordinator_t) master_seen(now time.Time) {
	co.last_master = now
}

func (co *coordinator_t) set_state(s update_state_e) {
	if s == co.state {
		return
	}
	co.state = s
	log.Debug("update status", "state", UPDATE_STATE_NAMES[s])
	if co.publish_fn != nil {
		co.publish_fn("update_status", "", UPDATE_STATE_NAMES[s])
	}
}

func (co *coordinator_t) update_status() string {
	return UPDATE_STATE_NAMES[co.state]
}

func (co *coordinator_t) cp_plus_status() string {
	if co.cp_online {
		return "online"
	}
	return "waiting"
}
