package inetbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type update_fixture struct {
	fx *slave_fixture
	co *coordinator_t

	published []struct{ stream, key, value string }
}

func update_new_fixture() *update_fixture {
	var ufx = &update_fixture{fx: slave_new_fixture()}
	ufx.co = coordinator_new(ufx.fx.sv, ufx.fx.store, config_default(), func(stream string, key string, value string) {
		ufx.published = append(ufx.published, struct{ stream, key, value string }{stream, key, value})
	})
	ufx.fx.sv.status_fn = ufx.co.note_status
	return ufx
}

func (ufx *update_fixture) published_values(stream string) []string {
	var out []string
	for _, p := range ufx.published {
		if p.stream == stream {
			out = append(out, p.value)
		}
	}
	return out
}

// Deliver an inbound display buffer so there is a snapshot to overlay.
func (ufx *update_fixture) seed_display(t *testing.T) map[string]string {
	var payload = make([]byte, SCHEMA_DISPLAY.length)
	var water, _ = temp_parse("40")
	payload[2] = byte(water)
	payload[3] = byte(water >> 8)
	payload[9] = 0x77 // undocumented content that must survive
	payload[11] = 0x33

	var _, values, err = ufx.fx.store.buffer_decode(raw_buffer(SCHEMA_DISPLAY, payload))
	assert.NoError(t, err)
	ufx.co.note_status("display_status", values)
	return values
}

func (ufx *update_fixture) go_online(now time.Time) {
	ufx.co.master_seen(now)
	ufx.co.coordinator_tick(now)
}

func Test_set_workflow(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.apply("heating_mode", "eco", now.Add(200*time.Millisecond))
	assert.Equal(t, "waiting_commit", ufx.co.update_status())

	// Debounce restarted by the second write: not committed yet.
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))
	assert.Equal(t, "waiting_commit", ufx.co.update_status())

	ufx.co.coordinator_tick(now.Add(1300 * time.Millisecond))
	assert.Equal(t, "waiting_truma", ufx.co.update_status())
	assert.True(t, ufx.fx.sv.update_pending)

	// 0x18 poll advertises the pending update.
	ufx.fx.sv.slave_header(LIN_ID_STATUS)
	assert.Equal(t, byte(0x01), ufx.fx.wire[len(ufx.fx.wire)-1][0]&0x01)

	// The master pulls the control buffer.
	var responses = ufx.fx.exchange([]byte{0x03, 0x03, 0xBA, 0x0C, 0x32, 0xFF, 0xFF, 0xFF})
	assert.NotEmpty(t, responses)
	assert.Equal(t, "idle", ufx.co.update_status())
	assert.False(t, ufx.fx.sv.update_pending)

	// Exactly the two changes, overlaid on the seeded display buffer.
	var check = tp_new_fixture()
	for _, seg := range responses {
		check.tp.transport_receive(seg[:8], time.Now())
	}
	var buf = check.pdus[0].payload
	var bs = buffer_store_new()
	var _, values, err = bs.buffer_decode(buf)
	assert.NoError(t, err)
	assert.Equal(t, "20", values["target_temp_room"])
	assert.Equal(t, "eco", values["heating_mode"])
	assert.Equal(t, "40", values["target_temp_water"], "untouched field from the snapshot")
	assert.Equal(t, byte(0x77), buf[BUFFER_HEADER_LEN+9], "undocumented byte preserved")
	assert.Equal(t, byte(0x33), buf[BUFFER_HEADER_LEN+11], "undocumented byte preserved")

	// And a second batch goes around cleanly.
	var later = now.Add(time.Minute)
	ufx.go_online(later)
	ufx.co.apply("target_temp_water", "60", later)
	ufx.co.coordinator_tick(later.Add(1100 * time.Millisecond))
	assert.Equal(t, "waiting_truma", ufx.co.update_status())
}

func update_fixture_online(t *testing.T) *update_fixture {
	var ufx = update_new_fixture()
	ufx.seed_display(t)
	ufx.go_online(time.Now())
	return ufx
}

func Test_batch_produces_one_buffer(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.apply("target_temp_water", "60", now)
	ufx.co.apply("el_power_level", "900", now)
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))

	assert.Len(t, ufx.fx.sv.staged, 1, "one control buffer for the whole batch")
}

func Test_domain_rejection(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_water", "50", now)

	assert.Equal(t, "idle", ufx.co.update_status())
	assert.Empty(t, ufx.fx.sv.staged)
	assert.False(t, ufx.fx.sv.update_pending)

	var errors = ufx.published_values("error")
	assert.Len(t, errors, 1)
	assert.Contains(t, errors[0], "target_temp_water")
}

func Test_domain_rejection_does_not_kill_batch(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.apply("target_temp_room", "3", now) // rejected: below range
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))

	assert.Equal(t, "waiting_truma", ufx.co.update_status())
	var room, _ = temp_parse("20")
	assert.Equal(t, room, ufx.co.pending["target_temp_room"], "first write survives")
}

func Test_unknown_key_rejected(t *testing.T) {
	var ufx = update_fixture_online(t)

	ufx.co.apply("flux_capacitor", "1.21", time.Now())

	assert.Equal(t, "idle", ufx.co.update_status())
	assert.Len(t, ufx.published_values("error"), 1)
}

func Test_waiting_for_cp_plus(t *testing.T) {
	var ufx = update_new_fixture()
	ufx.seed_display(t)
	var now = time.Now()

	// Never heard from the master: held after debounce.
	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))
	assert.Equal(t, "waiting_for_cp_plus", ufx.co.update_status())
	assert.False(t, ufx.fx.sv.update_pending)

	// The CP Plus shows up: commit happens on the next tick.
	ufx.co.master_seen(now.Add(2 * time.Second))
	ufx.co.coordinator_tick(now.Add(2 * time.Second))
	assert.Equal(t, "waiting_truma", ufx.co.update_status())
	assert.True(t, ufx.fx.sv.update_pending)
}

func Test_cp_plus_online_window(t *testing.T) {
	var ufx = update_new_fixture()
	var now = time.Now()

	assert.Equal(t, "waiting", ufx.co.cp_plus_status())

	ufx.co.master_seen(now)
	ufx.co.coordinator_tick(now)
	assert.Equal(t, "online", ufx.co.cp_plus_status())

	ufx.co.coordinator_tick(now.Add(29 * time.Second))
	assert.Equal(t, "online", ufx.co.cp_plus_status())

	ufx.co.coordinator_tick(now.Add(31 * time.Second))
	assert.Equal(t, "waiting", ufx.co.cp_plus_status())

	assert.Equal(t, []string{"online", "waiting"}, ufx.published_values("cp_plus_status"))
}

func Test_pull_watchdog_warns_but_keeps_pending(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))
	assert.Equal(t, "waiting_truma", ufx.co.update_status())

	ufx.go_online(now.Add(5 * time.Second)) // keep the master online
	ufx.co.coordinator_tick(now.Add(12 * time.Second))

	assert.True(t, ufx.co.truma_warned)
	assert.True(t, ufx.fx.sv.update_pending, "never retracted; the master drives timing")
	assert.Equal(t, "waiting_truma", ufx.co.update_status())
}

func Test_room_temp_pulls_in_default_heating_mode(t *testing.T) {
	var ufx = update_fixture_online(t)

	ufx.co.apply("target_temp_room", "20", time.Now())

	assert.Equal(t, uint64(1), ufx.co.pending["heating_mode"], "eco by default")
}

func Test_room_temp_keeps_explicit_heating_mode(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("heating_mode", "high", now)
	ufx.co.apply("target_temp_room", "20", now)

	assert.Equal(t, uint64(2), ufx.co.pending["heating_mode"])
}

func Test_energy_mix_pulls_in_default_power(t *testing.T) {
	var ufx = update_fixture_online(t)

	ufx.co.apply("energy_mix", "electricity", time.Now())

	assert.Equal(t, uint64(900), ufx.co.pending["el_power_level"])
}

func Test_power_level_pulls_in_electricity(t *testing.T) {
	var ufx = update_fixture_online(t)

	ufx.co.apply("el_power_level", "1800", time.Now())

	assert.Equal(t, uint64(2), ufx.co.pending["energy_mix"])
}

func Test_power_zero_conflicts_with_mix(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("energy_mix", "electricity", now)
	ufx.co.apply("el_power_level", "0", now)

	assert.Len(t, ufx.published_values("error"), 1)
	assert.Equal(t, uint64(900), ufx.co.pending["el_power_level"], "rejected write left the default")
}

func Test_synthetic_mode(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("mode", "heat", now)
	assert.Equal(t, uint64(1), ufx.co.pending["heating_mode"])

	ufx.co.apply("mode", "off", now)
	assert.Equal(t, uint64(0), ufx.co.pending["heating_mode"])
	assert.Equal(t, uint64(0), ufx.co.pending["target_temp_room"])

	ufx.co.apply("mode", "lukewarm", now)
	assert.Len(t, ufx.published_values("error"), 1)
}

func Test_wall_time_staged_as_clock_buffer(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("wall_time_hours", "7", now)
	ufx.co.apply("wall_time_minutes", "45", now)
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))

	assert.Equal(t, uint64(0x07), ufx.co.pending_clock["wall_time_hours"])
	assert.Equal(t, uint64(0x45), ufx.co.pending_clock["wall_time_minutes"])

	var staged, ok = ufx.fx.sv.staged[[2]byte{0x15, 0x36}]
	assert.True(t, ok, "clock buffer staged")
	assert.Equal(t, byte(0x07), staged[BUFFER_HEADER_LEN])
	assert.Equal(t, byte(0x45), staged[BUFFER_HEADER_LEN+1])
}

func Test_wall_time_hours_domain(t *testing.T) {
	var ufx = update_fixture_online(t)

	ufx.co.apply("wall_time_hours", "24", time.Now())
	assert.Len(t, ufx.published_values("error"), 1)
}

func Test_submit_drain_queue(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.coordinator_submit("target_temp_room", "20")
	ufx.co.coordinator_submit("heating_mode", "eco")
	assert.Equal(t, "idle", ufx.co.update_status(), "nothing applied until the protocol loop drains")

	ufx.co.coordinator_drain(now)
	assert.Equal(t, "waiting_commit", ufx.co.update_status())
}

func Test_update_status_stream_sequence(t *testing.T) {
	var ufx = update_fixture_online(t)
	var now = time.Now()

	ufx.co.apply("target_temp_room", "20", now)
	ufx.co.coordinator_tick(now.Add(1100 * time.Millisecond))
	ufx.fx.exchange([]byte{0x03, 0x03, 0xBA, 0x0C, 0x32, 0xFF, 0xFF, 0xFF})

	assert.Equal(t, []string{"waiting_commit", "waiting_truma", "idle"}, ufx.published_values("update_status"))
}
