package inetbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// Assemble a raw buffer: preamble, id pair, payload.
func raw_buffer(schema *schema_t, payload []byte) []byte {
	var buf = append([]byte(nil), BUFFER_PREAMBLE...)
	buf = append(buf, schema.id_a, schema.id_b)
	return append(buf, payload...)
}

func Test_schema_lookup(t *testing.T) {
	assert.Equal(t, SCHEMA_DISPLAY, schema_lookup(0x14, 0x33))
	assert.Equal(t, SCHEMA_CONTROL, schema_lookup(0x0C, 0x32))
	assert.Nil(t, schema_lookup(0xAA, 0xBB))
}

func Test_decode_unknown_id(t *testing.T) {
	var bs = buffer_store_new()
	var buf = raw_buffer(&schema_t{id_a: 0x77, id_b: 0x88}, make([]byte, 4))

	var _, _, err = bs.buffer_decode(buf)
	assert.Error(t, err)
}

func Test_decode_truncated(t *testing.T) {
	var bs = buffer_store_new()
	var buf = raw_buffer(SCHEMA_DISPLAY, make([]byte, 4))

	var _, _, err = bs.buffer_decode(buf)
	assert.Error(t, err)
}

func Test_decode_display(t *testing.T) {
	var bs = buffer_store_new()

	var payload = make([]byte, SCHEMA_DISPLAY.length)
	var room, _ = temp_parse("20")
	payload[0] = byte(room)
	payload[1] = byte(room >> 8)
	var water, _ = temp_parse("60")
	payload[2] = byte(water)
	payload[3] = byte(water >> 8)
	payload[4] = 0x84 // 900 W little endian
	payload[5] = 0x03
	payload[6] = 1 // eco
	payload[7] = 2 // electricity

	var schema, values, err = bs.buffer_decode(raw_buffer(SCHEMA_DISPLAY, payload))
	assert.NoError(t, err)
	assert.Equal(t, SCHEMA_DISPLAY, schema)
	assert.Equal(t, "20", values["target_temp_room"])
	assert.Equal(t, "60", values["target_temp_water"])
	assert.Equal(t, "900", values["el_power_level"])
	assert.Equal(t, "eco", values["heating_mode"])
	assert.Equal(t, "electricity", values["energy_mix"])
	assert.Equal(t, "0", values["current_temp_room"]) // raw 0 means off/absent
}

func Test_encode_starts_from_template_when_no_snapshot(t *testing.T) {
	var bs = buffer_store_new()

	var buf = bs.buffer_encode(SCHEMA_CONTROL, map[string]uint64{"heating_mode": 1})

	assert.Len(t, buf, BUFFER_HEADER_LEN+SCHEMA_CONTROL.length)
	assert.Equal(t, BUFFER_PREAMBLE, buf[:10])
	assert.Equal(t, byte(0x0C), buf[10])
	assert.Equal(t, byte(0x32), buf[11])
	assert.Equal(t, byte(1), buf[BUFFER_HEADER_LEN+6])
}

// The preserve-unknown rule, property style: whatever the inbound
// display buffer held, an encode overlays exactly the requested fields
// and leaves every other bit byte-identical.
func Test_encode_preserves_unknown_bits(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var bs = buffer_store_new()

		var payload = rapid.SliceOfN(rapid.Byte(), SCHEMA_DISPLAY.length, SCHEMA_DISPLAY.length).Draw(t, "payload")
		var base = raw_buffer(SCHEMA_DISPLAY, payload)
		var _, base_values, err = bs.buffer_decode(base)
		assert.NoError(t, err)

		var room, _ = temp_parse(rapid.SampledFrom([]string{"0", "5", "18", "30"}).Draw(t, "room"))
		var overlay = map[string]uint64{
			"target_temp_room": room,
			"heating_mode":     uint64(rapid.IntRange(0, 2).Draw(t, "mode")),
		}

		var out = bs.buffer_encode(SCHEMA_CONTROL, overlay)

		// Header: preamble verbatim, control ids.
		assert.Equal(t, BUFFER_PREAMBLE, out[:10])
		assert.Equal(t, byte(0x0C), out[10])
		assert.Equal(t, byte(0x32), out[11])

		// Overlaid fields decode to the requested values; everything
		// else decodes to what the display buffer held.
		var out_payload = out[BUFFER_HEADER_LEN:]
		for i := range SCHEMA_CONTROL.fields {
			var f = &SCHEMA_CONTROL.fields[i]
			if raw, touched := overlay[f.name]; touched {
				assert.Equal(t, raw, get_bits(out_payload, f), f.name)
			} else {
				assert.Equal(t, base_values[f.name], f.render(get_bits(out_payload, f)), f.name)
			}
		}

		// Undocumented bytes 8..11 are preserved bit for bit.
		assert.Equal(t, payload[8:SCHEMA_CONTROL.length], out_payload[8:])
	})
}

func Test_temp_codec_roundtrip(t *testing.T) {
	for _, s := range []string{"0", "5", "20", "30", "40", "60", "200", "21.5", "18.1"} {
		var raw, err = temp_parse(s)
		assert.NoError(t, err, s)
		assert.Equal(t, s, temp_render(raw), s)
	}
}

func Test_temp_parse_rejects_garbage(t *testing.T) {
	var _, err = temp_parse("warm")
	assert.ErrorIs(t, err, ErrBadValue)

	_, err = temp_parse("-5")
	assert.ErrorIs(t, err, ErrBadValue)
}

func Test_bcd_codec(t *testing.T) {
	var f = &field_t{name: "wall_time_minutes", byte_offset: 0, bit_width: 8, codec: CODEC_BCD}

	var raw, err = f.parse("59")
	assert.NoError(t, err)
	assert.Equal(t, uint64(0x59), raw)
	assert.Equal(t, "59", f.render(raw))

	_, err = f.parse("123")
	assert.Error(t, err)
}

func Test_enum_codec(t *testing.T) {
	var f = schema_field(SCHEMA_CONTROL, "energy_mix")

	var raw, err = f.parse("mix")
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), raw)
	assert.Equal(t, "mix", f.render(3))

	_, err = f.parse("diesel")
	assert.ErrorIs(t, err, ErrBadValue)

	// Unknown raw values render numeric rather than exploding.
	assert.Equal(t, "9", f.render(9))
}

func Test_get_set_bits_subbyte(t *testing.T) {
	var payload = make([]byte, 2)
	var f = &field_t{name: "x", byte_offset: 0, bit_offset: 3, bit_width: 5}

	set_bits(payload, f, 0x15)
	assert.Equal(t, uint64(0x15), get_bits(payload, f))

	// Neighbouring bits untouched.
	assert.Zero(t, payload[0]&0x07)
}
