package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Status buffer schemas and the bit field codec engine.
 *
 * Description: Every status buffer exchanged over the transport layer
 *		is a fixed ten byte preamble, two identifier bytes
 *		selecting the schema, then schema specific fields.
 *
 *		Each schema is a static table of
 *
 *			(name, byte offset, bit offset, bit width, codec)
 *
 *		entries describing the bits we understand.  Decode
 *		walks the table and produces a name -> value map.
 *		Encode goes the other way, but critically it starts
 *		from the most recently received buffer of the same
 *		family and overlays only the requested fields, so every
 *		bit we do NOT understand round-trips untouched.  The
 *		CP Plus rejects buffers where the undocumented bits
 *		have been zeroed.
 *
 *		Offsets are relative to the first byte after the two
 *		identifier bytes.  Multi byte fields are little endian.
 *
 *		The preamble, identifier pairs and field layouts were
 *		taken from bus captures of the original iNet box.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/log"
)

/* Shared verbatim by every status buffer, both directions. */

var BUFFER_PREAMBLE = []byte{0x00, 0x1E, 0x00, 0x00, 0x22, 0xFF, 0xFF, 0xFF, 0x54, 0x01}

const BUFFER_HEADER_LEN = 12 /* Preamble plus the two schema id bytes. */

type codec_e int

const (
	CODEC_UINT codec_e = iota /* Plain little endian unsigned integer. */
	CODEC_TEMP                /* Tenths of Kelvin, offset 273.15; raw 0 means off. */
	CODEC_ENUM                /* Fixed value <-> name table. */
	CODEC_BCD                 /* Two decimal digits per byte. */
	CODEC_BYTE                /* Pass-through, rendered as hex. */
)

type field_t struct {
	name        string
	byte_offset int
	bit_offset  int
	bit_width   int
	codec       codec_e
	enum        map[uint64]string /* CODEC_ENUM only. */
}

type schema_t struct {
	id_a, id_b byte
	name       string
	family     string /* Buffers in one family overlay each other. */
	length     int    /* Payload bytes after the id pair. */
	fields     []field_t
}

var ENUM_HEATING_MODE = map[uint64]string{0: "off", 1: "eco", 2: "high"}
var ENUM_ENERGY_MIX = map[uint64]string{0: "none", 1: "gas", 2: "electricity", 3: "mix"}

var SCHEMA_DISPLAY = &schema_t{
	id_a: 0x14, id_b: 0x33,
	name:   "display_status",
	family: "heater",
	length: 20,
	fields: []field_t{
		{name: "target_temp_room", byte_offset: 0, bit_width: 16, codec: CODEC_TEMP},
		{name: "target_temp_water", byte_offset: 2, bit_width: 16, codec: CODEC_TEMP},
		{name: "el_power_level", byte_offset: 4, bit_width: 16, codec: CODEC_UINT},
		{name: "heating_mode", byte_offset: 6, bit_width: 8, codec: CODEC_ENUM, enum: ENUM_HEATING_MODE},
		{name: "energy_mix", byte_offset: 7, bit_width: 8, codec: CODEC_ENUM, enum: ENUM_ENERGY_MIX},
		{name: "current_temp_room", byte_offset: 8, bit_width: 16, codec: CODEC_TEMP},
		{name: "current_temp_water", byte_offset: 10, bit_width: 16, codec: CODEC_TEMP},
		{name: "operating_status", byte_offset: 12, bit_width: 8, codec: CODEC_BYTE},
		{name: "error_code", byte_offset: 13, bit_width: 16, codec: CODEC_UINT},
		{name: "fan_level", byte_offset: 15, bit_width: 8, codec: CODEC_UINT},
		/* Bytes 16..19 undocumented, preserved. */
	},
}

/* The subset the slave is allowed to write back.  Field offsets match
 * SCHEMA_DISPLAY so an overlay on the last display buffer is exactly a
 * truncation plus the changed fields. */

var SCHEMA_CONTROL = &schema_t{
	id_a: 0x0C, id_b: 0x32,
	name:   "control_status",
	family: "heater",
	length: 12,
	fields: []field_t{
		{name: "target_temp_room", byte_offset: 0, bit_width: 16, codec: CODEC_TEMP},
		{name: "target_temp_water", byte_offset: 2, bit_width: 16, codec: CODEC_TEMP},
		{name: "el_power_level", byte_offset: 4, bit_width: 16, codec: CODEC_UINT},
		{name: "heating_mode", byte_offset: 6, bit_width: 8, codec: CODEC_ENUM, enum: ENUM_HEATING_MODE},
		{name: "energy_mix", byte_offset: 7, bit_width: 8, codec: CODEC_ENUM, enum: ENUM_ENERGY_MIX},
		/* Bytes 8..11 undocumented, preserved. */
	},
}

var SCHEMA_CLOCK = &schema_t{
	id_a: 0x15, id_b: 0x36,
	name:   "clock",
	family: "clock",
	length: 8,
	fields: []field_t{
		{name: "wall_time_hours", byte_offset: 0, bit_width: 8, codec: CODEC_BCD},
		{name: "wall_time_minutes", byte_offset: 1, bit_width: 8, codec: CODEC_BCD},
		{name: "wall_time_seconds", byte_offset: 2, bit_width: 8, codec: CODEC_BCD},
		{name: "clock_mode", byte_offset: 3, bit_width: 8, codec: CODEC_BYTE},
		/* Bytes 4..7 undocumented, preserved. */
	},
}

var SCHEMA_IDENTITY = &schema_t{
	id_a: 0x0B, id_b: 0x31,
	name:   "identity",
	family: "identity",
	length: 12,
	fields: []field_t{
		{name: "hw_version_major", byte_offset: 0, bit_width: 8, codec: CODEC_UINT},
		{name: "hw_version_minor", byte_offset: 1, bit_width: 8, codec: CODEC_UINT},
		{name: "sw_version_major", byte_offset: 2, bit_width: 8, codec: CODEC_UINT},
		{name: "sw_version_minor", byte_offset: 3, bit_width: 8, codec: CODEC_UINT},
		/* Bytes 4..11: serial number, preserved verbatim. */
	},
}

var SCHEMAS = []*schema_t{SCHEMA_DISPLAY, SCHEMA_CONTROL, SCHEMA_CLOCK, SCHEMA_IDENTITY}

func schema_lookup(id_a byte, id_b byte) *schema_t {
	for _, s := range SCHEMAS {
		if s.id_a == id_a && s.id_b == id_b {
			return s
		}
	}
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:        get_bits / set_bits
 *
 * Purpose:     Extract or insert a little endian bit field in a
 *		payload byte slice.
 *
 *-----------------------------------------------------------------*/

func get_bits(payload []byte, f *field_t) uint64 {
	var v uint64
	var pos = f.byte_offset*8 + f.bit_offset
	for i := 0; i < f.bit_width; i++ {
		var bit = (payload[(pos+i)/8] >> ((pos + i) % 8)) & 1
		v |= uint64(bit) << i
	}
	return v
}

func set_bits(payload []byte, f *field_t, v uint64) {
	var pos = f.byte_offset*8 + f.bit_offset
	for i := 0; i < f.bit_width; i++ {
		var idx = (pos + i) / 8
		var shift = (pos + i) % 8
		if v>>i&1 != 0 {
			payload[idx] |= 1 << shift
		} else {
			payload[idx] &^= 1 << shift
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        field render / parse
 *
 * Purpose:     Map a raw field value to its textual form and back.
 *		These are the values that appear on the telemetry
 *		streams and in set-requests.
 *
 *-----------------------------------------------------------------*/

func (f *field_t) render(raw uint64) string {
	switch f.codec {
	case CODEC_TEMP:
		return temp_render(raw)
	case CODEC_ENUM:
		if name, ok := f.enum[raw]; ok {
			return name
		}
		return strconv.FormatUint(raw, 10)
	case CODEC_BCD:
		return strconv.FormatUint(raw>>4*10+raw&0x0F, 10)
	case CODEC_BYTE:
		return fmt.Sprintf("0x%02x", raw)
	default:
		return strconv.FormatUint(raw, 10)
	}
}

func (f *field_t) parse(s string) (uint64, error) {
	switch f.codec {
	case CODEC_TEMP:
		return temp_parse(s)
	case CODEC_ENUM:
		for raw, name := range f.enum {
			if name == s {
				return raw, nil
			}
		}
		return 0, fmt.Errorf("%w: %q is not one of the allowed names for %s", ErrBadValue, s, f.name)
	case CODEC_BCD:
		var v, err = strconv.ParseUint(s, 10, 8)
		if err != nil || v > 99 {
			return 0, fmt.Errorf("%w: %q is not a two digit number", ErrBadValue, s)
		}
		return v/10<<4 | v%10, nil
	default:
		var v, err = strconv.ParseUint(s, 10, f.bit_width)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, s)
		}
		return v, nil
	}
}

/* Temperatures travel as tenths of Kelvin offset by 273.15, with raw 0
 * reserved for "off".  Encode truncates, decode rounds to one decimal;
 * the pair is stable under round-tripping. */

func temp_render(raw uint64) string {
	if raw == 0 {
		return "0"
	}
	var c = math.Round((float64(raw)/10-273.15)*10) / 10
	return strconv.FormatFloat(c, 'f', -1, 64)
}

func temp_parse(s string) (uint64, error) {
	var c, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a temperature", ErrBadValue, s)
	}
	if c == 0 {
		return 0, nil
	}
	if c < 0 {
		return 0, fmt.Errorf("%w: negative temperature %q", ErrBadValue, s)
	}
	return uint64((c + 273.15) * 10), nil
}

/*-------------------------------------------------------------------
 *
 * Name:        buffer_store_t
 *
 * Purpose:     Hold the last inbound raw buffer per family and build
 *		outbound buffers as overlays on it.
 *
 *-----------------------------------------------------------------*/

type buffer_store_t struct {
	last map[string][]byte
}

func buffer_store_new() *buffer_store_t {
	return &buffer_store_t{last: make(map[string][]byte)}
}

/*-------------------------------------------------------------------
 *
 * Name:        buffer_decode
 *
 * Purpose:     Decode an inbound status buffer and remember it as the
 *		family snapshot.
 *
 * Returns:	The schema and the name -> value map, or an error for
 *		an unknown id pair or a short buffer.
 *
 *-----------------------------------------------------------------*/

func (bs *buffer_store_t) buffer_decode(buf []byte) (*schema_t, map[string]string, error) {
	if len(buf) < BUFFER_HEADER_LEN {
		return nil, nil, fmt.Errorf("status buffer too short: %d bytes", len(buf))
	}

	var schema = schema_lookup(buf[10], buf[11])
	if schema == nil {
		return nil, nil, fmt.Errorf("unknown status buffer id (0x%02x, 0x%02x)", buf[10], buf[11])
	}
	if len(buf) < BUFFER_HEADER_LEN+schema.length {
		return nil, nil, fmt.Errorf("%s buffer truncated: %d bytes", schema.name, len(buf))
	}

	bs.last[schema.family] = append([]byte(nil), buf...)

	var payload = buf[BUFFER_HEADER_LEN:]
	var values = make(map[string]string, len(schema.fields))
	for i := range schema.fields {
		var f = &schema.fields[i]
		values[f.name] = f.render(get_bits(payload, f))
	}
	return schema, values, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        buffer_encode
 *
 * Purpose:     Build an outbound buffer for a schema: the last seen
 *		inbound buffer of the family, truncated or padded to
 *		the schema length, ids swapped, requested fields
 *		overlaid.  Untouched bits are byte identical to the
 *		snapshot.
 *
 * Inputs:	schema	- Which buffer to produce.
 *		overlay	- Raw field values to set, keyed by field name.
 *			  Names not in the schema are ignored with a
 *			  warning (they belong to another schema).
 *
 *-----------------------------------------------------------------*/

func (bs *buffer_store_t) buffer_encode(schema *schema_t, overlay map[string]uint64) []byte {
	var out = make([]byte, BUFFER_HEADER_LEN+schema.length)
	copy(out, BUFFER_PREAMBLE)
	out[10] = schema.id_a
	out[11] = schema.id_b

	if base, ok := bs.last[schema.family]; ok {
		copy(out[BUFFER_HEADER_LEN:], base[BUFFER_HEADER_LEN:])
	}

	var payload = out[BUFFER_HEADER_LEN:]
	for name, raw := range overlay {
		var f = schema_field(schema, name)
		if f == nil {
			log.Warn("overlay field not in schema", "schema", schema.name, "field", name)
			continue
		}
		set_bits(payload, f, raw)
	}
	return out
}

func schema_field(schema *schema_t, name string) *field_t {
	for i := range schema.fields {
		if schema.fields[i].name == name {
			return &schema.fields[i]
		}
	}
	return nil
}
