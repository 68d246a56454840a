package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	The iNet box slave proper: who answers which header
 *		with which bytes, and the diagnostic service dispatch.
 *
 * Description: The CP Plus is the only master.  We respond in-slot
 *		to the identifiers assigned to the iNet box and feed
 *		everything else upward:
 *
 *		0x18	answer 8 canned bytes, bit0 of byte0 set while
 *			an update is waiting to be pulled.
 *		0x20-22	master broadcast; used as the CP Plus liveness
 *			signal.  0x20 is decoded as live display data;
 *			0x21 and 0x22 are not decoded.
 *		0x3C	diagnostic request; into the transport layer.
 *		0x3D	diagnostic response; next queued segment, if any.
 *		other	canned bytes captured from the real device, if
 *			we have them; silence otherwise.
 *
 *		Diagnostic services (SID on an assembled PDU):
 *
 *		0xB0	assign NAD.
 *		0xB2	read by identifier; acknowledged empty.
 *		0xB9	alive check; answered 0x00.
 *		0xBA	upload request; we answer with a status buffer.
 *		0xBB	download; master delivers a status buffer.
 *
 *		A positive response always carries SID | 0x40.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"github.com/charmbracelet/log"
)

const DEFAULT_NAD byte = 0x03

const SID_ASSIGN_NAD byte = 0xB0
const SID_READ_BY_ID byte = 0xB2
const SID_ALIVE byte = 0xB9
const SID_UPLOAD byte = 0xBA
const SID_DOWNLOAD byte = 0xBB

const RSID_OFFSET byte = 0x40

/* LIN product identification used to match assign-NAD requests.
 * Captured from the reference device.  0x7FFF is the wildcard. */

const SUPPLIER_ID uint16 = 0x4617
const FUNCTION_ID uint16 = 0x4E42
const SUPPLIER_WILDCARD uint16 = 0x7FFF

/* Response to the 0x18 status poll, from a capture of the reference
 * device.  Only bit0 of byte0 is understood (update pending); the rest
 * are reproduced verbatim.  A deviation seen on a real bus is a bug
 * against this constant. */

var STATUS_18_CANNED = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

/* Live display broadcast frames.  Only 0x20 is documented well enough
 * to decode; 0x21 and 0x22 pass through to the monitor untouched. */

var FRAME_SCHEMAS = map[byte]*schema_t{
	LIN_ID_DISPLAY_1: {
		name:   "display_status",
		length: 8,
		fields: []field_t{
			{name: "current_temp_room", byte_offset: 0, bit_width: 16, codec: CODEC_TEMP},
			{name: "current_temp_water", byte_offset: 2, bit_width: 16, codec: CODEC_TEMP},
			{name: "error_code", byte_offset: 4, bit_width: 16, codec: CODEC_UINT},
			{name: "operating_status", byte_offset: 6, bit_width: 8, codec: CODEC_BYTE},
		},
	},
}

type slave_t struct {
	nad            byte
	update_pending bool

	tp    *transport_t
	store *buffer_store_t

	/* Puts response bytes on the wire.  Must complete within the
	 * frame slot; the serial layer's blocking write is fine at
	 * 9600 baud. */
	write_fn func([]byte)

	/* Decoded inbound status (buffer or live frame) for telemetry. */
	status_fn func(stream string, values map[string]string)

	/* Every valid 0x20-class frame, for the CP Plus liveness window. */
	master_seen_fn func(now time.Time)

	/* The staged update buffer was fully pulled by the master. */
	sent_fn func()

	/* Outbound status buffers staged by the update coordinator,
	 * keyed by schema id pair.  One slot per pair. */
	staged map[[2]byte][]byte

	/* True while the response queued on the transport layer is a
	 * staged update, so draining it clears update_pending. */
	drain_clears_pending bool

	/* Responses to other polled identifiers, captured from the
	 * reference device. */
	canned map[byte][]byte

	unknown_sids int
}

func slave_new(store *buffer_store_t, write_fn func([]byte)) *slave_t {
	var sv = &slave_t{
		nad:      DEFAULT_NAD,
		store:    store,
		write_fn: write_fn,
		staged:   make(map[[2]byte][]byte),
		canned:   make(map[byte][]byte),
	}
	sv.tp = transport_new(func() byte { return sv.nad }, sv.on_pdu)
	sv.tp.drained_fn = sv.on_drained
	return sv
}

/*-------------------------------------------------------------------
 *
 * Name:        slave_header
 *
 * Purpose:     React to a header the instant the PID validates.
 *		This is where the response goes on the wire.
 *
 *-----------------------------------------------------------------*/

func (sv *slave_t) slave_header(id byte) {
	switch id {

	case LIN_ID_STATUS:
		var data = append([]byte(nil), STATUS_18_CANNED...)
		data[0] &^= 0x01
		if sv.update_pending {
			data[0] |= 0x01
		}
		sv.write_fn(frame_response(id, data))

	case LIN_ID_DIAG_RESPONSE:
		if seg, ok := sv.tp.transport_next_segment(); ok {
			sv.write_fn(frame_response(id, seg))
		}

	case LIN_ID_DIAG_REQUEST, LIN_ID_DISPLAY_1, LIN_ID_DISPLAY_2, LIN_ID_DISPLAY_3:
		/* Master supplies the data; wait for slave_frame. */

	default:
		if data, ok := sv.canned[id]; ok {
			sv.write_fn(frame_response(id, data))
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        slave_frame
 *
 * Purpose:     React to a complete validated frame.
 *
 *-----------------------------------------------------------------*/

func (sv *slave_t) slave_frame(id byte, data []byte, now time.Time) {
	switch id {

	case LIN_ID_DIAG_REQUEST:
		sv.tp.transport_receive(data, now)

	case LIN_ID_DISPLAY_1, LIN_ID_DISPLAY_2, LIN_ID_DISPLAY_3:
		if sv.master_seen_fn != nil {
			sv.master_seen_fn(now)
		}
		if schema, ok := FRAME_SCHEMAS[id]; ok && sv.status_fn != nil {
			sv.status_fn(schema.name, frame_decode(schema, data))
		}
	}
}

func frame_decode(schema *schema_t, data []byte) map[string]string {
	var values = make(map[string]string, len(schema.fields))
	for i := range schema.fields {
		var f = &schema.fields[i]
		values[f.name] = f.render(get_bits(data, f))
	}
	return values
}

/*-------------------------------------------------------------------
 *
 * Name:        on_pdu
 *
 * Purpose:     Diagnostic service dispatch for an assembled PDU.
 *
 *-----------------------------------------------------------------*/

func (sv *slave_t) on_pdu(nad byte, sid byte, payload []byte) {
	switch sid {

	case SID_ALIVE:
		sv.queue_plain(sid, []byte{0x00})

	case SID_ASSIGN_NAD:
		sv.assign_nad(payload)

	case SID_READ_BY_ID:
		sv.queue_plain(sid, nil)

	case SID_UPLOAD:
		sv.upload_request(payload)

	case SID_DOWNLOAD:
		sv.download(payload)

	default:
		sv.unknown_sids++
		log.Warn("unknown SID", "sid", sid, "nad", nad, "len", len(payload))
	}
}

func (sv *slave_t) queue_plain(sid byte, data []byte) {
	sv.drain_clears_pending = false
	var payload = append([]byte{sid + RSID_OFFSET}, data...)
	sv.tp.transport_queue_response(sv.nad, payload)
}

/* Assign NAD: supplier id, function id (little endian), new NAD.
 * Only adopt the address if the request names us or the wildcard. */

func (sv *slave_t) assign_nad(payload []byte) {
	if len(payload) < 5 {
		log.Warn("short assign-NAD", "len", len(payload))
		return
	}
	var supplier = uint16(payload[0]) | uint16(payload[1])<<8
	var function = uint16(payload[2]) | uint16(payload[3])<<8

	if supplier != SUPPLIER_ID && supplier != SUPPLIER_WILDCARD {
		return
	}
	if function != FUNCTION_ID && function != SUPPLIER_WILDCARD {
		return
	}

	/* Respond with the old NAD, as the transport standard requires,
	 * then switch. */
	sv.queue_plain(SID_ASSIGN_NAD, nil)
	log.Info("NAD assigned", "old", sv.nad, "new", payload[4])
	sv.nad = payload[4]
}

/* Upload request: the master wants a status buffer with the given id
 * pair.  A staged update wins; otherwise encode the current state. */

func (sv *slave_t) upload_request(payload []byte) {
	if len(payload) < 2 {
		log.Warn("short upload request", "len", len(payload))
		return
	}
	var key = [2]byte{payload[0], payload[1]}

	if buf, ok := sv.staged[key]; ok {
		delete(sv.staged, key)
		sv.drain_clears_pending = true
		sv.tp.transport_queue_response(sv.nad, append([]byte{SID_UPLOAD + RSID_OFFSET}, buf...))
		return
	}

	var schema = schema_lookup(key[0], key[1])
	if schema == nil {
		log.Warn("upload request for unknown buffer id", "id_a", key[0], "id_b", key[1])
		return
	}
	var buf = sv.store.buffer_encode(schema, nil)
	sv.drain_clears_pending = false
	sv.tp.transport_queue_response(sv.nad, append([]byte{SID_UPLOAD + RSID_OFFSET}, buf...))
}

/* Download: the master delivers a status buffer. */

func (sv *slave_t) download(payload []byte) {
	var schema, values, err = sv.store.buffer_decode(payload)
	if err != nil {
		log.Warn("download rejected", "err", err)
		return
	}
	if sv.status_fn != nil {
		sv.status_fn(schema.name, values)
	}
	sv.queue_plain(SID_DOWNLOAD, nil)
}

func (sv *slave_t) on_drained() {
	if sv.drain_clears_pending {
		sv.drain_clears_pending = false
		if len(sv.staged) == 0 {
			sv.update_pending = false
		}
		if sv.sent_fn != nil {
			sv.sent_fn()
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        slave_stage_update
 *
 * Purpose:     Stage an outbound status buffer (from the update
 *		coordinator) and advertise it via the 0x18 bit.
 *
 *-----------------------------------------------------------------*/

func (sv *slave_t) slave_stage_update(buf []byte) {
	if len(buf) < BUFFER_HEADER_LEN {
		return
	}
	sv.staged[[2]byte{buf[10], buf[11]}] = buf
	sv.update_pending = true
}
