package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	LIN frame codec.  Bytes from the wire in, validated
 *		frames out, response bytes back onto the wire.
 *
 * Description: A LIN frame on the wire is
 *
 *			* Break - at least 13 dominant bit times.
 *			* Sync  - 0x55.
 *			* PID   - 6 bit identifier plus 2 parity bits.
 *			* Data  - 0..8 bytes, supplied by master or slave.
 *			* Checksum - one byte, classic or enhanced.
 *
 *		The master transmits break, sync and PID ("the header").
 *		Whoever owns the identifier - possibly us - supplies
 *		data and checksum ("the response").  Because LIN is a
 *		single wire bus we also read back our own responses,
 *		so the receive state machine runs over every byte
 *		regardless of who produced it.
 *
 *		Parity (LIN 2.x):
 *
 *			P0 = id0 ^ id1 ^ id2 ^ id4		-> bit 6
 *			P1 = ~(id1 ^ id3 ^ id4 ^ id5)		-> bit 7
 *
 *		Checksum is the one's complement of the carry folded
 *		sum over the data bytes (classic) or the PID byte plus
 *		the data bytes (enhanced).  Which one applies is fixed
 *		per identifier; see CHECKSUM_CLASSIC_IDS.
 *
 *---------------------------------------------------------------*/

import (
	"github.com/charmbracelet/log"
)

const LIN_SYNC byte = 0x55

const LIN_ID_MASK byte = 0x3F

/* Identifiers scheduled by the CP Plus that we care about. */

const LIN_ID_STATUS = 0x18        /* Slave answers; bit0 of byte0 advertises a pending update. */
const LIN_ID_DISPLAY_1 = 0x20     /* Master broadcast, display status. */
const LIN_ID_DISPLAY_2 = 0x21     /* Master broadcast. */
const LIN_ID_DISPLAY_3 = 0x22     /* Master broadcast. */
const LIN_ID_DIAG_REQUEST = 0x3C  /* Diagnostic master request. */
const LIN_ID_DIAG_RESPONSE = 0x3D /* Diagnostic slave response. */

/* Identifiers using the classic checksum.  Everything else is enhanced.
 * This table was lifted from bus captures of the original device and is
 * deliberately not derived from the LIN standard. */

var CHECKSUM_CLASSIC_IDS = map[byte]bool{
	LIN_ID_STATUS:        true,
	LIN_ID_DIAG_REQUEST:  true,
	LIN_ID_DIAG_RESPONSE: true,
}

/*-------------------------------------------------------------------
 *
 * Name:        pid_encode
 *
 * Purpose:     Compute the protected identifier for a 6 bit id.
 *
 *-----------------------------------------------------------------*/

func pid_encode(id byte) byte {
	id &= LIN_ID_MASK

	var p0 = (id ^ (id >> 1) ^ (id >> 2) ^ (id >> 4)) & 1
	var p1 = ^((id >> 1) ^ (id >> 3) ^ (id >> 4) ^ (id >> 5)) & 1

	return id | p0<<6 | p1<<7
}

/*-------------------------------------------------------------------
 *
 * Name:        pid_check
 *
 * Purpose:     True if the parity bits of a received PID byte hold.
 *
 *-----------------------------------------------------------------*/

func pid_check(pid byte) bool {
	return pid_encode(pid&LIN_ID_MASK) == pid
}

/*-------------------------------------------------------------------
 *
 * Name:        checksum_classic / checksum_enhanced
 *
 * Purpose:     LIN checksums.  Sum with carry folding, then invert.
 *
 *-----------------------------------------------------------------*/

func checksum_classic(data []byte) byte {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
		if sum > 0xFF {
			sum -= 0xFF
		}
	}
	return byte(^sum)
}

func checksum_enhanced(pid byte, data []byte) byte {
	var sum = uint16(pid)
	for _, b := range data {
		sum += uint16(b)
		if sum > 0xFF {
			sum -= 0xFF
		}
	}
	return byte(^sum)
}

// checksum_for picks the variant dictated by the identifier.
func checksum_for(id byte, data []byte) byte {
	if CHECKSUM_CLASSIC_IDS[id] {
		return checksum_classic(data)
	}
	return checksum_enhanced(pid_encode(id), data)
}

/*-------------------------------------------------------------------
 *
 * Name:        frame_data_len
 *
 * Purpose:     Number of response data bytes scheduled for an id.
 *
 * Description: The status and diagnostic identifiers all carry eight
 *		bytes.  For anything else nobody on this bus answers,
 *		so the header is immediately followed by the next
 *		break; we treat those as header only.
 *
 *-----------------------------------------------------------------*/

func frame_data_len(id byte) int {
	switch id {
	case LIN_ID_STATUS, LIN_ID_DISPLAY_1, LIN_ID_DISPLAY_2, LIN_ID_DISPLAY_3,
		LIN_ID_DIAG_REQUEST, LIN_ID_DIAG_RESPONSE:
		return 8
	}
	return 0
}

type frame_state_e int

const (
	FS_WAIT_BREAK frame_state_e = 0 /* Ignoring noise until the next break.  Zero value on purpose. */
	FS_WAIT_SYNC  frame_state_e = 1
	FS_WAIT_PID   frame_state_e = 2
	FS_DATA       frame_state_e = 3
	FS_CHECKSUM   frame_state_e = 4
)

/* Accumulated receive state and error counters. */

type frame_receiver_t struct {
	state frame_state_e

	id   byte
	data []byte
	need int

	/* header_fn fires as soon as a PID passes parity, before any data
	 * bytes arrive.  This is the moment a slave must decide whether to
	 * put its response on the wire. */
	header_fn func(id byte)

	/* frame_fn fires once data and checksum validated. */
	frame_fn func(id byte, data []byte)

	parity_errors   int
	checksum_errors int
	noise_bytes     int
}

func frame_receiver_new(header_fn func(byte), frame_fn func(byte, []byte)) *frame_receiver_t {
	return &frame_receiver_t{
		header_fn: header_fn,
		frame_fn:  frame_fn,
		data:      make([]byte, 0, 8),
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        frame_rec_byte
 *
 * Purpose:     Feed one byte from the wire into the receive state
 *		machine.
 *
 * Inputs:	b		- The byte.
 *
 *		break_seen	- True if the serial layer saw (or
 *				  inferred) a LIN break immediately
 *				  before this byte.  The byte itself is
 *				  the 0x00 read back from the break and
 *				  is consumed here.
 *
 * Description:	A break unconditionally resynchronizes.  Malformed
 *		frames are counted and dropped; the next break starts
 *		over.
 *
 *-----------------------------------------------------------------*/

func (fr *frame_receiver_t) frame_rec_byte(b byte, break_seen bool) {
	if break_seen {
		if fr.state == FS_DATA || fr.state == FS_CHECKSUM {
			log.Debug("frame cut short by break", "id", fr.id, "have", len(fr.data))
			fr.noise_bytes += len(fr.data)
		}
		fr.state = FS_WAIT_SYNC
		return
	}

	switch fr.state {

	case FS_WAIT_BREAK:
		fr.noise_bytes++

	case FS_WAIT_SYNC:
		if b == LIN_SYNC {
			fr.state = FS_WAIT_PID
		} else {
			/* Break followed by something that is not sync.
			 * Probably mid-frame garbage; wait for the next break. */
			fr.noise_bytes++
			fr.state = FS_WAIT_BREAK
		}

	case FS_WAIT_PID:
		if !pid_check(b) {
			fr.parity_errors++
			log.Debug("PID parity failure", "pid", b)
			fr.state = FS_WAIT_BREAK
			return
		}
		fr.id = b & LIN_ID_MASK
		fr.need = frame_data_len(fr.id)
		fr.data = fr.data[:0]

		if fr.header_fn != nil {
			fr.header_fn(fr.id)
		}

		if fr.need == 0 {
			fr.state = FS_WAIT_BREAK
		} else {
			fr.state = FS_DATA
		}

	case FS_DATA:
		fr.data = append(fr.data, b)
		if len(fr.data) == fr.need {
			fr.state = FS_CHECKSUM
		}

	case FS_CHECKSUM:
		if b != checksum_for(fr.id, fr.data) {
			fr.checksum_errors++
			log.Debug("checksum failure", "id", fr.id, "got", b)
			fr.state = FS_WAIT_BREAK
			return
		}
		if fr.frame_fn != nil {
			fr.frame_fn(fr.id, fr.data)
		}
		fr.state = FS_WAIT_BREAK
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        frame_response
 *
 * Purpose:     Build the bytes a slave writes after a header it
 *		answers: data plus checksum.  Never break, sync or
 *		PID - the master owns those.
 *
 *-----------------------------------------------------------------*/

func frame_response(id byte, data []byte) []byte {
	var out = make([]byte, 0, len(data)+1)
	out = append(out, data...)
	out = append(out, checksum_for(id, data))
	return out
}
