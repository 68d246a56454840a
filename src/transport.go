package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	LIN transport layer (a small subset of LIN TP).
 *
 * Description: Diagnostic PDUs longer than one frame are carried in
 *		segments over the 0x3C (master to slave) and 0x3D
 *		(slave to master) identifiers.  Each 8 byte frame is
 *
 *			NAD  PCI  [LEN]  payload...  (0xFF padding)
 *
 *		PCI high nibble:
 *
 *			0x0  single frame.      Low nibble = length <= 6.
 *			0x1  first frame.       Low nibble = length
 *			                        bits 11..8, next byte =
 *			                        bits 7..0, then 5 payload
 *			                        bytes.
 *			0x2  consecutive frame. Low nibble = sequence,
 *			                        first CF is 1, wraps
 *			                        15 -> 0, 6 payload bytes.
 *
 *		A reassembly session dies on anything that is not the
 *		expected consecutive frame, or after one second of
 *		silence.  The master drives all timing, so there is no
 *		retry here; it will simply ask again.
 *
 *---------------------------------------------------------------*/

import (
	"time"

	"github.com/charmbracelet/log"
)

const NAD_BROADCAST byte = 0x7F

const TP_PAD byte = 0xFF

const TP_SF_MAX = 6 /* Payload bytes in a single frame. */
const TP_FF_PAYLOAD = 5
const TP_CF_PAYLOAD = 6

const TP_RX_TIMEOUT = 1 * time.Second

const PCI_SINGLE = 0x0
const PCI_FIRST = 0x1
const PCI_CONSECUTIVE = 0x2

type transport_t struct {
	/* Our node address, owned by L3, read through here so an
	 * assign-NAD mid-session takes effect immediately. */
	nad_fn func() byte

	/* Delivery of an assembled PDU: (nad, sid, payload after sid). */
	pdu_fn func(nad byte, sid byte, payload []byte)

	/* Called when the last queued response segment has been handed
	 * out, i.e. the master has pulled everything we staged. */
	drained_fn func()

	rx_active   bool
	rx_nad      byte
	rx_len      int
	rx_seq      byte
	rx_buf      []byte
	rx_deadline time.Time

	tx_segments [][]byte

	reassembly_errors int
}

func transport_new(nad_fn func() byte, pdu_fn func(byte, byte, []byte)) *transport_t {
	return &transport_t{
		nad_fn: nad_fn,
		pdu_fn: pdu_fn,
	}
}

func (tp *transport_t) rx_cancel(why string) {
	if tp.rx_active {
		tp.reassembly_errors++
		log.Debug("reassembly cancelled", "why", why, "have", len(tp.rx_buf), "want", tp.rx_len)
	}
	tp.rx_active = false
	tp.rx_buf = nil
}

/*-------------------------------------------------------------------
 *
 * Name:        transport_receive
 *
 * Purpose:     Process the data bytes of a validated 0x3C frame.
 *
 * Inputs:	data	- Exactly eight bytes.
 *		now	- Monotonic-ish current time for the session
 *			  timeout.
 *
 *-----------------------------------------------------------------*/

func (tp *transport_t) transport_receive(data []byte, now time.Time) {
	if len(data) != 8 {
		return
	}

	var nad = data[0]
	if nad != tp.nad_fn() && nad != NAD_BROADCAST {
		/* Somebody else's diagnostic session. */
		tp.rx_cancel("frame for other NAD")
		return
	}

	var pci = data[1]

	switch pci >> 4 {

	case PCI_SINGLE:
		tp.rx_cancel("single frame during reassembly")
		var length = int(pci & 0x0F)
		if length < 1 || length > TP_SF_MAX {
			tp.reassembly_errors++
			log.Debug("bad SF length", "len", length)
			return
		}
		tp.deliver(nad, data[2:2+length])

	case PCI_FIRST:
		tp.rx_cancel("first frame during reassembly")
		var length = int(pci&0x0F)<<8 | int(data[2])
		if length <= TP_SF_MAX {
			tp.reassembly_errors++
			log.Debug("bad FF length", "len", length)
			return
		}
		tp.rx_active = true
		tp.rx_nad = nad
		tp.rx_len = length
		tp.rx_seq = 1
		tp.rx_buf = append([]byte(nil), data[3:3+TP_FF_PAYLOAD]...)
		tp.rx_deadline = now.Add(TP_RX_TIMEOUT)

	case PCI_CONSECUTIVE:
		if !tp.rx_active {
			tp.reassembly_errors++
			log.Debug("CF with no session in progress")
			return
		}
		if pci&0x0F != tp.rx_seq {
			tp.rx_cancel("CF sequence mismatch")
			return
		}
		tp.rx_seq = (tp.rx_seq + 1) & 0x0F

		var remaining = tp.rx_len - len(tp.rx_buf)
		if remaining > TP_CF_PAYLOAD {
			remaining = TP_CF_PAYLOAD
		}
		tp.rx_buf = append(tp.rx_buf, data[2:2+remaining]...)
		tp.rx_deadline = now.Add(TP_RX_TIMEOUT)

		if len(tp.rx_buf) >= tp.rx_len {
			var buf = tp.rx_buf
			tp.rx_active = false
			tp.rx_buf = nil
			tp.deliver(tp.rx_nad, buf)
		}

	default:
		tp.rx_cancel("unknown PCI")
		tp.reassembly_errors++
		log.Debug("unknown PCI", "pci", pci)
	}
}

func (tp *transport_t) deliver(nad byte, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if tp.pdu_fn != nil {
		tp.pdu_fn(nad, payload[0], payload[1:])
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        transport_check_timeout
 *
 * Purpose:     Kill a reassembly session that has gone quiet.
 *		Called on every pass of the main loop.
 *
 *-----------------------------------------------------------------*/

func (tp *transport_t) transport_check_timeout(now time.Time) {
	if tp.rx_active && now.After(tp.rx_deadline) {
		tp.rx_cancel("timeout")
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        transport_queue_response
 *
 * Purpose:     Segment an outbound PDU so it can be handed out one
 *		frame at a time as 0x3D headers arrive.
 *
 * Inputs:	nad	- Node address to stamp on every segment.
 *		payload	- SID followed by its data.
 *
 * Description:	Replaces anything previously queued.  The CP Plus
 *		never leaves two responses outstanding.
 *
 *-----------------------------------------------------------------*/

func (tp *transport_t) transport_queue_response(nad byte, payload []byte) {
	tp.tx_segments = tp.tx_segments[:0]

	if len(payload) <= TP_SF_MAX {
		var seg = make([]byte, 8)
		seg[0] = nad
		seg[1] = byte(PCI_SINGLE<<4) | byte(len(payload))
		copy(seg[2:], payload)
		pad(seg[2+len(payload):])
		tp.tx_segments = append(tp.tx_segments, seg)
		return
	}

	var ff = make([]byte, 8)
	ff[0] = nad
	ff[1] = byte(PCI_FIRST<<4) | byte(len(payload)>>8&0x0F)
	ff[2] = byte(len(payload))
	copy(ff[3:], payload[:TP_FF_PAYLOAD])
	tp.tx_segments = append(tp.tx_segments, ff)

	var seq byte = 1
	for off := TP_FF_PAYLOAD; off < len(payload); off += TP_CF_PAYLOAD {
		var cf = make([]byte, 8)
		cf[0] = nad
		cf[1] = byte(PCI_CONSECUTIVE<<4) | seq
		var n = copy(cf[2:], payload[off:min(off+TP_CF_PAYLOAD, len(payload))])
		pad(cf[2+n:])
		tp.tx_segments = append(tp.tx_segments, cf)
		seq = (seq + 1) & 0x0F
	}
}

func pad(b []byte) {
	for i := range b {
		b[i] = TP_PAD
	}
}

// transport_next_segment pops the next 8 byte block for a 0x3D header.
// Second return is false when nothing is queued (stay silent).
func (tp *transport_t) transport_next_segment() ([]byte, bool) {
	if len(tp.tx_segments) == 0 {
		return nil, false
	}
	var seg = tp.tx_segments[0]
	tp.tx_segments = tp.tx_segments[1:]
	if len(tp.tx_segments) == 0 && tp.drained_fn != nil {
		tp.drained_fn()
	}
	return seg, true
}

func (tp *transport_t) transport_tx_pending() bool {
	return len(tp.tx_segments) > 0
}
