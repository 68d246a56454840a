//go:build linux

package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Interface to the LIN UART.
 *
 * Description: The bus runs at 9600 baud 8N1.  Reads use a short
 *		timeout so the protocol loop can service timers and
 *		the set-request queue between bus events; writes block
 *		until the response bytes are out, which at 9600 baud
 *		is well inside a frame slot.
 *
 *		The UART must be exclusively ours.  A second emulator
 *		instance on the same device would fight the first for
 *		response slots, so the port is opened with TIOCEXCL
 *		semantics: we refuse to start if somebody holds the
 *		device, and nobody else can open it while we do.
 *
 *		Break detection: USB serial adapters in this role
 *		usually cannot report a LIN break.  A break read back
 *		through the UART appears as a 0x00 byte (the dominant
 *		pulse looks like a frame with no stop bit -> NUL), so a
 *		0x00 arriving after a stretch of bus idle is taken as
 *		the break.  The frame codec confirms it by requiring
 *		the 0x55 sync right after.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pkg/term"
	"golang.org/x/sys/unix"
)

const LIN_BAUD = 9600

const SERIAL_READ_TIMEOUT = 30 * time.Millisecond

/* Minimum bus idle before a 0x00 can be a break.  A back to back data
 * byte at 9600 baud takes ~1 ms; a real inter-frame gap is much longer. */

const BREAK_IDLE_MIN = 5 * time.Millisecond

type serial_port_t struct {
	t *term.Term

	/* Second descriptor on the same tty carrying the TIOCEXCL flag.
	 * pkg/term does not expose its fd, so the exclusivity lives here. */
	excl_fd int

	last_rx time.Time

	buf [64]byte
}

/*-------------------------------------------------------------------
 *
 * Name:        serial_port_open
 *
 * Purpose:     Open the UART raw at 9600 8N1 with a 30 ms read
 *		timeout and mark it exclusive.
 *
 * Returns:	The port, or an error the caller treats as fatal
 *		(supervisor restart territory).
 *
 *-----------------------------------------------------------------*/

func serial_port_open(devicename string) (*serial_port_t, error) {
	var t, err = term.Open(devicename, term.RawMode, term.Speed(LIN_BAUD), term.ReadTimeout(SERIAL_READ_TIMEOUT))
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", devicename, err)
	}

	var fd, openErr = unix.Open(devicename, unix.O_RDONLY|unix.O_NOCTTY, 0)
	if openErr != nil {
		t.Close()
		return nil, fmt.Errorf("opening %s for exclusive flag: %w", devicename, openErr)
	}
	if err := unix.IoctlSetInt(fd, unix.TIOCEXCL, 0); err != nil {
		unix.Close(fd)
		t.Close()
		return nil, fmt.Errorf("TIOCEXCL on %s: %w", devicename, err)
	}

	return &serial_port_t{t: t, excl_fd: fd}, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        serial_port_read
 *
 * Purpose:     Read whatever is available within the timeout.
 *
 * Returns:	data		- Possibly empty.
 *		break_seen	- True if the first byte is 0x00 and
 *				  was preceded by enough bus idle to
 *				  be a LIN break.
 *		err		- Only for real I/O failure; a timeout
 *				  is an empty read.
 *
 *-----------------------------------------------------------------*/

func (sp *serial_port_t) serial_port_read() ([]byte, bool, error) {
	var n, err = sp.t.Read(sp.buf[:])
	if n <= 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("serial read: %w", err)
	}

	var now = time.Now()
	var break_seen = sp.buf[0] == 0x00 &&
		(sp.last_rx.IsZero() || now.Sub(sp.last_rx) >= BREAK_IDLE_MIN)
	sp.last_rx = now

	return sp.buf[:n], break_seen, nil
}

func (sp *serial_port_t) serial_port_write(data []byte) error {
	var written, err = sp.t.Write(data)
	if err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	if written != len(data) {
		return fmt.Errorf("serial write: short write %d of %d", written, len(data))
	}
	return nil
}

func (sp *serial_port_t) serial_port_close() {
	unix.Close(sp.excl_fd)
	sp.t.Close()
}
