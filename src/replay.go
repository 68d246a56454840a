package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Feed a recorded bus log back through the frame codec
 *		as though it had just arrived from the wire.
 *
 * Description: Input lines look like
 *
 *		  <timestamp> <hex byte> ... <hex byte> <x> <x>
 *
 *		where a slice [first:last] selects the frame bytes
 *		(PID, data, checksum).  Negative last counts from the
 *		end, so the defaults first=1, last=-2 drop a leading
 *		timestamp and two trailing annotation fields - the
 *		format capture_frame writes.  Empty lines are skipped.
 *
 *		The recorded bytes start at the PID, so a synthetic
 *		break and sync are fed ahead of each line.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

const REPLAY_FIRST_DEFAULT = 1
const REPLAY_LAST_DEFAULT = -2

/*-------------------------------------------------------------------
 *
 * Name:        replay_file
 *
 * Purpose:     Replay a whole log file into a frame receiver.
 *
 * Returns:	nil on clean EOF.  I/O errors come back to the caller;
 *		lines that do not parse are logged and skipped, the
 *		same way line noise is skipped on the live bus.
 *
 *-----------------------------------------------------------------*/

func replay_file(path string, first int, last int, fr *frame_receiver_t) error {
	var fp, err = os.Open(path)
	if err != nil {
		return err
	}
	defer fp.Close()

	var scanner = bufio.NewScanner(fp)
	var lineno = 0
	for scanner.Scan() {
		lineno++
		if err := replay_line(scanner.Text(), first, last, fr); err != nil {
			log.Debug("replay line skipped", "line", lineno, "err", err)
		}
	}
	return scanner.Err()
}

/*-------------------------------------------------------------------
 *
 * Name:        replay_line
 *
 * Purpose:     Replay one log line.  Exposed separately so tests and
 *		other tools can feed single lines.
 *
 *-----------------------------------------------------------------*/

func replay_line(line string, first int, last int, fr *frame_receiver_t) error {
	var tokens = strings.Fields(line)
	if len(tokens) == 0 {
		return nil
	}

	var end = last
	if end < 0 {
		end += len(tokens)
	}
	if first < 0 || first >= end || end > len(tokens) {
		return fmt.Errorf("slice [%d:%d] out of range for %d fields", first, last, len(tokens))
	}

	var frame = make([]byte, 0, end-first)
	for _, tok := range tokens[first:end] {
		var b, err = strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return fmt.Errorf("bad hex byte %q: %w", tok, err)
		}
		frame = append(frame, byte(b))
	}

	/* The log starts at the PID; reconstruct the header. */
	fr.frame_rec_byte(0x00, true)
	fr.frame_rec_byte(LIN_SYNC, false)
	for _, b := range frame {
		fr.frame_rec_byte(b, false)
	}
	return nil
}
