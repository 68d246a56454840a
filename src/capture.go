package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Bus capture log.
 *
 * Description: One line per validated frame, appended to a daily
 *		file.  The line format is exactly what the replay
 *		reader expects with its default slice indices:
 *
 *		  <timestamp> <pid> <data bytes...> <checksum> <variant> ok
 *
 *		so yesterday's capture feeds straight back through
 *		linreplay when chasing a decode bug.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

const CAPTURE_FILE_PATTERN = "inetbox-%Y-%m-%d.log"

type capture_t struct {
	directory string
	pattern   *strftime.Strftime

	current_name string
	fp           *os.File
}

func capture_new(directory string) (*capture_t, error) {
	var pattern, err = strftime.New(CAPTURE_FILE_PATTERN)
	if err != nil {
		return nil, err
	}
	return &capture_t{directory: directory, pattern: pattern}, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        capture_frame
 *
 * Purpose:     Append one validated frame.  Rolls to a new file at
 *		midnight.  Capture failures are logged and disable
 *		further capture; they never take the emulator down.
 *
 *-----------------------------------------------------------------*/

func (cp *capture_t) capture_frame(id byte, data []byte, now time.Time) {
	if cp == nil || cp.pattern == nil {
		return
	}

	var name = filepath.Join(cp.directory, cp.pattern.FormatString(now))
	if name != cp.current_name {
		if cp.fp != nil {
			cp.fp.Close()
		}
		var fp, err = os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Error("capture disabled", "err", err)
			cp.pattern = nil
			return
		}
		cp.fp = fp
		cp.current_name = name
		log.Info("capturing bus traffic", "file", name)
	}

	var variant = "enhanced"
	if CHECKSUM_CLASSIC_IDS[id] {
		variant = "classic"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %02X", now.Format("15:04:05.000"), pid_encode(id))
	for _, b := range data {
		fmt.Fprintf(&sb, " %02X", b)
	}
	fmt.Fprintf(&sb, " %02X %s ok\n", checksum_for(id, data), variant)

	if _, err := cp.fp.WriteString(sb.String()); err != nil {
		log.Error("capture disabled", "err", err)
		cp.pattern = nil
	}
}

func (cp *capture_t) capture_close() {
	if cp != nil && cp.fp != nil {
		cp.fp.Close()
	}
}
