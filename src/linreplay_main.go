package inetbox

/*------------------------------------------------------------------
 *
 * Purpose:   	Entry point for linreplay: decode a recorded bus log
 *		through the live protocol stack.
 *
 * Description: Runs the frame codec, transport layer, slave dispatch
 *		and buffer decode exactly as on the wire, except that
 *		responses go nowhere.  Every accepted frame and every
 *		decoded status is printed, which is usually all that is
 *		needed to chase a decode bug from a capture somebody
 *		mailed in.
 *
 *		Exit status 0 on clean EOF, 1 on I/O error.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

func LinReplayMain() {
	var file = pflag.StringP("file", "f", "", "Log file to replay. Required.")
	var first = pflag.IntP("first", "F", REPLAY_FIRST_DEFAULT, "Index of the first hex byte field on each line.")
	var last = pflag.IntP("last", "L", REPLAY_LAST_DEFAULT, "Index one past the last hex byte field; negative counts from the end of the line.")
	var verbose = pflag.BoolP("verbose", "v", false, "Verbose. Show skipped lines and transport errors.")

	pflag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if *file == "" {
		pflag.Usage()
		os.Exit(1)
	}

	var store = buffer_store_new()
	var sv = slave_new(store, func([]byte) { /* Replay never writes. */ })
	sv.status_fn = func(stream string, values map[string]string) {
		for k, v := range values {
			fmt.Printf("%s %s=%s\n", stream, k, v)
		}
	}

	var fr = frame_receiver_new(
		sv.slave_header,
		func(id byte, data []byte) {
			fmt.Println(monitor_format_frame(id, data))
			sv.slave_frame(id, data, time.Now())
		},
	)

	if err := replay_file(*file, *first, *last, fr); err != nil {
		log.Error("replay", "file", *file, "err", err)
		os.Exit(1)
	}

	fmt.Printf("%d parity errors, %d checksum errors, %d reassembly errors\n",
		fr.parity_errors, fr.checksum_errors, sv.tp.reassembly_errors)
}
