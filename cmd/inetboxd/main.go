/* iNet box emulator daemon.

   Sits on the LIN bus of a CP Plus heating controller and behaves like
   the original Truma iNet box: answers the scheduled status polls,
   services the diagnostic transport, decodes the status buffers into
   telemetry and feeds user settings back to the controller.
*/
package main

import (
	inetbox "github.com/doismellburning/inetboxd/src"
)

func main() {
	inetbox.InetboxdMain()
}
